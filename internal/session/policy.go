// Package session tracks the age of a signed-in session and decides when it
// enters the warning window and when it expires.
package session

import "time"

const (
	// DefaultTimeoutMinutes applies when no valid timeout is configured.
	DefaultTimeoutMinutes = 30
	// MaxTimeoutMinutes is the longest accepted timeout, one week.
	MaxTimeoutMinutes = 7 * 24 * 60
	// DefaultWarn is how long before expiry the warning window opens.
	DefaultWarn = 5 * time.Minute
	// DefaultPollInterval is how often monitors re-evaluate a session.
	DefaultPollInterval = time.Minute
)

// State is the monitor state of a session.
type State int

const (
	StateActive State = iota
	StateWarning
	StateExpired
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateWarning:
		return "warning"
	case StateExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Policy holds the timeout and the warning window.
type Policy struct {
	Timeout time.Duration
	Warn    time.Duration
}

// ValidTimeoutMinutes reports whether minutes is a usable timeout.
func ValidTimeoutMinutes(minutes int) bool {
	return minutes > 0 && minutes <= MaxTimeoutMinutes
}

// NewPolicy builds a policy from a timeout in minutes. Values outside
// 1..MaxTimeoutMinutes fall back to DefaultTimeoutMinutes.
func NewPolicy(timeoutMinutes int) Policy {
	if !ValidTimeoutMinutes(timeoutMinutes) {
		timeoutMinutes = DefaultTimeoutMinutes
	}
	return Policy{Timeout: time.Duration(timeoutMinutes) * time.Minute, Warn: DefaultWarn}
}

// DefaultPolicy is the 30 minute policy.
func DefaultPolicy() Policy {
	return NewPolicy(DefaultTimeoutMinutes)
}

func (p Policy) normalized() Policy {
	if p.Timeout <= 0 {
		p.Timeout = time.Duration(DefaultTimeoutMinutes) * time.Minute
	}
	if p.Warn < 0 {
		p.Warn = 0
	}
	return p
}

// WarnAt is the elapsed time at which the warning window opens.
func (p Policy) WarnAt() time.Duration {
	p = p.normalized()
	if p.Warn >= p.Timeout {
		return 0
	}
	return p.Timeout - p.Warn
}

// State maps elapsed time since login to a monitor state.
func (p Policy) State(elapsed time.Duration) State {
	p = p.normalized()
	switch {
	case elapsed >= p.Timeout:
		return StateExpired
	case elapsed >= p.WarnAt():
		return StateWarning
	default:
		return StateActive
	}
}

// Remaining is the time left before expiry, never negative.
func (p Policy) Remaining(elapsed time.Duration) time.Duration {
	p = p.normalized()
	if elapsed >= p.Timeout {
		return 0
	}
	if elapsed < 0 {
		return p.Timeout
	}
	return p.Timeout - elapsed
}

// TimeoutMinutes reports the timeout rounded down to whole minutes.
func (p Policy) TimeoutMinutes() int {
	return int(p.normalized().Timeout / time.Minute)
}
