package session

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// PolicySource supplies the policy in force. Implementations must not block
// on the network.
type PolicySource interface {
	Policy(ctx context.Context) Policy
}

// StaticPolicy is a fixed PolicySource.
type StaticPolicy Policy

// Policy implements PolicySource.
func (p StaticPolicy) Policy(context.Context) Policy { return Policy(p) }

// TransitionObserver receives every state change of a monitor.
type TransitionObserver interface {
	ObserveSessionState(state string)
}

// Hooks are called outside the monitor lock after a transition.
type Hooks struct {
	// OnWarning fires when the session enters the warning window.
	OnWarning func(snap Snapshot, remaining time.Duration)
	// OnActive fires when an extension brings the session back from warning.
	OnActive func(snap Snapshot)
	// OnExpire fires once, after the session has been invalidated.
	OnExpire func(snap Snapshot)
}

// MonitorConfig configures a Monitor.
type MonitorConfig struct {
	Policy   PolicySource
	Clock    Clock
	Interval time.Duration
	Hooks    Hooks
	Observer TransitionObserver
	Logger   *slog.Logger
}

// Monitor re-evaluates one session on a fixed interval. Evaluation is level
// triggered: each check compares the elapsed time against the policy, so a
// late or skipped tick moves straight to the state that applies now.
type Monitor struct {
	sess *Session
	cfg  MonitorConfig

	mu      sync.Mutex
	state   State
	stopped bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewMonitor binds a monitor to sess.
func NewMonitor(sess *Session, cfg MonitorConfig) *Monitor {
	if cfg.Policy == nil {
		cfg.Policy = StaticPolicy(DefaultPolicy())
	}
	if cfg.Clock == nil {
		cfg.Clock = SystemClock
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultPollInterval
	}
	return &Monitor{sess: sess, cfg: cfg, state: StateActive}
}

// Session returns the monitored session.
func (m *Monitor) Session() *Session {
	return m.sess
}

// State returns the state observed by the last check.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Remaining reports the time left before expiry under the current policy.
func (m *Monitor) Remaining(ctx context.Context) time.Duration {
	snap := m.sess.Snapshot()
	if !snap.Valid {
		return 0
	}
	return m.cfg.Policy.Policy(ctx).Remaining(snap.Elapsed(m.cfg.Clock.Now()))
}

// Check evaluates the session now and fires the hooks for any transition.
// Repeated checks without elapsed time change are no-ops. Checks after Stop
// or after expiry return the last state and do nothing.
func (m *Monitor) Check(ctx context.Context) State {
	policy := m.cfg.Policy.Policy(ctx)
	now := m.cfg.Clock.Now()

	m.mu.Lock()
	if m.stopped || m.state == StateExpired {
		state := m.state
		m.mu.Unlock()
		return state
	}
	snap := m.sess.Snapshot()
	if !snap.Valid {
		// Ended elsewhere (logout); nothing left to announce.
		m.state = StateExpired
		m.mu.Unlock()
		return StateExpired
	}
	elapsed := snap.Elapsed(now)
	next := policy.State(elapsed)
	prev := m.state
	m.state = next

	var fire func()
	switch {
	case next == StateExpired:
		if m.sess.Invalidate() {
			snap.Valid = false
			fire = func() {
				if m.cfg.Hooks.OnExpire != nil {
					m.cfg.Hooks.OnExpire(snap)
				}
			}
		}
	case next == StateWarning && prev != StateWarning:
		remaining := policy.Remaining(elapsed)
		fire = func() {
			if m.cfg.Hooks.OnWarning != nil {
				m.cfg.Hooks.OnWarning(snap, remaining)
			}
		}
	case next == StateActive && prev == StateWarning:
		fire = func() {
			if m.cfg.Hooks.OnActive != nil {
				m.cfg.Hooks.OnActive(snap)
			}
		}
	}
	m.mu.Unlock()

	if next != prev {
		if m.cfg.Observer != nil {
			m.cfg.Observer.ObserveSessionState(next.String())
		}
		if m.cfg.Logger != nil {
			m.cfg.Logger.Debug("session state",
				slog.String("session", snap.ID),
				slog.String("from", prev.String()),
				slog.String("to", next.String()),
			)
		}
	}
	if fire != nil {
		fire()
	}
	return next
}

// Extend resets the login time to now. It fails with ErrSessionInvalid when
// the session has already expired at the time of the call.
func (m *Monitor) Extend(ctx context.Context) (State, error) {
	if m.Check(ctx) == StateExpired {
		return StateExpired, ErrSessionInvalid
	}
	if err := m.sess.Extend(m.cfg.Clock.Now()); err != nil {
		return StateExpired, err
	}
	return m.Check(ctx), nil
}

// Start launches the polling loop. It is a no-op when already started or stopped.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.stopped || m.cancel != nil {
		m.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	done := m.done
	m.mu.Unlock()

	go m.loop(ctx, done)
}

func (m *Monitor) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	// Expiry ends the loop too; release the context either way.
	defer m.Stop()
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	if m.Check(ctx) == StateExpired {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if m.Check(ctx) == StateExpired {
				return
			}
		}
	}
}

// Stop cancels the polling loop. It is idempotent and safe to call from hooks.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	cancel := m.cancel
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Done is closed when the polling loop exits. It is nil before Start.
func (m *Monitor) Done() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.done
}
