package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Logout reasons.
const (
	ReasonLogout  = "logout"
	ReasonExpired = "expired"
)

// ErrNotTracked is returned for session IDs without a monitor.
var ErrNotTracked = errors.New("session: not tracked")

// ExpireFunc runs the logout path for a session the monitor expired.
type ExpireFunc func(ctx context.Context, snap Snapshot, reason string)

// SupervisorConfig configures a Supervisor.
type SupervisorConfig struct {
	Policy   PolicySource
	Clock    Clock
	Interval time.Duration
	OnExpire ExpireFunc
	Observer TransitionObserver
	Logger   *slog.Logger
}

// Supervisor owns one Monitor per live session in this process.
type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc
	cfg    SupervisorConfig

	mu       sync.Mutex
	monitors map[string]*Monitor
}

// NewSupervisor builds a supervisor whose monitors live at most as long as ctx.
func NewSupervisor(ctx context.Context, cfg SupervisorConfig) *Supervisor {
	if cfg.Clock == nil {
		cfg.Clock = SystemClock
	}
	if cfg.Policy == nil {
		cfg.Policy = StaticPolicy(DefaultPolicy())
	}
	ctx, cancel := context.WithCancel(ctx)
	return &Supervisor{ctx: ctx, cancel: cancel, cfg: cfg, monitors: make(map[string]*Monitor)}
}

// Policy exposes the policy source monitors use.
func (s *Supervisor) Policy(ctx context.Context) Policy {
	return s.cfg.Policy.Policy(ctx)
}

// Track starts monitoring sess, replacing any monitor for the same ID.
func (s *Supervisor) Track(sess *Session) *Monitor {
	var m *Monitor
	m = NewMonitor(sess, MonitorConfig{
		Policy:   s.cfg.Policy,
		Clock:    s.cfg.Clock,
		Interval: s.cfg.Interval,
		Observer: s.cfg.Observer,
		Logger:   s.cfg.Logger,
		Hooks: Hooks{
			OnWarning: func(snap Snapshot, remaining time.Duration) {
				if s.cfg.Logger != nil {
					s.cfg.Logger.Info("session expiring soon",
						slog.String("session", snap.ID),
						slog.String("user", snap.UserID),
						slog.Duration("remaining", remaining),
					)
				}
			},
			OnExpire: func(snap Snapshot) {
				s.forget(snap.ID, m)
				if s.cfg.Logger != nil {
					s.cfg.Logger.Info("session expired", slog.String("session", snap.ID), slog.String("user", snap.UserID))
				}
				if s.cfg.OnExpire != nil {
					s.cfg.OnExpire(context.WithoutCancel(s.ctx), snap, ReasonExpired)
				}
			},
		},
	})

	s.mu.Lock()
	old := s.monitors[sess.ID()]
	s.monitors[sess.ID()] = m
	s.mu.Unlock()

	if old != nil {
		old.Stop()
	}
	m.Start(s.ctx)
	return m
}

// Monitor returns the monitor tracking id.
func (s *Supervisor) Monitor(id string) (*Monitor, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.monitors[id]
	return m, ok
}

// Extend resets the login time of a tracked session.
func (s *Supervisor) Extend(ctx context.Context, id string) (Snapshot, State, error) {
	m, ok := s.Monitor(id)
	if !ok {
		return Snapshot{}, StateExpired, ErrNotTracked
	}
	state, err := m.Extend(ctx)
	return m.Session().Snapshot(), state, err
}

// Release stops monitoring id and invalidates its session. It reports the
// final snapshot when the session was tracked.
func (s *Supervisor) Release(id string) (Snapshot, bool) {
	s.mu.Lock()
	m, ok := s.monitors[id]
	delete(s.monitors, id)
	s.mu.Unlock()
	if !ok {
		return Snapshot{}, false
	}
	m.Stop()
	m.Session().Invalidate()
	return m.Session().Snapshot(), true
}

// Len reports the number of tracked sessions.
func (s *Supervisor) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.monitors)
}

// Shutdown stops every monitor without expiring their sessions.
func (s *Supervisor) Shutdown() {
	s.cancel()
	s.mu.Lock()
	monitors := s.monitors
	s.monitors = make(map[string]*Monitor)
	s.mu.Unlock()
	for _, m := range monitors {
		m.Stop()
	}
}

// forget drops id only if it is still tracked by m.
func (s *Supervisor) forget(id string, m *Monitor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.monitors[id] == m {
		delete(s.monitors, id)
	}
}
