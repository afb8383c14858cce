package session

import (
	"errors"
	"sync"
	"time"
)

// ErrSessionInvalid is returned when extending a session that has already ended.
var ErrSessionInvalid = errors.New("session: invalid")

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

// Now implements Clock.
func (f ClockFunc) Now() time.Time { return f() }

// SystemClock reads the wall clock.
var SystemClock Clock = ClockFunc(time.Now)

// Snapshot is an immutable view of a session.
type Snapshot struct {
	ID      string
	UserID  string
	RoleID  string
	LoginAt time.Time
	Valid   bool
}

// Elapsed is the time since login at now, clamped at zero.
func (s Snapshot) Elapsed(now time.Time) time.Duration {
	d := now.Sub(s.LoginAt)
	if d < 0 {
		return 0
	}
	return d
}

// Session is the owned lifecycle object of one signed-in user. It is created
// at login, changes only through Extend and ends with Invalidate.
type Session struct {
	mu      sync.RWMutex
	id      string
	userID  string
	roleID  string
	loginAt time.Time
	valid   bool
}

// New creates a valid session.
func New(id, userID, roleID string, loginAt time.Time) *Session {
	return &Session{id: id, userID: userID, roleID: roleID, loginAt: loginAt, valid: true}
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// Snapshot returns a consistent copy of the session state.
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{ID: s.id, UserID: s.userID, RoleID: s.roleID, LoginAt: s.loginAt, Valid: s.valid}
}

// Extend moves the login time forward to now. Earlier times are ignored.
func (s *Session) Extend(now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.valid {
		return ErrSessionInvalid
	}
	if now.After(s.loginAt) {
		s.loginAt = now
	}
	return nil
}

// Invalidate ends the session. It reports true only for the call that ended it.
func (s *Session) Invalidate() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.valid {
		return false
	}
	s.valid = false
	return true
}
