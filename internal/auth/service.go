package auth

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/bevflow/bevflow/internal/backend"
	"github.com/bevflow/bevflow/internal/session"
	"github.com/bevflow/bevflow/internal/shared"
)

// Auditor records logouts with the backend. Implementations must not block
// on the backend being reachable.
type Auditor interface {
	AuditLogout(ctx context.Context, ev backend.LogoutEvent)
}

// SessionStore removes persisted session state.
type SessionStore interface {
	DeleteID(ctx context.Context, id string) error
}

// ServiceConfig wires a Service.
type ServiceConfig struct {
	Repo     Repository
	Sessions SessionStore
	Auditor  Auditor
	Logger   *slog.Logger
	Clock    session.Clock
}

// Service wraps authentication business rules.
type Service struct {
	repo     Repository
	sessions SessionStore
	auditor  Auditor
	logger   *slog.Logger
	clock    session.Clock
}

// NewService constructs a new Service.
func NewService(cfg ServiceConfig) *Service {
	if cfg.Clock == nil {
		cfg.Clock = session.SystemClock
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Service{
		repo:     cfg.Repo,
		sessions: cfg.Sessions,
		auditor:  cfg.Auditor,
		logger:   cfg.Logger,
		clock:    cfg.Clock,
	}
}

// Now returns the service clock's time.
func (s *Service) Now() time.Time {
	return s.clock.Now()
}

// Authenticate validates email/password credentials.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*User, error) {
	user, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		return nil, shared.ErrInvalidCredentials
	}
	if !user.IsActive {
		return nil, shared.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, shared.ErrInvalidCredentials
	}
	return user, nil
}

// RegisterSession persists the session metadata in postgres.
func (s *Service) RegisterSession(ctx context.Context, id string, userID int64, expiresAt time.Time, ip, ua string) error {
	return s.repo.CreateSession(ctx, id, userID, expiresAt, ip, ua)
}

// Logout ends snap's session: the stored session and its login timestamp are
// removed and the audit record is dispatched. Failures are logged, never
// returned, so logout always completes. Explicit logout, monitor expiry and
// request-time expiry all end here.
func (s *Service) Logout(ctx context.Context, snap session.Snapshot, reason string) {
	if snap.ID == "" {
		return
	}
	if s.sessions != nil {
		if err := s.sessions.DeleteID(ctx, snap.ID); err != nil {
			s.logger.Warn("logout delete session", slog.String("session", snap.ID), slog.Any("error", err))
		}
	}
	if s.repo != nil {
		if err := s.repo.DeleteSession(ctx, snap.ID); err != nil {
			s.logger.Warn("logout remove session row", slog.String("session", snap.ID), slog.Any("error", err))
		}
	}
	s.logger.Info("logout",
		slog.String("session", snap.ID),
		slog.String("user", snap.UserID),
		slog.String("reason", reason),
	)
	if s.auditor == nil || snap.UserID == "" {
		return
	}
	s.auditor.AuditLogout(context.WithoutCancel(ctx), backend.LogoutEvent{
		UserID:    snap.UserID,
		SessionID: snap.ID,
		Reason:    reason,
		At:        s.clock.Now().UTC(),
	})
}
