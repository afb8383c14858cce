package auth

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/bevflow/bevflow/internal/guard"
	"github.com/bevflow/bevflow/internal/platform/httpx"
	"github.com/bevflow/bevflow/internal/session"
	"github.com/bevflow/bevflow/internal/shared"
)

// SessionHandler serves the countdown and extension endpoints behind the
// session warning banner.
type SessionHandler struct {
	logger     *slog.Logger
	guard      *guard.Guard
	supervisor *session.Supervisor
	clock      session.Clock
}

// NewSessionHandler constructs a SessionHandler.
func NewSessionHandler(logger *slog.Logger, g *guard.Guard, supervisor *session.Supervisor, clock session.Clock) *SessionHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if clock == nil {
		clock = session.SystemClock
	}
	return &SessionHandler{logger: logger, guard: g, supervisor: supervisor, clock: clock}
}

// MountRoutes registers session routes.
func (h *SessionHandler) MountRoutes(r chi.Router) {
	r.Get("/status", h.status)
	r.With(h.guard.RequireAuth()).Post("/extend", h.extend)
}

type statusResponse struct {
	Authenticated    bool   `json:"authenticated"`
	State            string `json:"state"`
	RemainingSeconds int    `json:"remaining_seconds"`
	TimeoutMinutes   int    `json:"timeout_minutes"`
	WarnSeconds      int    `json:"warn_seconds"`
	LoginAt          int64  `json:"login_at,omitempty"`
}

func (h *SessionHandler) status(w http.ResponseWriter, r *http.Request) {
	state := h.guard.State(r)
	if state.Loading {
		httpx.RespondError(w, shared.ErrSessionUnavailable)
		return
	}
	policy := h.supervisor.Policy(r.Context())
	if !state.Authenticated {
		httpx.JSON(w, http.StatusOK, statusResponse{
			State:          session.StateExpired.String(),
			TimeoutMinutes: policy.TimeoutMinutes(),
			WarnSeconds:    int(policy.Warn.Seconds()),
		})
		return
	}
	httpx.JSON(w, http.StatusOK, h.describe(policy, state.Session))
}

func (h *SessionHandler) extend(w http.ResponseWriter, r *http.Request) {
	snap, ok := guard.SnapshotFromContext(r.Context())
	sess := shared.SessionFromContext(r.Context())
	if !ok || sess == nil {
		httpx.ProblemAt(w, r, http.StatusUnauthorized, "Unauthorized", "sign in required")
		return
	}

	extended, _, err := h.supervisor.Extend(r.Context(), snap.ID)
	switch {
	case errors.Is(err, session.ErrNotTracked):
		monitor := h.supervisor.Track(session.New(snap.ID, snap.UserID, snap.RoleID, h.clock.Now()))
		extended = monitor.Session().Snapshot()
	case err != nil:
		// The monitor expired the session between the guard and here.
		h.logger.Info("extend refused", slog.String("session", snap.ID), slog.Any("error", err))
		httpx.ProblemAt(w, r, http.StatusUnauthorized, "Session Expired", "sign in again")
		return
	}

	sess.SetLoginAt(extended.LoginAt)
	h.logger.Debug("session extended", slog.String("session", snap.ID), slog.String("user", snap.UserID))
	httpx.JSON(w, http.StatusOK, h.describe(h.supervisor.Policy(r.Context()), extended))
}

func (h *SessionHandler) describe(policy session.Policy, snap session.Snapshot) statusResponse {
	elapsed := snap.Elapsed(h.clock.Now())
	return statusResponse{
		Authenticated:    true,
		State:            policy.State(elapsed).String(),
		RemainingSeconds: int(policy.Remaining(elapsed).Seconds()),
		TimeoutMinutes:   policy.TimeoutMinutes(),
		WarnSeconds:      int(policy.Warn.Seconds()),
		LoginAt:          snap.LoginAt.Unix(),
	}
}
