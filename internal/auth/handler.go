package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"

	"github.com/bevflow/bevflow/internal/guard"
	"github.com/bevflow/bevflow/internal/session"
	"github.com/bevflow/bevflow/internal/shared"
	"github.com/bevflow/bevflow/internal/view"
)

const defaultLanding = "/dashboard"

// Handler wires HTTP endpoints for authentication flows.
type Handler struct {
	logger         *slog.Logger
	service        *Service
	templates      *view.Engine
	sessionManager *shared.SessionManager
	csrfManager    *shared.CSRFManager
	supervisor     *session.Supervisor
	validator      *validator.Validate
}

// NewHandler constructs a Handler instance. The supervisor is optional.
func NewHandler(logger *slog.Logger, service *Service, templates *view.Engine, sessions *shared.SessionManager, csrf *shared.CSRFManager, supervisor *session.Supervisor) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:         logger,
		service:        service,
		templates:      templates,
		sessionManager: sessions,
		csrfManager:    csrf,
		supervisor:     supervisor,
		validator:      validator.New(),
	}
}

// MountRoutes registers auth routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/login", h.showLogin)
	r.With(httprate.LimitByIP(10, time.Minute)).Post("/login", h.handleLogin)
	r.Post("/logout", h.handleLogout)
}

type loginForm struct {
	Email    string `validate:"required,email"`
	Password string `validate:"required,min=8"`
}

type loginPageData struct {
	Form   loginForm
	Errors map[string]string
	Next   string
}

func (h *Handler) showLogin(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	data := loginPageData{Form: loginForm{}, Next: shared.SafeReturnPath(r.URL.Query().Get("next"), "")}
	if r.URL.Query().Get("expired") == "1" && sess != nil {
		sess.AddFlash(shared.FlashMessage{Kind: "warning", Message: "Your session expired. Please sign in again."})
	}
	h.renderLogin(w, r, http.StatusOK, data)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	sess := shared.SessionFromContext(r.Context())

	form := loginForm{
		Email:    r.PostFormValue("email"),
		Password: r.PostFormValue("password"),
	}
	next := shared.SafeReturnPath(r.PostFormValue("next"), "")
	errs := make(map[string]string)
	if err := h.validator.Struct(form); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fieldErr := range verrs {
				errs[fieldErr.Field()] = fieldErr.Error()
			}
		}
	}

	if len(errs) == 0 {
		user, err := h.service.Authenticate(r.Context(), form.Email, form.Password)
		if err != nil {
			errs["general"] = "Invalid email or password"
		} else if sess == nil {
			h.logger.Error("session missing during login")
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
			return
		} else {
			h.signIn(w, r, sess, user, next)
			return
		}
	}

	data := loginPageData{Form: loginForm{Email: form.Email}, Errors: errs, Next: next}
	h.renderLogin(w, r, http.StatusBadRequest, data)
}

func (h *Handler) signIn(w http.ResponseWriter, r *http.Request, sess *shared.Session, user *User, next string) {
	now := h.service.Now()
	userID := strconv.FormatInt(user.ID, 10)
	oldID, err := h.sessionManager.Renew(r.Context(), sess)
	if err != nil {
		h.logger.Warn("renew session id", slog.Any("error", err))
	}
	if h.supervisor != nil && oldID != "" {
		h.supervisor.Release(oldID)
	}
	sess.SetUser(userID)
	sess.SetRole(user.Role)
	sess.SetLoginAt(now)

	if next == "" {
		next = shared.SafeReturnPath(sess.Get(guard.ReturnToKey), defaultLanding)
	}
	sess.Delete(guard.ReturnToKey)
	if h.csrfManager != nil {
		if _, err := h.csrfManager.Rotate(r.Context(), sess); err != nil {
			h.logger.Warn("rotate csrf token", slog.Any("error", err))
		}
	}
	sess.AddFlash(shared.FlashMessage{Kind: "success", Message: "Welcome back"})

	expiresAt := now.Add(h.sessionManager.TTL())
	if err := h.service.RegisterSession(r.Context(), sess.ID, user.ID, expiresAt, r.RemoteAddr, r.UserAgent()); err != nil {
		h.logger.Warn("register session", slog.Any("error", err))
	}
	if h.supervisor != nil {
		h.supervisor.Track(session.New(sess.ID, userID, user.Role, sess.LoginAt()))
	}
	h.logger.Info("login", slog.String("user", userID), slog.String("role", user.Role))
	http.Redirect(w, r, next, http.StatusSeeOther)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	if sess.Authenticated() {
		snap := session.Snapshot{ID: sess.ID, UserID: sess.User(), RoleID: sess.Role(), LoginAt: sess.LoginAt()}
		if h.supervisor != nil {
			if released, ok := h.supervisor.Release(sess.ID); ok {
				snap = released
			}
		}
		h.service.Logout(r.Context(), snap, session.ReasonLogout)
	}
	if sess != nil {
		h.sessionManager.Destroy(sess)
	}
	http.Redirect(w, r, guard.DefaultLoginPath, http.StatusSeeOther)
}

func (h *Handler) renderLogin(w http.ResponseWriter, r *http.Request, status int, data loginPageData) {
	sess := shared.SessionFromContext(r.Context())
	csrfToken, _ := h.csrfManager.EnsureToken(r.Context(), sess)
	var flash *shared.FlashMessage
	if sess != nil {
		flash = sess.PopFlash()
	}
	viewData := view.TemplateData{
		Title:       "Sign in",
		CSRFToken:   csrfToken,
		Flash:       flash,
		CurrentPath: r.URL.Path,
		Data:        data,
	}
	if status != http.StatusOK {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(status)
	}
	if err := h.templates.Render(w, "pages/login.html", viewData); err != nil {
		h.logger.Error("render login", slog.Any("error", err))
		if status == http.StatusOK {
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
	}
}

// ShowLoginForTest exposes the GET handler for tests.
func (h *Handler) ShowLoginForTest(w http.ResponseWriter, r *http.Request) {
	h.showLogin(w, r)
}

// HandleLoginForTest exposes the POST handler for tests.
func (h *Handler) HandleLoginForTest(w http.ResponseWriter, r *http.Request) {
	h.handleLogin(w, r)
}

// HandleLogoutForTest exposes the logout handler for tests.
func (h *Handler) HandleLogoutForTest(w http.ResponseWriter, r *http.Request) {
	h.handleLogout(w, r)
}
