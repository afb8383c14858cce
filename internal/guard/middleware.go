package guard

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/bevflow/bevflow/internal/platform/httpx"
	"github.com/bevflow/bevflow/internal/rbac"
	"github.com/bevflow/bevflow/internal/session"
	"github.com/bevflow/bevflow/internal/shared"
	"github.com/bevflow/bevflow/internal/view"
)

const (
	// DefaultLoginPath is the login entry point used for redirects.
	DefaultLoginPath = "/auth/login"
	// ReturnToKey stores the requested path in the session for the post-login return.
	ReturnToKey = "return_to"

	loadingRetrySeconds = 2
)

// Terminator runs the logout side effects for a session the guard found expired.
type Terminator func(ctx context.Context, snap session.Snapshot, reason string)

// DecisionObserver counts guard outcomes.
type DecisionObserver interface {
	ObserveGuardDecision(decision string)
}

// Config wires the guard middleware.
type Config struct {
	Evaluator  Evaluator
	Sessions   *shared.SessionManager
	Supervisor *session.Supervisor
	// Policy overrides the supervisor's policy source when set.
	Policy    session.PolicySource
	Templates *view.Engine
	CSRF      *shared.CSRFManager
	Logger    *slog.Logger
	Metrics   DecisionObserver
	Clock     session.Clock
	Terminate Terminator
	LoginPath string
}

// Guard protects routes with Decide and renders the outcome.
type Guard struct {
	cfg Config
}

// New constructs a Guard.
func New(cfg Config) *Guard {
	if cfg.Clock == nil {
		cfg.Clock = session.SystemClock
	}
	if cfg.LoginPath == "" {
		cfg.LoginPath = DefaultLoginPath
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Guard{cfg: cfg}
}

type snapshotContextKey struct{}

// SnapshotFromContext returns the session snapshot a guard admitted.
func SnapshotFromContext(ctx context.Context) (session.Snapshot, bool) {
	snap, ok := ctx.Value(snapshotContextKey{}).(session.Snapshot)
	return snap, ok
}

// RequireAuth admits any signed-in user with a live session.
func (g *Guard) RequireAuth() func(http.Handler) http.Handler {
	return g.Require(Requirement{})
}

// RequirePage admits users whose role may open page.
func (g *Guard) RequirePage(page rbac.Permission) func(http.Handler) http.Handler {
	return g.Require(Requirement{Page: page})
}

// RequireAction admits users whose role may open page and perform action.
func (g *Guard) RequireAction(page, action rbac.Permission) func(http.Handler) http.Handler {
	return g.Require(Requirement{Page: page, Action: action})
}

// Require returns middleware enforcing req.
func (g *Guard) Require(req Requirement) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			state := g.State(r)
			d := Decide(state, req, g.cfg.Evaluator)
			if g.cfg.Metrics != nil {
				g.cfg.Metrics.ObserveGuardDecision(d.Kind.String())
			}
			if d.Allowed() {
				ctx := context.WithValue(r.Context(), snapshotContextKey{}, state.Session)
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}
			g.render(w, r, d)
		})
	}
}

// CanOpen reports whether roleID may open page. Used to build navigation.
func (g *Guard) CanOpen(roleID string, page rbac.Permission) bool {
	return g.cfg.Evaluator != nil && g.cfg.Evaluator.CanAccessPage(roleID, page)
}

// State resolves the authentication status of r. A signed-in session whose
// login time is missing or past the timeout is terminated here and reported
// as unauthenticated.
func (g *Guard) State(r *http.Request) AuthState {
	ctx := r.Context()
	state := AuthState{Path: requestedPath(r)}
	if shared.SessionUnavailable(ctx) {
		state.Loading = true
		return state
	}
	sess := shared.SessionFromContext(ctx)
	if !sess.Authenticated() {
		return state
	}
	snap, live := g.resolve(ctx, sess)
	if !live {
		g.expire(ctx, sess, snap)
		return state
	}
	state.Authenticated = true
	state.Session = snap
	return state
}

func (g *Guard) resolve(ctx context.Context, sess *shared.Session) (session.Snapshot, bool) {
	snap := session.Snapshot{
		ID:      sess.ID,
		UserID:  sess.User(),
		RoleID:  sess.Role(),
		LoginAt: sess.LoginAt(),
		Valid:   true,
	}
	if snap.LoginAt.IsZero() {
		snap.Valid = false
		return snap, false
	}

	var tracked bool
	if g.cfg.Supervisor != nil {
		if m, ok := g.cfg.Supervisor.Monitor(sess.ID); ok {
			tracked = true
			// Extend only moves forward, so both views end at the later
			// login time. It fails once the monitor has ended the session.
			if err := m.Session().Extend(snap.LoginAt); err != nil {
				snap.Valid = false
				return snap, false
			}
			current := m.Session().Snapshot()
			if !current.Valid {
				return current, false
			}
			snap.LoginAt = current.LoginAt
		}
	}

	if g.policy(ctx).State(snap.Elapsed(g.cfg.Clock.Now())) == session.StateExpired {
		snap.Valid = false
		return snap, false
	}
	if g.cfg.Supervisor != nil && !tracked {
		g.cfg.Supervisor.Track(session.New(snap.ID, snap.UserID, snap.RoleID, snap.LoginAt))
	}
	return snap, true
}

func (g *Guard) policy(ctx context.Context) session.Policy {
	switch {
	case g.cfg.Policy != nil:
		return g.cfg.Policy.Policy(ctx)
	case g.cfg.Supervisor != nil:
		return g.cfg.Supervisor.Policy(ctx)
	default:
		return session.DefaultPolicy()
	}
}

func (g *Guard) expire(ctx context.Context, sess *shared.Session, snap session.Snapshot) {
	snap.Valid = false
	if g.cfg.Sessions != nil {
		g.cfg.Sessions.Destroy(sess)
	}
	if g.cfg.Supervisor != nil {
		g.cfg.Supervisor.Release(sess.ID)
	}
	g.cfg.Logger.Info("session expired on request",
		slog.String("session", snap.ID),
		slog.String("user", snap.UserID),
	)
	if g.cfg.Terminate != nil {
		g.cfg.Terminate(context.WithoutCancel(ctx), snap, session.ReasonExpired)
	}
}

type loadingView struct {
	RetrySeconds int
	Path         string
}

type deniedView struct {
	RoleID          string
	RoleName        string
	RoleDescription string
	Page            string
	Path            string
}

type insufficientView struct {
	Permission string
	Path       string
	Back       string
}

func (g *Guard) render(w http.ResponseWriter, r *http.Request, d Decision) {
	asJSON := wantsJSON(r)
	switch d.Kind {
	case KindLoading:
		w.Header().Set("Retry-After", strconv.Itoa(loadingRetrySeconds))
		if asJSON {
			httpx.ProblemAt(w, r, http.StatusServiceUnavailable, "Session Unavailable", "authentication status is not known yet")
			return
		}
		g.page(w, r, http.StatusServiceUnavailable, "pages/loading.html", "Loading", loadingView{RetrySeconds: loadingRetrySeconds, Path: d.ReturnTo}, false)

	case KindRedirectLogin:
		if asJSON {
			httpx.ProblemAt(w, r, http.StatusUnauthorized, "Unauthorized", "sign in required")
			return
		}
		returnTo := ""
		if r.Method == http.MethodGet || r.Method == http.MethodHead {
			returnTo = shared.SafeReturnPath(d.ReturnTo, "")
		}
		if sess := shared.SessionFromContext(r.Context()); sess != nil && !sess.Destroyed() && returnTo != "" {
			sess.Set(ReturnToKey, returnTo)
		}
		http.Redirect(w, r, g.loginURL(returnTo, r), http.StatusSeeOther)

	case KindAccessDenied:
		if asJSON {
			httpx.ProblemAt(w, r, http.StatusForbidden, "Access Denied",
				fmt.Sprintf("role %q cannot access %s", d.RoleName, d.Permission))
			return
		}
		g.page(w, r, http.StatusForbidden, "pages/access_denied.html", "Access Denied", deniedView{
			RoleID:          d.RoleID,
			RoleName:        d.RoleName,
			RoleDescription: d.RoleDescription,
			Page:            string(d.Permission),
			Path:            r.URL.Path,
		}, true)

	case KindInsufficientPermission:
		if asJSON {
			httpx.ProblemAt(w, r, http.StatusForbidden, "Insufficient Permission", "requires "+string(d.Permission))
			return
		}
		g.page(w, r, http.StatusForbidden, "pages/insufficient_permission.html", "Insufficient Permission", insufficientView{
			Permission: string(d.Permission),
			Path:       r.URL.Path,
			Back:       "/" + string(d.Permission.Page()),
		}, true)

	default:
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func (g *Guard) page(w http.ResponseWriter, r *http.Request, status int, name, title string, data any, signedIn bool) {
	viewData := view.TemplateData{
		Title:       title,
		CurrentPath: r.URL.Path,
		SignedIn:    signedIn,
		Data:        data,
	}
	if sess := shared.SessionFromContext(r.Context()); sess != nil && g.cfg.CSRF != nil {
		viewData.CSRFToken, _ = g.cfg.CSRF.EnsureToken(r.Context(), sess)
	}
	if g.cfg.Templates == nil {
		w.WriteHeader(status)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := g.cfg.Templates.Render(w, name, viewData); err != nil {
		g.cfg.Logger.Error("render guard view", slog.String("view", name), slog.Any("error", err))
	}
}

func (g *Guard) loginURL(returnTo string, r *http.Request) string {
	q := url.Values{}
	if returnTo != "" {
		q.Set("next", returnTo)
	}
	if sess := shared.SessionFromContext(r.Context()); sess != nil && sess.Destroyed() {
		q.Set("expired", "1")
	}
	if len(q) == 0 {
		return g.cfg.LoginPath
	}
	return g.cfg.LoginPath + "?" + q.Encode()
}

func requestedPath(r *http.Request) string {
	if r.URL == nil {
		return "/"
	}
	return r.URL.RequestURI()
}

func wantsJSON(r *http.Request) bool {
	if strings.HasPrefix(r.URL.Path, "/api/") {
		return true
	}
	accept := r.Header.Get("Accept")
	return strings.Contains(accept, "application/json") && !strings.Contains(accept, "text/html")
}
