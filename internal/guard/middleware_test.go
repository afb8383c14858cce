package guard_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bevflow/bevflow/internal/guard"
	"github.com/bevflow/bevflow/internal/rbac"
	"github.com/bevflow/bevflow/internal/session"
	"github.com/bevflow/bevflow/internal/shared"
	"github.com/bevflow/bevflow/internal/view"
)

var now = time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)

type terminated struct {
	mu      sync.Mutex
	snaps   []session.Snapshot
	reasons []string
}

func (t *terminated) record(_ context.Context, snap session.Snapshot, reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snaps = append(t.snaps, snap)
	t.reasons = append(t.reasons, reason)
}

type counter struct {
	mu   sync.Mutex
	seen map[string]int
}

func (c *counter) ObserveGuardDecision(decision string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.seen == nil {
		c.seen = make(map[string]int)
	}
	c.seen[decision]++
}

type fixture struct {
	guard      *guard.Guard
	sessions   *shared.SessionManager
	supervisor *session.Supervisor
	terminated *terminated
	metrics    *counter
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	sessions := shared.NewSessionManager(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "test_session", "secret", time.Hour, false)
	reg, err := rbac.DefaultRegistry()
	require.NoError(t, err)
	templates, err := view.NewEngine()
	require.NoError(t, err)

	clock := session.ClockFunc(func() time.Time { return now })
	supervisor := session.NewSupervisor(context.Background(), session.SupervisorConfig{Clock: clock, Interval: time.Hour})
	t.Cleanup(supervisor.Shutdown)

	f := &fixture{sessions: sessions, supervisor: supervisor, terminated: &terminated{}, metrics: &counter{}}
	f.guard = guard.New(guard.Config{
		Evaluator:  rbac.NewEvaluator(reg, nil, nil),
		Sessions:   sessions,
		Supervisor: supervisor,
		Templates:  templates,
		CSRF:       shared.NewCSRFManager("csrf"),
		Metrics:    f.metrics,
		Clock:      clock,
		Terminate:  f.terminated.record,
	})
	return f
}

// request builds a request carrying a session. An empty role leaves it anonymous.
func (f *fixture) request(t *testing.T, target, role string, loginAt time.Time) (*http.Request, *shared.Session) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	sess, err := f.sessions.Load(context.Background(), req)
	require.NoError(t, err)
	if role != "" {
		sess.SetUser("7")
		sess.SetRole(role)
		if !loginAt.IsZero() {
			sess.Set(shared.LoginAtKey, strconv.FormatInt(loginAt.Unix(), 10))
		}
	}
	return req.WithContext(shared.ContextWithSession(req.Context(), sess)), sess
}

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
})

func TestUnauthenticatedRedirectsWithNext(t *testing.T) {
	f := newFixture(t)
	req, sess := f.request(t, "/reports?range=month", "", time.Time{})

	rr := httptest.NewRecorder()
	f.guard.RequirePage(rbac.PageReports)(okHandler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, "/auth/login?next=%2Freports%3Frange%3Dmonth", rr.Header().Get("Location"))
	assert.Equal(t, "/reports?range=month", sess.Get(guard.ReturnToKey))
	assert.Equal(t, 1, f.metrics.seen["redirect_login"])
}

func TestSalesAgentSeesAccessDenied(t *testing.T) {
	f := newFixture(t)
	req, _ := f.request(t, "/reports", "sales_agent", now.Add(-10*time.Minute))

	rr := httptest.NewRecorder()
	f.guard.RequirePage(rbac.PageReports)(okHandler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Empty(t, rr.Header().Get("Location"))
	body := rr.Body.String()
	assert.Contains(t, body, "Access Denied")
	assert.Contains(t, body, "Sales Agent")
	assert.Contains(t, body, "Takes orders and manages the customer accounts assigned to them.")
}

func TestInsufficientPermissionNamesAction(t *testing.T) {
	f := newFixture(t)
	req, _ := f.request(t, "/orders/42/delete", "staff", now.Add(-time.Minute))

	rr := httptest.NewRecorder()
	f.guard.RequireAction(rbac.PageOrders, rbac.ActOrdersDelete)(okHandler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Contains(t, rr.Body.String(), "orders.delete")
}

func TestAllowedRequestIsTracked(t *testing.T) {
	f := newFixture(t)
	req, _ := f.request(t, "/orders", "staff", now.Add(-10*time.Minute))

	var snap session.Snapshot
	h := f.guard.RequirePage(rbac.PageOrders)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		snap, _ = guard.SnapshotFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, "staff", snap.RoleID)
	assert.True(t, snap.Valid)
	assert.Equal(t, 1, f.supervisor.Len())
}

func TestExpiredSessionIsTerminated(t *testing.T) {
	f := newFixture(t)
	req, sess := f.request(t, "/dashboard", "staff", now.Add(-31*time.Minute))

	rr := httptest.NewRecorder()
	f.guard.RequirePage(rbac.PageDashboard)(okHandler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Contains(t, rr.Header().Get("Location"), "expired=1")
	assert.True(t, sess.Destroyed())
	require.Len(t, f.terminated.reasons, 1)
	assert.Equal(t, session.ReasonExpired, f.terminated.reasons[0])
	assert.Equal(t, "7", f.terminated.snaps[0].UserID)
	assert.Zero(t, f.supervisor.Len())
}

func TestMissingLoginTimestampIsTreatedAsExpired(t *testing.T) {
	f := newFixture(t)
	req, sess := f.request(t, "/dashboard", "staff", time.Time{})

	rr := httptest.NewRecorder()
	f.guard.RequirePage(rbac.PageDashboard)(okHandler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusSeeOther, rr.Code)
	assert.True(t, sess.Destroyed())
}

func TestMonitorExtensionWins(t *testing.T) {
	f := newFixture(t)
	req, sess := f.request(t, "/dashboard", "staff", now.Add(-40*time.Minute))
	f.supervisor.Track(session.New(sess.ID, "7", "staff", now.Add(-2*time.Minute)))

	rr := httptest.NewRecorder()
	f.guard.RequirePage(rbac.PageDashboard)(okHandler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNoContent, rr.Code)
}

func TestSessionEndedByMonitorStaysEnded(t *testing.T) {
	f := newFixture(t)
	// The stored login time is newer than the monitor's, as after an
	// extension in another process, but the monitor has already ended it.
	req, sess := f.request(t, "/dashboard", "staff", now.Add(-2*time.Minute))
	m := f.supervisor.Track(session.New(sess.ID, "7", "staff", now.Add(-20*time.Minute)))
	require.True(t, m.Session().Invalidate())

	rr := httptest.NewRecorder()
	f.guard.RequirePage(rbac.PageDashboard)(okHandler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Contains(t, rr.Header().Get("Location"), "expired=1")
	assert.True(t, sess.Destroyed())
	assert.False(t, m.Session().Snapshot().Valid)
	assert.Zero(t, f.supervisor.Len())
}

func TestLoadingWhenSessionStoreUnavailable(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodGet, "/orders", nil)
	req = req.WithContext(shared.ContextWithSessionUnavailable(req.Context()))

	rr := httptest.NewRecorder()
	f.guard.RequirePage(rbac.PageOrders)(okHandler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Equal(t, "2", rr.Header().Get("Retry-After"))
	assert.Contains(t, rr.Body.String(), "Checking your session")
}

func TestJSONRequestsGetProblems(t *testing.T) {
	f := newFixture(t)

	req, _ := f.request(t, "/api/me/permissions", "", time.Time{})
	rr := httptest.NewRecorder()
	f.guard.RequireAuth()(okHandler).ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, "application/problem+json", rr.Header().Get("Content-Type"))
	assert.Contains(t, rr.Body.String(), `"instance":"/api/me/permissions"`)

	req, _ = f.request(t, "/reports", "sales_agent", now)
	req.Header.Set("Accept", "application/json")
	rr = httptest.NewRecorder()
	f.guard.RequirePage(rbac.PageReports)(okHandler).ServeHTTP(rr, req)
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Contains(t, rr.Body.String(), "Sales Agent")
}
