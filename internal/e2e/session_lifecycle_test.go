package e2e

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/bevflow/bevflow/internal/app"
	"github.com/bevflow/bevflow/internal/auth"
	"github.com/bevflow/bevflow/internal/backend"
	"github.com/bevflow/bevflow/internal/guard"
	"github.com/bevflow/bevflow/internal/pages"
	"github.com/bevflow/bevflow/internal/rbac"
	"github.com/bevflow/bevflow/internal/session"
	"github.com/bevflow/bevflow/internal/shared"
	"github.com/bevflow/bevflow/internal/view"
	"github.com/bevflow/bevflow/jobs"
	_ "github.com/bevflow/bevflow/testing"
)

const password = "orders-only-2025"

var csrfField = regexp.MustCompile(`name="csrf_token" value="([^"]+)"`)

type movableClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *movableClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *movableClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type userRepo struct {
	user *auth.User
}

func (r userRepo) FindByEmail(ctx context.Context, email string) (*auth.User, error) {
	if !strings.EqualFold(email, r.user.Email) {
		return nil, shared.ErrNotFound
	}
	return r.user, nil
}

func (userRepo) CreateSession(ctx context.Context, id string, userID int64, expiresAt time.Time, ip, ua string) error {
	return nil
}

func (userRepo) DeleteSession(ctx context.Context, id string) error { return nil }

type auditSink struct {
	mu     sync.Mutex
	events []backend.LogoutEvent
}

func (s *auditSink) RecordLogout(ctx context.Context, ev backend.LogoutEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *auditSink) reasons() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.events))
	for i, ev := range s.events {
		out[i] = ev.Reason
	}
	return out
}

type stack struct {
	server     *httptest.Server
	client     *http.Client
	clock      *movableClock
	audits     *auditSink
	dispatcher *jobs.AuditDispatcher
	supervisor *session.Supervisor
}

func newStack(t *testing.T, role string) *stack {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := &movableClock{now: time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)}

	mr := miniredis.RunT(t)
	sessions := shared.NewSessionManager(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "bevflow_session", "secret", 12*time.Hour, false)
	csrf := shared.NewCSRFManager("csrf")
	templates, err := view.NewEngine()
	require.NoError(t, err)
	reg, err := rbac.DefaultRegistry()
	require.NoError(t, err)
	evaluator := rbac.NewEvaluator(reg, logger, nil)

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	repo := userRepo{user: &auth.User{ID: 11, Email: "dina@bevflow.local", PasswordHash: string(hash), Role: role, IsActive: true}}

	audits := &auditSink{}
	dispatcher := jobs.NewAuditDispatcher(nil, audits, logger)
	authService := auth.NewService(auth.ServiceConfig{Repo: repo, Sessions: sessions, Auditor: dispatcher, Logger: logger, Clock: clock})

	supervisor := session.NewSupervisor(context.Background(), session.SupervisorConfig{
		Policy:   session.StaticPolicy(session.DefaultPolicy()),
		Clock:    clock,
		Interval: time.Hour,
		OnExpire: authService.Logout,
		Logger:   logger,
	})
	t.Cleanup(supervisor.Shutdown)

	g := guard.New(guard.Config{
		Evaluator:  evaluator,
		Sessions:   sessions,
		Supervisor: supervisor,
		Templates:  templates,
		CSRF:       csrf,
		Logger:     logger,
		Clock:      clock,
		Terminate:  authService.Logout,
	})

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             &app.Config{AppEnv: "test", AppRequestTimeout: 5 * time.Second},
		SessionManager:     sessions,
		CSRFManager:        csrf,
		Guard:              g,
		AuthHandler:        auth.NewHandler(logger, authService, templates, sessions, csrf, supervisor),
		SessionHandler:     auth.NewSessionHandler(logger, g, supervisor, clock),
		PagesHandler:       pages.NewHandler(logger, templates, csrf, g),
		PermissionsHandler: rbac.NewPermissionsHandler(logger, evaluator),
	})
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	client := &http.Client{
		Jar: jar,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	return &stack{server: server, client: client, clock: clock, audits: audits, dispatcher: dispatcher, supervisor: supervisor}
}

func (s *stack) get(t *testing.T, path string) (*http.Response, string) {
	t.Helper()
	resp, err := s.client.Get(s.server.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func (s *stack) login(t *testing.T, next string) *http.Response {
	t.Helper()
	_, page := s.get(t, "/auth/login?next="+url.QueryEscape(next))
	match := csrfField.FindStringSubmatch(page)
	require.Len(t, match, 2, "login page carries a csrf token")

	form := url.Values{
		"csrf_token": {match[1]},
		"email":      {"dina@bevflow.local"},
		"password":   {password},
		"next":       {next},
	}
	resp, err := s.client.PostForm(s.server.URL+"/auth/login", form)
	require.NoError(t, err)
	resp.Body.Close()
	return resp
}

func TestStaffSessionLifecycle(t *testing.T) {
	s := newStack(t, "staff")

	resp, _ := s.get(t, "/orders")
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/auth/login?next=%2Forders", resp.Header.Get("Location"))

	resp = s.login(t, "/orders")
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/orders", resp.Header.Get("Location"))
	assert.Equal(t, 1, s.supervisor.Len())

	resp, body := s.get(t, "/orders")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `data-page="orders"`)

	resp, body = s.get(t, "/users")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Contains(t, body, "Staff")

	// 26 minutes in: still allowed, the status endpoint reports the warning.
	s.clock.Advance(26 * time.Minute)
	resp, body = s.get(t, "/session/status")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `"state":"warning"`)

	// 31 minutes in: the next request ends the session.
	s.clock.Advance(5 * time.Minute)
	resp, _ = s.get(t, "/orders")
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Location"), "expired=1")

	s.dispatcher.Wait()
	assert.Equal(t, []string{session.ReasonExpired}, s.audits.reasons())
	assert.Equal(t, 0, s.supervisor.Len())

	resp, _ = s.get(t, "/dashboard")
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
}

func TestSalesAgentDeniedReports(t *testing.T) {
	s := newStack(t, "sales_agent")
	require.Equal(t, http.StatusSeeOther, s.login(t, "/dashboard").StatusCode)

	resp, body := s.get(t, "/reports")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Contains(t, body, "Sales Agent")
	assert.Contains(t, body, "Takes orders and manages the customer accounts assigned to them.")

	resp, body = s.get(t, "/api/me/permissions/")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `"role":"sales_agent"`)
}

func TestManualLogoutAuditsOnce(t *testing.T) {
	s := newStack(t, "admin")
	require.Equal(t, http.StatusSeeOther, s.login(t, "/dashboard").StatusCode)

	_, page := s.get(t, "/dashboard")
	match := csrfField.FindStringSubmatch(page)
	require.Len(t, match, 2)

	resp, err := s.client.PostForm(s.server.URL+"/auth/logout", url.Values{"csrf_token": {match[1]}})
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, guard.DefaultLoginPath, resp.Header.Get("Location"))

	s.dispatcher.Wait()
	assert.Equal(t, []string{session.ReasonLogout}, s.audits.reasons())
	assert.Equal(t, 0, s.supervisor.Len())

	resp, _ = s.get(t, "/dashboard")
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
}
