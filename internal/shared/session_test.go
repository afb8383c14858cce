package shared

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newManager(t *testing.T) (*SessionManager, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	return NewSessionManager(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "test_session", "secret", time.Hour, false), mr
}

func withCookie(id string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "test_session", Value: id})
	return req
}

func TestSessionRoundTripKeepsLoginAt(t *testing.T) {
	manager, mr := newManager(t)
	ctx := context.Background()
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	sess, err := manager.Load(ctx, req)
	require.NoError(t, err)
	loginAt := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	sess.SetUser("7")
	sess.SetRole("manager")
	sess.SetLoginAt(loginAt)
	rr := httptest.NewRecorder()
	require.NoError(t, manager.Commit(ctx, rr, req, sess))
	assert.True(t, mr.Exists("session:"+sess.ID))

	loaded, err := manager.Load(ctx, withCookie(sess.ID))
	require.NoError(t, err)
	assert.True(t, loaded.Authenticated())
	assert.Equal(t, "manager", loaded.Role())
	assert.True(t, loaded.LoginAt().Equal(loginAt))
	assert.Equal(t, "1740816000", loaded.Get(LoginAtKey))
}

func TestSetLoginAtNeverMovesBackwards(t *testing.T) {
	manager, _ := newManager(t)
	sess := manager.newSession()
	first := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)

	sess.SetLoginAt(first)
	sess.SetLoginAt(first.Add(-time.Minute))
	assert.True(t, sess.LoginAt().Equal(first))

	sess.SetLoginAt(first.Add(27 * time.Minute))
	assert.True(t, sess.LoginAt().Equal(first.Add(27*time.Minute)))
}

func TestLoginAtIgnoresGarbage(t *testing.T) {
	manager, _ := newManager(t)
	sess := manager.newSession()
	sess.Set(LoginAtKey, "yesterday")
	assert.True(t, sess.LoginAt().IsZero())
	sess.Set(LoginAtKey, "-5")
	assert.True(t, sess.LoginAt().IsZero())
}

func TestLoadUnknownIDStartsFresh(t *testing.T) {
	manager, _ := newManager(t)
	sess, err := manager.Load(context.Background(), withCookie("gone"))
	require.NoError(t, err)
	assert.Equal(t, "gone", sess.ID)
	assert.False(t, sess.Authenticated())
}

func TestLoadCorruptPayloadStartsFreshSession(t *testing.T) {
	manager, mr := newManager(t)
	require.NoError(t, mr.Set("session:broken", "{not json"))

	sess, err := manager.Load(context.Background(), withCookie("broken"))
	require.NoError(t, err)
	assert.NotEqual(t, "broken", sess.ID)
	assert.False(t, mr.Exists("session:broken"))

	_, err = manager.Lookup(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLoadReportsUnavailableStore(t *testing.T) {
	manager, mr := newManager(t)
	mr.Close()

	_, err := manager.Load(context.Background(), withCookie("abc"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSessionUnavailable))
}

func TestDestroyClearsCookieAndKey(t *testing.T) {
	manager, mr := newManager(t)
	ctx := context.Background()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	sess, err := manager.Load(ctx, req)
	require.NoError(t, err)
	sess.SetUser("1")
	require.NoError(t, manager.Commit(ctx, httptest.NewRecorder(), req, sess))

	manager.Destroy(sess)
	assert.True(t, sess.Destroyed())
	assert.False(t, sess.Authenticated())
	rr := httptest.NewRecorder()
	require.NoError(t, manager.Commit(ctx, rr, req, sess))
	assert.False(t, mr.Exists("session:"+sess.ID))
	cookies := rr.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, -1, cookies[0].MaxAge)
}

func TestScanIDs(t *testing.T) {
	manager, _ := newManager(t)
	ctx := context.Background()
	want := map[string]bool{}
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		sess, err := manager.Load(ctx, req)
		require.NoError(t, err)
		require.NoError(t, manager.Commit(ctx, httptest.NewRecorder(), req, sess))
		want[sess.ID] = true
	}

	got := map[string]bool{}
	require.NoError(t, manager.ScanIDs(ctx, func(id string) error {
		got[id] = true
		return nil
	}))
	assert.Equal(t, want, got)

	stop := errors.New("stop")
	assert.ErrorIs(t, manager.ScanIDs(ctx, func(string) error { return stop }), stop)
}

func TestCSRFTokens(t *testing.T) {
	manager, _ := newManager(t)
	csrf := NewCSRFManager("csrf")
	sess := manager.newSession()
	ctx := context.Background()

	token, err := csrf.EnsureToken(ctx, sess)
	require.NoError(t, err)
	again, err := csrf.EnsureToken(ctx, sess)
	require.NoError(t, err)
	assert.Equal(t, token, again)
	assert.NoError(t, csrf.VerifyToken(ctx, sess, token))
	assert.ErrorIs(t, csrf.VerifyToken(ctx, sess, ""), ErrCSRFTokenMissing)
	assert.ErrorIs(t, csrf.VerifyToken(ctx, sess, "forged"), ErrCSRFTokenMismatch)

	rotated, err := csrf.Rotate(ctx, sess)
	require.NoError(t, err)
	assert.NotEqual(t, token, rotated)
	assert.ErrorIs(t, csrf.VerifyToken(ctx, sess, token), ErrCSRFTokenMismatch)
}

func TestCSRFTokenFromRequest(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/session/extend", nil)
	req.Header.Set(CSRFHeader, "from-header")
	assert.Equal(t, "from-header", CSRFTokenFromRequest(req))
}

func TestSafeReturnPath(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"/orders?status=open", "/orders?status=open"},
		{"", "/dashboard"},
		{"orders", "/dashboard"},
		{"//evil.example/x", "/dashboard"},
		{"/\\evil.example", "/dashboard"},
		{"https://evil.example/", "/dashboard"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SafeReturnPath(tt.raw, "/dashboard"), tt.raw)
	}
}

func TestSessionUnavailableContext(t *testing.T) {
	ctx := context.Background()
	assert.False(t, SessionUnavailable(ctx))
	assert.True(t, SessionUnavailable(ContextWithSessionUnavailable(ctx)))
	assert.Nil(t, SessionFromContext(ctx))
}

func TestRenewMovesSessionToNewID(t *testing.T) {
	manager, mr := newManager(t)
	ctx := context.Background()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	sess, err := manager.Load(ctx, req)
	require.NoError(t, err)
	sess.Set("return_to", "/orders")
	require.NoError(t, manager.Commit(ctx, httptest.NewRecorder(), req, sess))
	first := sess.ID

	old, err := manager.Renew(ctx, sess)
	require.NoError(t, err)
	assert.Equal(t, first, old)
	assert.NotEqual(t, first, sess.ID)
	assert.False(t, mr.Exists("session:"+first))

	rr := httptest.NewRecorder()
	require.NoError(t, manager.Commit(ctx, rr, req, sess))
	assert.True(t, mr.Exists("session:"+sess.ID))
	assert.Equal(t, sess.ID, rr.Result().Cookies()[0].Value)
	assert.Equal(t, "/orders", sess.Get("return_to"))
}
