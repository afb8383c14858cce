package auth_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bevflow/bevflow/internal/auth"
	"github.com/bevflow/bevflow/internal/session"
	"github.com/bevflow/bevflow/internal/shared"
)

func TestAuthenticate(t *testing.T) {
	user := activeUser(t)
	svc := auth.NewService(auth.ServiceConfig{Repo: &stubRepo{user: user}})

	got, err := svc.Authenticate(context.Background(), "user@test.local", "correctpass")
	require.NoError(t, err)
	assert.Equal(t, "manager", got.Role)

	_, err = svc.Authenticate(context.Background(), "user@test.local", "nope-nope")
	assert.ErrorIs(t, err, shared.ErrInvalidCredentials)

	_, err = svc.Authenticate(context.Background(), "missing@test.local", "correctpass")
	assert.ErrorIs(t, err, shared.ErrInvalidCredentials)

	user.IsActive = false
	_, err = svc.Authenticate(context.Background(), "user@test.local", "correctpass")
	assert.ErrorIs(t, err, shared.ErrInvalidCredentials)
}

type failingStore struct{ calls int }

func (f *failingStore) DeleteID(ctx context.Context, id string) error {
	f.calls++
	return errors.New("redis down")
}

func TestLogoutCompletesWhenStoresFail(t *testing.T) {
	repo := &stubRepo{deleteFn: func(string) error { return errors.New("pg down") }}
	store := &failingStore{}
	auditor := &stubAuditor{}
	svc := auth.NewService(auth.ServiceConfig{
		Repo:     repo,
		Sessions: store,
		Auditor:  auditor,
		Clock:    session.ClockFunc(func() time.Time { return fixedNow }),
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	svc.Logout(ctx, session.Snapshot{ID: "s1", UserID: "9"}, session.ReasonExpired)

	assert.Equal(t, 1, store.calls)
	assert.Equal(t, []string{"s1"}, repo.deleted)
	require.Len(t, auditor.events, 1)
	assert.Equal(t, session.ReasonExpired, auditor.events[0].Reason)
	assert.Equal(t, fixedNow, auditor.events[0].At)
}

func TestLogoutWithoutSessionIsNoop(t *testing.T) {
	repo := &stubRepo{}
	auditor := &stubAuditor{}
	svc := auth.NewService(auth.ServiceConfig{Repo: repo, Auditor: auditor})

	svc.Logout(context.Background(), session.Snapshot{}, session.ReasonLogout)
	assert.Empty(t, repo.deleted)
	assert.Empty(t, auditor.events)
}
