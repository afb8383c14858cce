package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/bevflow/bevflow/internal/jobs"
	"github.com/bevflow/bevflow/internal/session"
	"github.com/bevflow/bevflow/internal/shared"
)

// SessionStore is the part of the session manager the sweep reads.
type SessionStore interface {
	ScanIDs(ctx context.Context, fn func(id string) error) error
	Lookup(ctx context.Context, id string) (*shared.Session, error)
}

// PolicyRefresher is a PolicySource that can read the current policy from
// its origin on demand. session.TimeoutProvider implements it.
type PolicyRefresher interface {
	Refresh(ctx context.Context) session.Policy
}

// LogoutFunc ends one session. It must not fail the sweep.
type LogoutFunc func(ctx context.Context, snap session.Snapshot, reason string)

// SweepResult summarises one sweep run.
type SweepResult struct {
	Scanned  int
	Live     int
	Expired  int
	Orphaned int
}

// SessionSweepConfig wires the sweep job.
type SessionSweepConfig struct {
	Store   SessionStore
	Policy  session.PolicySource
	Logout  LogoutFunc
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	Clock   session.Clock
}

// SessionSweepJob expires signed-in sessions that are past the timeout but
// were not expired by a monitor, e.g. because their web process restarted.
// Each session is judged on elapsed time at sweep time, so a late run never
// misses one.
type SessionSweepJob struct {
	store   SessionStore
	policy  session.PolicySource
	logout  LogoutFunc
	logger  *slog.Logger
	metrics *jobmetrics.Metrics
	clock   session.Clock
}

// NewSessionSweepJob constructs the job handler.
func NewSessionSweepJob(cfg SessionSweepConfig) *SessionSweepJob {
	if cfg.Policy == nil {
		cfg.Policy = session.StaticPolicy(session.DefaultPolicy())
	}
	if cfg.Clock == nil {
		cfg.Clock = session.SystemClock
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &SessionSweepJob{
		store:   cfg.Store,
		policy:  cfg.Policy,
		logout:  cfg.Logout,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
		clock:   cfg.Clock,
	}
}

// Handle executes the sweep as an asynq task.
func (j *SessionSweepJob) Handle(ctx context.Context, _ *asynq.Task) error {
	if j == nil || j.store == nil || j.logout == nil {
		return errors.New("session sweep: dependencies not configured")
	}
	tracker := j.metrics.Track(TaskSessionSweep)
	result, err := j.Run(ctx)
	if err == nil {
		j.logger.Info("session sweep",
			slog.Int("scanned", result.Scanned),
			slog.Int("expired", result.Expired),
			slog.Int("orphaned", result.Orphaned),
		)
	}
	return tracker.End(err)
}

// Run sweeps every stored session once.
func (j *SessionSweepJob) Run(ctx context.Context) (SweepResult, error) {
	var result SweepResult
	policy := j.currentPolicy(ctx)
	now := j.clock.Now()

	var ended []session.Snapshot
	err := j.store.ScanIDs(ctx, func(id string) error {
		sess, err := j.store.Lookup(ctx, id)
		if err != nil {
			if errors.Is(err, shared.ErrNotFound) {
				return nil
			}
			if errors.Is(err, shared.ErrSessionCorrupt) {
				j.logger.Warn("session sweep: skip corrupt session", slog.String("session", id))
				return nil
			}
			return err
		}
		result.Scanned++
		if !sess.Authenticated() {
			return nil
		}
		snap := session.Snapshot{ID: id, UserID: sess.User(), RoleID: sess.Role(), LoginAt: sess.LoginAt()}
		switch {
		case snap.LoginAt.IsZero():
			result.Orphaned++
		case policy.State(snap.Elapsed(now)) == session.StateExpired:
			result.Expired++
		default:
			result.Live++
			return nil
		}
		ended = append(ended, snap)
		return nil
	})
	if err != nil {
		return result, fmt.Errorf("session sweep: %w", err)
	}

	// Logout deletes keys, so it runs after the scan finishes.
	for _, snap := range ended {
		j.logout(ctx, snap, session.ReasonExpired)
	}
	j.metrics.AddSweptSessions("live", result.Live)
	j.metrics.AddSweptSessions("expired", result.Expired)
	j.metrics.AddSweptSessions("orphaned", result.Orphaned)
	return result, nil
}

// currentPolicy refreshes the policy before judging sessions when the source
// supports it, so a sweep never logs out against a timeout that is only a
// placeholder for a fetch still in flight.
func (j *SessionSweepJob) currentPolicy(ctx context.Context) session.Policy {
	if r, ok := j.policy.(PolicyRefresher); ok {
		return r.Refresh(ctx)
	}
	return j.policy.Policy(ctx)
}
