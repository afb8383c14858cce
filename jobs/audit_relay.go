package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hibiken/asynq"

	"github.com/bevflow/bevflow/internal/backend"
	jobmetrics "github.com/bevflow/bevflow/internal/jobs"
)

// AuditRecorder posts logout audit records to the backend.
type AuditRecorder interface {
	RecordLogout(ctx context.Context, ev backend.LogoutEvent) error
}

// AuditRelayJob delivers queued logout audits; asynq retries failures.
type AuditRelayJob struct {
	Backend AuditRecorder
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewAuditRelayJob constructs the job handler.
func NewAuditRelayJob(recorder AuditRecorder, logger *slog.Logger, metrics *jobmetrics.Metrics) *AuditRelayJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditRelayJob{Backend: recorder, Logger: logger, Metrics: metrics}
}

// Handle executes the audit relay.
func (j *AuditRelayJob) Handle(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.Backend == nil {
		return errors.New("audit relay: dependencies not configured")
	}
	var ev backend.LogoutEvent
	if err := json.Unmarshal(task.Payload(), &ev); err != nil || ev.SessionID == "" {
		j.Logger.Warn("audit relay: bad payload", slog.Any("error", err))
		return fmt.Errorf("audit relay: decode payload: %w", asynq.SkipRetry)
	}
	tracker := j.Metrics.Track(TaskAuditLogout)
	err := j.Backend.RecordLogout(ctx, ev)
	if err != nil {
		j.Logger.Warn("audit relay failed",
			slog.String("session", ev.SessionID),
			slog.String("reason", ev.Reason),
			slog.Any("error", err),
		)
	}
	return tracker.End(err)
}

// AuditEnqueuer queues audit relay tasks.
type AuditEnqueuer interface {
	EnqueueAuditLogout(ctx context.Context, ev backend.LogoutEvent) (*asynq.TaskInfo, error)
}

// AuditDispatcher hands logout audits to the worker queue and falls back to a
// direct backend call in the background when the queue is unavailable. It
// never blocks the caller on the backend and never reports failure.
type AuditDispatcher struct {
	queue   AuditEnqueuer
	direct  AuditRecorder
	logger  *slog.Logger
	timeout time.Duration
	wg      sync.WaitGroup
}

// NewAuditDispatcher constructs a dispatcher. Either side may be nil.
func NewAuditDispatcher(queue AuditEnqueuer, direct AuditRecorder, logger *slog.Logger) *AuditDispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditDispatcher{queue: queue, direct: direct, logger: logger, timeout: 10 * time.Second}
}

// AuditLogout dispatches ev.
func (d *AuditDispatcher) AuditLogout(ctx context.Context, ev backend.LogoutEvent) {
	if d == nil {
		return
	}
	if d.queue != nil {
		_, err := d.queue.EnqueueAuditLogout(ctx, ev)
		if err == nil {
			return
		}
		d.logger.Warn("enqueue logout audit", slog.String("session", ev.SessionID), slog.Any("error", err))
	}
	if d.direct == nil {
		d.logger.Warn("logout audit dropped", slog.String("session", ev.SessionID))
		return
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
		defer cancel()
		if err := d.direct.RecordLogout(ctx, ev); err != nil {
			d.logger.Warn("logout audit failed", slog.String("session", ev.SessionID), slog.Any("error", err))
		}
	}()
}

// Wait blocks until background deliveries finish. Used on shutdown.
func (d *AuditDispatcher) Wait() {
	if d == nil {
		return
	}
	d.wg.Wait()
}
