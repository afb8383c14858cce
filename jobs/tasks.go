package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/bevflow/bevflow/internal/backend"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskSessionSweep expires sessions no web process is monitoring.
	TaskSessionSweep = "session:sweep"
	// TaskAuditLogout relays a logout audit record to the backend.
	TaskAuditLogout = "audit:logout"

	// SessionSweepSpec runs the sweep once a minute, matching the monitor cadence.
	SessionSweepSpec = "* * * * *"
	// SessionSweepUnique keeps a slow sweep from stacking up behind itself.
	SessionSweepUnique = 50 * time.Second
)

// NewSessionSweepTask constructs the sweep task.
func NewSessionSweepTask() *asynq.Task {
	return asynq.NewTask(TaskSessionSweep, nil, asynq.Queue(QueueDefault))
}

// NewAuditLogoutTask constructs an audit relay task for ev.
func NewAuditLogoutTask(ev backend.LogoutEvent) (*asynq.Task, error) {
	if ev.SessionID == "" {
		return nil, fmt.Errorf("jobs: audit logout: missing session id")
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAuditLogout, data, asynq.Queue(QueueDefault), asynq.MaxRetry(5)), nil
}
