package jobs

import (
	"context"

	"github.com/hibiken/asynq"

	"github.com/bevflow/bevflow/internal/backend"
)

// Client submits tasks to the queue.
type Client struct {
	client *asynq.Client
}

// NewClient constructs an asynq-backed Client.
func NewClient(redisOpts asynq.RedisClientOpt) (*Client, error) {
	return &Client{client: asynq.NewClient(redisOpts)}, nil
}

// EnqueueAuditLogout queues a logout audit for the relay job.
func (c *Client) EnqueueAuditLogout(ctx context.Context, ev backend.LogoutEvent) (*asynq.TaskInfo, error) {
	task, err := NewAuditLogoutTask(ev)
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(ctx, task)
}

// Close releases client resources.
func (c *Client) Close() error {
	return c.client.Close()
}
