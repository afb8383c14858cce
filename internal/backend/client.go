// Package backend talks to the PHP backend that owns settings and audit logs.
package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/bevflow/bevflow/internal/session"
)

const (
	sessionTimeoutPath = "/settings/session-timeout"
	logoutAuditPath    = "/auth/logout-audit"
)

// ErrInvalidTimeout is returned when the backend answers with an unusable timeout.
var ErrInvalidTimeout = errors.New("backend: invalid session timeout")

// Config configures the backend client.
type Config struct {
	BaseURL    string
	Timeout    time.Duration
	RetryCount int
	APIKey     string
}

// Client is a thin resty wrapper over the backend endpoints this service uses.
type Client struct {
	http   *resty.Client
	logger *slog.Logger
}

// LogoutEvent is the audit record sent on every logout.
type LogoutEvent struct {
	UserID    string    `json:"user_id"`
	SessionID string    `json:"session_id"`
	Reason    string    `json:"reason"`
	At        time.Time `json:"at"`
}

// NewClient builds a Client.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json").
		SetHeader("Content-Type", "application/json").
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(100 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second)
	if cfg.APIKey != "" {
		client.SetHeader("Authorization", "Bearer "+cfg.APIKey)
	}
	client.AddRetryCondition(func(r *resty.Response, err error) bool {
		return err != nil || r.StatusCode() >= 500
	})
	return &Client{http: client, logger: logger}
}

// timeoutEnvelope accepts both {"session_timeout": 30} and
// {"success": true, "data": {"session_timeout": "30"}}.
type timeoutEnvelope struct {
	SessionTimeout flexInt `json:"session_timeout"`
	Data           *struct {
		SessionTimeout flexInt `json:"session_timeout"`
	} `json:"data"`
}

// SessionTimeout reads the configured session timeout in minutes.
func (c *Client) SessionTimeout(ctx context.Context) (int, error) {
	var out timeoutEnvelope
	resp, err := c.http.R().SetContext(ctx).SetResult(&out).Get(sessionTimeoutPath)
	if err != nil {
		return 0, fmt.Errorf("backend: session timeout: %w", err)
	}
	if resp.IsError() {
		return 0, fmt.Errorf("backend: session timeout: status %d", resp.StatusCode())
	}
	minutes := out.SessionTimeout
	if out.Data != nil && out.Data.SessionTimeout.set {
		minutes = out.Data.SessionTimeout
	}
	if !minutes.set || !session.ValidTimeoutMinutes(minutes.value) {
		return 0, ErrInvalidTimeout
	}
	return minutes.value, nil
}

// RecordLogout posts a logout audit record.
func (c *Client) RecordLogout(ctx context.Context, ev LogoutEvent) error {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	resp, err := c.http.R().SetContext(ctx).SetBody(ev).Post(logoutAuditPath)
	if err != nil {
		return fmt.Errorf("backend: logout audit: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("backend: logout audit: status %d", resp.StatusCode())
	}
	if c.logger != nil {
		c.logger.Debug("logout audit recorded", slog.String("session", ev.SessionID), slog.String("reason", ev.Reason))
	}
	return nil
}

// flexInt decodes a JSON number or numeric string.
type flexInt struct {
	value int
	set   bool
}

func (f *flexInt) UnmarshalJSON(b []byte) error {
	raw := strings.TrimSpace(string(b))
	if raw == "null" || raw == "" {
		return nil
	}
	if unquoted, err := strconv.Unquote(raw); err == nil {
		raw = strings.TrimSpace(unquoted)
	}
	n := json.Number(raw)
	v, err := n.Int64()
	if err != nil || v > session.MaxTimeoutMinutes || v < -session.MaxTimeoutMinutes {
		return fmt.Errorf("%w: %s", ErrInvalidTimeout, raw)
	}
	f.value = int(v)
	f.set = true
	return nil
}
