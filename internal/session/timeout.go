package session

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

// TimeoutFetcher reads the configured session timeout, in minutes.
type TimeoutFetcher interface {
	SessionTimeout(ctx context.Context) (int, error)
}

// TimeoutConfig configures a TimeoutProvider.
type TimeoutConfig struct {
	// DefaultMinutes is used until a fetch succeeds and whenever it fails.
	DefaultMinutes int
	Warn           time.Duration
	// RefreshEvery bounds how stale the last-known value may get.
	RefreshEvery time.Duration
	// FetchTimeout bounds a single background fetch.
	FetchTimeout time.Duration
	Clock        Clock
	Logger       *slog.Logger
}

// TimeoutProvider serves the session policy from the last known timeout and
// refreshes it from the backend in the background. Policy never waits on the
// network.
type TimeoutProvider struct {
	fetcher TimeoutFetcher
	cfg     TimeoutConfig

	minutes     atomic.Int64
	attemptedAt atomic.Int64
	refreshing  atomic.Bool
	group       singleflight.Group
}

// NewTimeoutProvider builds a provider. A nil fetcher serves the default forever.
func NewTimeoutProvider(fetcher TimeoutFetcher, cfg TimeoutConfig) *TimeoutProvider {
	if !ValidTimeoutMinutes(cfg.DefaultMinutes) {
		cfg.DefaultMinutes = DefaultTimeoutMinutes
	}
	if cfg.Warn <= 0 {
		cfg.Warn = DefaultWarn
	}
	if cfg.RefreshEvery <= 0 {
		cfg.RefreshEvery = 5 * time.Minute
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 5 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = SystemClock
	}
	p := &TimeoutProvider{fetcher: fetcher, cfg: cfg}
	p.minutes.Store(int64(cfg.DefaultMinutes))
	return p
}

// Minutes returns the timeout currently in force.
func (p *TimeoutProvider) Minutes() int {
	return int(p.minutes.Load())
}

// Policy implements PolicySource. A stale value triggers one background refresh.
func (p *TimeoutProvider) Policy(ctx context.Context) Policy {
	if p.stale() && p.fetcher != nil && p.refreshing.CompareAndSwap(false, true) {
		go func() {
			defer p.refreshing.Store(false)
			fetchCtx, cancel := context.WithTimeout(context.Background(), p.cfg.FetchTimeout)
			defer cancel()
			p.Refresh(fetchCtx)
		}()
	}
	return p.current()
}

// Refresh fetches the timeout now. Concurrent calls share one request.
// Failures and out-of-range values keep the last known timeout.
func (p *TimeoutProvider) Refresh(ctx context.Context) Policy {
	if p.fetcher == nil {
		return p.current()
	}
	ctx, cancel := context.WithTimeout(ctx, p.cfg.FetchTimeout)
	defer cancel()
	ch := p.group.DoChan("timeout", func() (interface{}, error) {
		p.attemptedAt.Store(p.cfg.Clock.Now().UnixNano())
		return p.fetcher.SessionTimeout(ctx)
	})
	select {
	case <-ctx.Done():
		p.logFallback(ctx.Err())
	case res := <-ch:
		switch {
		case res.Err != nil:
			p.logFallback(res.Err)
		case !ValidTimeoutMinutes(res.Val.(int)):
			if p.cfg.Logger != nil {
				p.cfg.Logger.Warn("session timeout ignored", slog.Int("minutes", res.Val.(int)), slog.Int("using", p.Minutes()))
			}
		default:
			p.minutes.Store(int64(res.Val.(int)))
		}
	}
	return p.current()
}

func (p *TimeoutProvider) current() Policy {
	return Policy{Timeout: time.Duration(p.minutes.Load()) * time.Minute, Warn: p.cfg.Warn}
}

func (p *TimeoutProvider) stale() bool {
	last := p.attemptedAt.Load()
	if last == 0 {
		return true
	}
	return p.cfg.Clock.Now().Sub(time.Unix(0, last)) >= p.cfg.RefreshEvery
}

func (p *TimeoutProvider) logFallback(err error) {
	if p.cfg.Logger == nil {
		return
	}
	p.cfg.Logger.Warn("session timeout fetch failed", slog.Any("error", err), slog.Int("using", p.Minutes()))
}
