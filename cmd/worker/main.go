package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/hibiken/asynq"

	"github.com/bevflow/bevflow/internal/app"
	"github.com/bevflow/bevflow/internal/auth"
	"github.com/bevflow/bevflow/internal/backend"
	"github.com/bevflow/bevflow/internal/observability"
	"github.com/bevflow/bevflow/internal/platform/cache"
	"github.com/bevflow/bevflow/internal/platform/db"
	"github.com/bevflow/bevflow/internal/session"
	"github.com/bevflow/bevflow/internal/shared"
	"github.com/bevflow/bevflow/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisOptions())
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	sessionManager := shared.NewSessionManager(redisClient, "bevflow_session", cfg.SessionSecret, cfg.SessionTTL, cfg.IsProduction())

	backendClient := backend.NewClient(backend.Config{
		BaseURL:    cfg.BackendURL,
		Timeout:    cfg.BackendTimeout,
		RetryCount: 2,
		APIKey:     cfg.BackendAPIKey,
	}, logger)
	timeouts := session.NewTimeoutProvider(backendClient, session.TimeoutConfig{
		DefaultMinutes: cfg.SessionTimeoutDefault,
		Warn:           cfg.SessionWarn,
		RefreshEvery:   cfg.SessionTimeoutRefresh,
		FetchTimeout:   cfg.BackendTimeout,
		Logger:         logger,
	})
	timeouts.Refresh(ctx)

	// The worker records audits directly; it is the queue's consumer.
	dispatcher := jobs.NewAuditDispatcher(nil, backendClient, logger)
	defer dispatcher.Wait()
	authService := auth.NewService(auth.ServiceConfig{
		Repo:     auth.NewRepository(pool),
		Sessions: sessionManager,
		Auditor:  dispatcher,
		Logger:   logger,
	})

	sweepJob := jobs.NewSessionSweepJob(jobs.SessionSweepConfig{
		Store:   sessionManager,
		Policy:  timeouts,
		Logout:  authService.Logout,
		Logger:  logger,
		Metrics: metrics.Jobs(),
	})
	auditJob := jobs.NewAuditRelayJob(backendClient, logger, metrics.Jobs())

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: cfg.RedisOptions().Asynq(),
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskSessionSweep, Handler: sweepJob.Handle},
			{Type: jobs.TaskAuditLogout, Handler: auditJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: jobs.SessionSweepSpec, Task: jobs.NewSessionSweepTask(), Options: []asynq.Option{asynq.MaxRetry(1), asynq.Unique(jobs.SessionSweepUnique)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	inspector := asynq.NewInspector(cfg.RedisOptions().Asynq())
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	opsServer := newOpsServer(cfg.WorkerAddr, metrics, jobs.NewHandler(inspector, logger))
	go func() {
		logger.Info("starting worker ops server", slog.String("addr", cfg.WorkerAddr))
		if err := opsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("worker ops server", slog.Any("error", err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = opsServer.Shutdown(shutdownCtx)
	}()

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}

// newOpsServer exposes the worker's metrics and queue health.
func newOpsServer(addr string, metrics *observability.Metrics, health *jobs.Handler) *http.Server {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	r.Route("/jobs", health.MountRoutes)
	return &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 5 * time.Second}
}
