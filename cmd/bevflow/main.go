package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/kelseyhightower/envconfig"

	"github.com/bevflow/bevflow/cmd/bevflow/cli"
	"github.com/bevflow/bevflow/internal/app"
	"github.com/bevflow/bevflow/internal/auth"
	"github.com/bevflow/bevflow/internal/backend"
	"github.com/bevflow/bevflow/internal/guard"
	"github.com/bevflow/bevflow/internal/observability"
	"github.com/bevflow/bevflow/internal/pages"
	"github.com/bevflow/bevflow/internal/platform/cache"
	"github.com/bevflow/bevflow/internal/platform/db"
	"github.com/bevflow/bevflow/internal/rbac"
	"github.com/bevflow/bevflow/internal/roles"
	"github.com/bevflow/bevflow/internal/session"
	"github.com/bevflow/bevflow/internal/shared"
	"github.com/bevflow/bevflow/internal/view"
	"github.com/bevflow/bevflow/jobs"
)

func main() {
	if len(os.Args) > 1 {
		os.Exit(runCommand(os.Args[1:]))
	}

	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
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

	registry, err := loadRegistry(cfg)
	if err != nil {
		logger.Error("load roles", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("roles loaded", slog.Int("count", registry.Len()))

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient := cache.NewClient(cfg.RedisOptions())
	if err := cache.Ping(ctx, redisClient); err != nil {
		logger.Warn("redis unavailable, sessions will report loading", slog.Any("error", err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	sessionManager := shared.NewSessionManager(redisClient, "bevflow_session", cfg.SessionSecret, cfg.SessionTTL, cfg.IsProduction())
	csrfManager := shared.NewCSRFManager(cfg.CSRFSecret)

	templates, err := view.NewEngine()
	if err != nil {
		logger.Error("parse templates", slog.Any("error", err))
		os.Exit(1)
	}

	metrics := observability.NewMetrics()
	evaluator := rbac.NewEvaluator(registry, logger, metrics)
	rbacMiddleware := rbac.Middleware{Evaluator: evaluator, Logger: logger}

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

	redisOpts := cfg.RedisOptions().Asynq()
	queueClient, err := jobs.NewClient(redisOpts)
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := queueClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()
	dispatcher := jobs.NewAuditDispatcher(queueClient, backendClient, logger)

	authService := auth.NewService(auth.ServiceConfig{
		Repo:     auth.NewRepository(dbpool),
		Sessions: sessionManager,
		Auditor:  dispatcher,
		Logger:   logger,
	})

	supervisor := session.NewSupervisor(ctx, session.SupervisorConfig{
		Policy:   timeouts,
		Interval: cfg.SessionPollInterval,
		OnExpire: authService.Logout,
		Observer: metrics,
		Logger:   logger,
	})

	routeGuard := guard.New(guard.Config{
		Evaluator:  evaluator,
		Sessions:   sessionManager,
		Supervisor: supervisor,
		Templates:  templates,
		CSRF:       csrfManager,
		Logger:     logger,
		Metrics:    metrics,
		Terminate:  authService.Logout,
	})

	authHandler := auth.NewHandler(logger, authService, templates, sessionManager, csrfManager, supervisor)
	sessionHandler := auth.NewSessionHandler(logger, routeGuard, supervisor, nil)
	rolesHandler := roles.NewHandler(logger, roles.NewService(registry), templates, csrfManager, routeGuard, rbacMiddleware)
	pagesHandler := pages.NewHandler(logger, templates, csrfManager, routeGuard)
	permissionsHandler := rbac.NewPermissionsHandler(logger, evaluator)

	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		SessionManager:     sessionManager,
		CSRFManager:        csrfManager,
		Guard:              routeGuard,
		AuthHandler:        authHandler,
		SessionHandler:     sessionHandler,
		RolesHandler:       rolesHandler,
		PagesHandler:       pagesHandler,
		PermissionsHandler: permissionsHandler,
		JobHandler:         jobHandler,
		Metrics:            metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
	supervisor.Shutdown()
	dispatcher.Wait()
}

func loadRegistry(cfg *app.Config) (*rbac.Registry, error) {
	if cfg.RolesFile != "" {
		return rbac.LoadRegistryFile(cfg.RolesFile)
	}
	return rbac.DefaultRegistry()
}

// runCommand handles the operator subcommands:
//
//	bevflow roles check [--json] <file>
//	bevflow jobs trigger session-sweep
//	bevflow jobs stats
func runCommand(args []string) int {
	switch args[0] {
	case "roles":
		if len(args) < 2 || args[1] != "check" {
			_, _ = os.Stderr.WriteString("usage: bevflow roles check [--json] <file>\n")
			return 2
		}
		opts := cli.RolesCheckOptions{}
		for _, arg := range args[2:] {
			if arg == "--json" {
				opts.JSONOutput = true
				continue
			}
			opts.Path = arg
		}
		return cli.RolesCheckCommand(opts)
	case "jobs":
		var redisEnv struct {
			Addr     string `envconfig:"REDIS_ADDR" default:"127.0.0.1:6379"`
			Password string `envconfig:"REDIS_PASSWORD"`
			DB       int    `envconfig:"REDIS_DB" default:"0"`
		}
		if err := envconfig.Process("", &redisEnv); err != nil {
			_, _ = os.Stderr.WriteString(err.Error() + "\n")
			return 2
		}
		opts := cache.Options{Addr: redisEnv.Addr, Password: redisEnv.Password, DB: redisEnv.DB}
		jobsCLI, err := cli.NewJobsCLI(opts.Asynq())
		if err != nil {
			_, _ = os.Stderr.WriteString(err.Error() + "\n")
			return 1
		}
		defer jobsCLI.Close()
		return jobsCLI.Command(context.Background(), cli.JobsOptions{Args: args[1:]})
	default:
		_, _ = os.Stderr.WriteString("unknown command " + args[0] + "\n")
		return 2
	}
}
