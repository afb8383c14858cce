package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	auth "github.com/bevflow/bevflow/internal/auth"
	"github.com/bevflow/bevflow/internal/guard"
	"github.com/bevflow/bevflow/internal/observability"
	"github.com/bevflow/bevflow/internal/pages"
	"github.com/bevflow/bevflow/internal/rbac"
	"github.com/bevflow/bevflow/internal/roles"
	"github.com/bevflow/bevflow/internal/shared"
	"github.com/bevflow/bevflow/jobs"
	"github.com/bevflow/bevflow/web"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger             *slog.Logger
	Config             *Config
	SessionManager     *shared.SessionManager
	CSRFManager        *shared.CSRFManager
	Guard              *guard.Guard
	AuthHandler        *auth.Handler
	SessionHandler     *auth.SessionHandler
	RolesHandler       *roles.Handler
	PagesHandler       *pages.Handler
	PermissionsHandler *rbac.PermissionsHandler
	JobHandler         *jobs.Handler
	Metrics            *observability.Metrics
}

// NewRouter constructs the chi.Router with bevflow defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:         params.Logger,
		Config:         params.Config,
		SessionManager: params.SessionManager,
		CSRFManager:    params.CSRFManager,
		Metrics:        params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	if params.AuthHandler != nil {
		r.Route("/auth", params.AuthHandler.MountRoutes)
	}
	if params.SessionHandler != nil {
		r.Route("/session", params.SessionHandler.MountRoutes)
	}
	if params.PermissionsHandler != nil {
		r.Route("/api/me/permissions", func(r chi.Router) {
			r.Use(params.Guard.RequireAuth())
			params.PermissionsHandler.MountRoutes(r)
		})
	}
	if params.RolesHandler != nil {
		r.Route("/roles", params.RolesHandler.MountRoutes)
		r.Route("/api/roles", params.RolesHandler.MountAPI)
	}
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	staticFS, err := web.Static()
	if err != nil {
		params.Logger.Error("create static sub filesystem", slog.Any("error", err))
	} else {
		fileServer := http.StripPrefix("/static/", http.FileServer(http.FS(staticFS)))
		r.Handle("/static/*", staticCacheHandler(fileServer))
	}

	if params.PagesHandler != nil {
		params.PagesHandler.MountRoutes(r)
	}

	return r
}

// staticCacheHandler caches static assets in the browser for an hour.
func staticCacheHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "public, max-age=3600")
		next.ServeHTTP(w, r)
	})
}
