package roles

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/bevflow/bevflow/internal/guard"
	"github.com/bevflow/bevflow/internal/platform/httpx"
	"github.com/bevflow/bevflow/internal/rbac"
	"github.com/bevflow/bevflow/internal/shared"
	"github.com/bevflow/bevflow/internal/view"
)

// Handler serves the role listing for administrators.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	templates *view.Engine
	csrf      *shared.CSRFManager
	guard     *guard.Guard
	rbac      rbac.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, templates *view.Engine, csrf *shared.CSRFManager, g *guard.Guard, rbac rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, templates: templates, csrf: csrf, guard: g, rbac: rbac}
}

// MountRoutes registers the HTML role pages.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Use(h.guard.RequirePage(rbac.PageRoles))
	r.Get("/", h.listRoles)
}

// MountAPI registers the JSON role endpoints.
func (h *Handler) MountAPI(r chi.Router) {
	r.Use(h.guard.RequireAuth())
	r.Use(h.rbac.RequireAny(rbac.PageRoles, rbac.PageUsers))
	r.Get("/", h.listRolesJSON)
	r.Get("/{roleID}", h.getRoleJSON)
}

func (h *Handler) listRoles(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, "pages/roles.html", rolesPage{Roles: h.service.ListRoles(), Viewer: viewerRole(r)}, http.StatusOK)
}

func (h *Handler) listRolesJSON(w http.ResponseWriter, r *http.Request) {
	httpx.JSON(w, http.StatusOK, map[string]any{"roles": h.service.ListRoles()})
}

func (h *Handler) getRoleJSON(w http.ResponseWriter, r *http.Request) {
	role, err := h.service.GetRole(chi.URLParam(r, "roleID"))
	if err != nil {
		if !errors.Is(err, httpx.ErrNotFound) {
			h.logger.Error("get role", slog.Any("error", err))
		}
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, role)
}

type rolesPage struct {
	Roles  []RoleView
	Viewer string
}

func viewerRole(r *http.Request) string {
	snap, _ := guard.SnapshotFromContext(r.Context())
	return snap.RoleID
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, template string, data any, status int) {
	sess := shared.SessionFromContext(r.Context())
	csrfToken, _ := h.csrf.EnsureToken(r.Context(), sess)
	var flash *shared.FlashMessage
	if sess != nil {
		flash = sess.PopFlash()
	}
	viewData := view.TemplateData{Title: "Roles", CSRFToken: csrfToken, Flash: flash, CurrentPath: r.URL.Path, SignedIn: true, Data: data}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := h.templates.Render(w, template, viewData); err != nil {
		h.logger.Error("render template", slog.Any("error", err))
	}
}
