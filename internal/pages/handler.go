// Package pages serves the guarded shells of the back-office pages. The page
// bodies are rendered client side against the backend API.
package pages

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/bevflow/bevflow/internal/guard"
	"github.com/bevflow/bevflow/internal/platform/httpx"
	"github.com/bevflow/bevflow/internal/rbac"
	"github.com/bevflow/bevflow/internal/shared"
	"github.com/bevflow/bevflow/internal/view"
)

type shell struct {
	path   string
	title  string
	page   rbac.Permission
	action rbac.Permission
}

var shells = []shell{
	{path: "/dashboard", title: "Dashboard", page: rbac.PageDashboard},
	{path: "/orders", title: "Orders", page: rbac.PageOrders},
	{path: "/orders/new", title: "New order", page: rbac.PageOrders, action: rbac.ActOrdersCreate},
	{path: "/orders/{id}/edit", title: "Edit order", page: rbac.PageOrders, action: rbac.ActOrdersEdit},
	{path: "/products", title: "Products", page: rbac.PageProducts},
	{path: "/products/new", title: "New product", page: rbac.PageProducts, action: rbac.ActProductsCreate},
	{path: "/products/{id}/edit", title: "Edit product", page: rbac.PageProducts, action: rbac.ActProductsEdit},
	{path: "/inventory", title: "Inventory", page: rbac.PageInventory},
	{path: "/customers", title: "Customers", page: rbac.PageCustomers},
	{path: "/customers/new", title: "New customer", page: rbac.PageCustomers, action: rbac.ActCustomersCreate},
	{path: "/customers/{id}/edit", title: "Edit customer", page: rbac.PageCustomers, action: rbac.ActCustomersEdit},
	{path: "/reports", title: "Reports", page: rbac.PageReports},
	{path: "/settings", title: "Settings", page: rbac.PageSettings},
	{path: "/settings/edit", title: "Edit settings", page: rbac.PageSettings, action: rbac.ActSettingsEdit},
	{path: "/users", title: "Users", page: rbac.PageUsers},
	{path: "/notifications", title: "Notifications", page: rbac.PageNotifications},
}

type command struct {
	path   string
	page   rbac.Permission
	action rbac.Permission
}

var commands = []command{
	{path: "/orders/{id}/delete", page: rbac.PageOrders, action: rbac.ActOrdersDelete},
	{path: "/orders/{id}/status", page: rbac.PageOrders, action: rbac.ActOrdersStatus},
	{path: "/products/{id}/delete", page: rbac.PageProducts, action: rbac.ActProductsDelete},
	{path: "/inventory/adjust", page: rbac.PageInventory, action: rbac.ActInventoryAdjust},
	{path: "/customers/{id}/delete", page: rbac.PageCustomers, action: rbac.ActCustomersDelete},
	{path: "/reports/export", page: rbac.PageReports, action: rbac.ActReportsExport},
	{path: "/users/manage", page: rbac.PageUsers, action: rbac.ActUsersManage},
}

// Handler renders page shells behind the guard.
type Handler struct {
	logger    *slog.Logger
	templates *view.Engine
	csrf      *shared.CSRFManager
	guard     *guard.Guard
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, templates *view.Engine, csrf *shared.CSRFManager, g *guard.Guard) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, templates: templates, csrf: csrf, guard: g}
}

// MountRoutes registers every shell and command route.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
	})
	for _, s := range shells {
		r.With(h.guard.Require(guard.Requirement{Page: s.page, Action: s.action})).Get(s.path, h.renderShell(s))
	}
	for _, c := range commands {
		r.With(h.guard.Require(guard.Requirement{Page: c.page, Action: c.action})).Post(c.path, h.accept(c))
	}
}

type pageView struct {
	Page   string
	Action string
	Title  string
	ID     string
}

func (h *Handler) renderShell(s shell) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess := shared.SessionFromContext(r.Context())
		csrfToken, _ := h.csrf.EnsureToken(r.Context(), sess)
		var flash *shared.FlashMessage
		if sess != nil {
			flash = sess.PopFlash()
		}
		data := view.TemplateData{
			Title:       s.title,
			CSRFToken:   csrfToken,
			Flash:       flash,
			CurrentPath: r.URL.Path,
			SignedIn:    true,
			Nav:         h.nav(r),
			Data: pageView{
				Page:   string(s.page),
				Action: string(s.action),
				Title:  s.title,
				ID:     chi.URLParam(r, "id"),
			},
		}
		if err := h.templates.Render(w, "pages/page.html", data); err != nil {
			h.logger.Error("render page shell", slog.String("page", string(s.page)), slog.Any("error", err))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
	}
}

// nav lists the top-level shells the current role may open.
func (h *Handler) nav(r *http.Request) []view.NavLink {
	snap, ok := guard.SnapshotFromContext(r.Context())
	if !ok {
		return nil
	}
	var links []view.NavLink
	for _, s := range shells {
		if s.action != "" || strings.Contains(s.path, "{") {
			continue
		}
		if h.guard.CanOpen(snap.RoleID, s.page) {
			links = append(links, view.NavLink{Label: s.title, Path: s.path})
		}
	}
	if h.guard.CanOpen(snap.RoleID, rbac.PageRoles) {
		links = append(links, view.NavLink{Label: "Roles", Path: "/roles"})
	}
	return links
}

type commandResponse struct {
	Action string `json:"action"`
	ID     string `json:"id,omitempty"`
	Status string `json:"status"`
}

// accept acknowledges a permitted command. The backend performs the change.
func (h *Handler) accept(c command) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap, _ := guard.SnapshotFromContext(r.Context())
		h.logger.Info("command permitted",
			slog.String("action", string(c.action)),
			slog.String("user", snap.UserID),
			slog.String("role", snap.RoleID),
		)
		httpx.JSON(w, http.StatusAccepted, commandResponse{Action: string(c.action), ID: chi.URLParam(r, "id"), Status: "accepted"})
	}
}
