package rbac

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/bevflow/bevflow/internal/platform/httpx"
	"github.com/bevflow/bevflow/internal/shared"
)

// PermissionsHandler exposes the signed-in user's permissions to the UI.
type PermissionsHandler struct {
	logger    *slog.Logger
	evaluator *Evaluator
}

// NewPermissionsHandler builds PermissionsHandler instance.
func NewPermissionsHandler(logger *slog.Logger, evaluator *Evaluator) *PermissionsHandler {
	return &PermissionsHandler{logger: logger, evaluator: evaluator}
}

// MountRoutes registers permission routes. Callers mount it behind an
// authentication guard.
func (h *PermissionsHandler) MountRoutes(r chi.Router) {
	r.Get("/", h.listPermissions)
	r.Get("/{permission}", h.checkPermission)
	r.Post("/check", h.checkBatch)
}

type permissionsResponse struct {
	Role        string   `json:"role"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Permissions []string `json:"permissions"`
	Pages       []string `json:"pages"`
}

type checkResponse struct {
	Permission string `json:"permission"`
	Allowed    bool   `json:"allowed"`
}

type batchRequest struct {
	Permissions []string `json:"permissions"`
}

type batchResponse struct {
	Results []checkResponse `json:"results"`
	// Any and All summarise Results for callers gating on several permissions.
	Any bool `json:"any"`
	All bool `json:"all"`
}

func (h *PermissionsHandler) listPermissions(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	if !sess.Authenticated() {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "")
		return
	}
	resp := permissionsResponse{Role: sess.Role(), Permissions: []string{}, Pages: []string{}}
	if role, ok := h.evaluator.Role(sess.Role()); ok {
		resp.Name = role.Name
		resp.Description = role.Description
	} else if h.logger != nil {
		h.logger.Warn("permissions for unknown role", slog.String("role", sess.Role()), slog.String("user", sess.User()))
	}
	for _, p := range h.evaluator.Permissions(sess.Role()) {
		resp.Permissions = append(resp.Permissions, string(p))
		if p.IsPage() {
			resp.Pages = append(resp.Pages, string(p))
		}
	}
	httpx.JSON(w, http.StatusOK, resp)
}

func (h *PermissionsHandler) checkPermission(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	if !sess.Authenticated() {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "")
		return
	}
	perm := Permission(chi.URLParam(r, "permission"))
	httpx.JSON(w, http.StatusOK, checkResponse{
		Permission: string(normalizePermission(string(perm))),
		Allowed:    h.evaluator.CanAccess(sess.Role(), perm),
	})
}

func (h *PermissionsHandler) checkBatch(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	if !sess.Authenticated() {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "")
		return
	}
	var req batchRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	perms := normalizePermissions(toPermissions(req.Permissions))
	if len(perms) == 0 {
		httpx.RespondError(w, fmt.Errorf("%w: permissions must not be empty", httpx.ErrValidation))
		return
	}
	resp := batchResponse{Results: make([]checkResponse, 0, len(perms)), All: true}
	for _, p := range perms {
		allowed := h.evaluator.CanAccess(sess.Role(), p)
		resp.Results = append(resp.Results, checkResponse{Permission: string(p), Allowed: allowed})
		resp.Any = resp.Any || allowed
		resp.All = resp.All && allowed
	}
	httpx.JSON(w, http.StatusOK, resp)
}

func toPermissions(names []string) []Permission {
	perms := make([]Permission, len(names))
	for i, name := range names {
		perms[i] = Permission(name)
	}
	return perms
}
