package rbac

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/bevflow/bevflow/internal/platform/httpx"
	"github.com/bevflow/bevflow/internal/shared"
)

// Middleware wires RBAC authorization helpers for HTTP handlers. It answers
// with bare 401/403 problems and suits JSON endpoints; page routes go through
// the guard package, which renders the denial views.
type Middleware struct {
	Evaluator *Evaluator
	Logger    *slog.Logger
}

// RequireAny ensures the current user has at least one of the required permissions.
func (m Middleware) RequireAny(perms ...Permission) func(http.Handler) http.Handler {
	normalized := normalizePermissions(perms)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(normalized) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			roleID, ok := m.currentRole(r)
			if !ok {
				httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "")
				return
			}
			for _, p := range normalized {
				if m.Evaluator.CanAccess(roleID, p) {
					next.ServeHTTP(w, r)
					return
				}
			}
			httpx.Problem(w, http.StatusForbidden, "Forbidden", "requires any of "+joinPermissions(normalized))
		})
	}
}

// RequireAll ensures the current user has all required permissions.
func (m Middleware) RequireAll(perms ...Permission) func(http.Handler) http.Handler {
	normalized := normalizePermissions(perms)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(normalized) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			roleID, ok := m.currentRole(r)
			if !ok {
				httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "")
				return
			}
			for _, p := range normalized {
				if !m.Evaluator.CanAccess(roleID, p) {
					httpx.Problem(w, http.StatusForbidden, "Forbidden", "requires "+string(p))
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (m Middleware) currentRole(r *http.Request) (string, bool) {
	sess := shared.SessionFromContext(r.Context())
	if !sess.Authenticated() {
		return "", false
	}
	role := strings.TrimSpace(sess.Role())
	if role == "" && m.Logger != nil {
		m.Logger.Warn("rbac session without role", slog.String("user", sess.User()))
	}
	return role, true
}

func normalizePermissions(perms []Permission) []Permission {
	unique := make(map[Permission]struct{}, len(perms))
	normalized := make([]Permission, 0, len(perms))
	for _, p := range perms {
		p = normalizePermission(string(p))
		if p == "" {
			continue
		}
		if _, seen := unique[p]; seen {
			continue
		}
		unique[p] = struct{}{}
		normalized = append(normalized, p)
	}
	return normalized
}

func joinPermissions(perms []Permission) string {
	names := make([]string, len(perms))
	for i, p := range perms {
		names[i] = string(p)
	}
	return strings.Join(names, ", ")
}
