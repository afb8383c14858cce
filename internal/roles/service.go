package roles

import (
	"errors"
	"fmt"

	"github.com/bevflow/bevflow/internal/platform/httpx"
	"github.com/bevflow/bevflow/internal/rbac"
)

// Source is the read-only role catalogue.
type Source interface {
	ListRoles() []rbac.Role
	Role(id string) (rbac.Role, error)
}

// Service exposes the registry to the admin UI. Role changes are made in the
// backend; this service only reads.
type Service struct {
	source Source
}

// NewService constructs a Service.
func NewService(source Source) *Service {
	return &Service{source: source}
}

// ListRoles returns roles in definition order.
func (s *Service) ListRoles() []RoleView {
	roles := s.source.ListRoles()
	views := make([]RoleView, 0, len(roles))
	for _, role := range roles {
		views = append(views, toView(role))
	}
	return views
}

// GetRole returns one role. Unknown identifiers match both
// rbac.ErrRoleNotFound and httpx.ErrNotFound.
func (s *Service) GetRole(id string) (RoleView, error) {
	role, err := s.source.Role(id)
	if err != nil {
		if errors.Is(err, rbac.ErrRoleNotFound) {
			return RoleView{}, fmt.Errorf("roles: get %q: %w: %w", id, httpx.ErrNotFound, err)
		}
		return RoleView{}, fmt.Errorf("roles: get %q: %w", id, err)
	}
	return toView(role), nil
}

func toView(role rbac.Role) RoleView {
	view := RoleView{
		ID:          role.ID,
		Name:        role.Name,
		Description: role.Description,
		Pages:       []string{},
		Actions:     []string{},
	}
	for _, p := range role.Granted() {
		if p.IsPage() {
			view.Pages = append(view.Pages, string(p))
		} else {
			view.Actions = append(view.Actions, string(p))
		}
	}
	for _, p := range rbac.Catalog() {
		if allowed, ok := role.Permissions[p]; ok && !allowed {
			view.Denied = append(view.Denied, string(p))
		}
	}
	return view
}
