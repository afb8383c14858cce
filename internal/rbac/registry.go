package rbac

import (
	_ "embed"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

//go:embed roles.yaml
var defaultRolesYAML string

// Registry is the immutable set of roles known to the application.
type Registry struct {
	order []string
	roles map[string]Role
}

type roleFile struct {
	Roles []roleDefinition `yaml:"roles"`
}

type roleDefinition struct {
	ID          string          `yaml:"id"`
	Name        string          `yaml:"name"`
	Description string          `yaml:"description"`
	Permissions map[string]bool `yaml:"permissions"`
}

// NewRegistry builds a registry from the given roles, keeping their order.
func NewRegistry(roles ...Role) (*Registry, error) {
	reg := &Registry{
		order: make([]string, 0, len(roles)),
		roles: make(map[string]Role, len(roles)),
	}
	for _, role := range roles {
		id := normalizeRoleID(role.ID)
		if id == "" {
			return nil, fmt.Errorf("%w: empty id", ErrInvalidRole)
		}
		if _, exists := reg.roles[id]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateRole, id)
		}
		stored := role.clone()
		stored.ID = id
		stored.Name = strings.TrimSpace(stored.Name)
		if stored.Name == "" {
			stored.Name = displayName(id)
		}
		stored.Description = strings.TrimSpace(stored.Description)
		for p := range stored.Permissions {
			if !p.Known() {
				return nil, fmt.Errorf("%w: %q in role %s", ErrUnknownPermission, p, id)
			}
		}
		reg.order = append(reg.order, id)
		reg.roles[id] = stored
	}
	return reg, nil
}

// LoadRegistry decodes a YAML role file.
func LoadRegistry(r io.Reader) (*Registry, error) {
	var file roleFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("rbac: decode roles: %w", err)
	}
	roles := make([]Role, 0, len(file.Roles))
	for _, def := range file.Roles {
		role := Role{
			ID:          def.ID,
			Name:        def.Name,
			Description: def.Description,
			Permissions: make(map[Permission]bool, len(def.Permissions)),
		}
		for name, allowed := range def.Permissions {
			p, err := ParsePermission(name)
			if err != nil {
				return nil, fmt.Errorf("rbac: role %s: %w", def.ID, err)
			}
			role.Permissions[p] = allowed
		}
		roles = append(roles, role)
	}
	return NewRegistry(roles...)
}

// LoadRegistryFile reads roles from a YAML file on disk.
func LoadRegistryFile(path string) (*Registry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("rbac: open roles file: %w", err)
	}
	defer f.Close()
	return LoadRegistry(f)
}

// DefaultRegistry returns the built-in roles.
func DefaultRegistry() (*Registry, error) {
	return LoadRegistry(strings.NewReader(defaultRolesYAML))
}

// GetRole looks up a role by its exact identifier. Identifiers are
// normalized once when the registry is built, never on lookup.
func (r *Registry) GetRole(id string) (Role, bool) {
	if r == nil {
		return Role{}, false
	}
	role, ok := r.roles[id]
	if !ok {
		return Role{}, false
	}
	return role.clone(), true
}

// Role is GetRole with ErrRoleNotFound for unknown identifiers.
func (r *Registry) Role(id string) (Role, error) {
	role, ok := r.GetRole(id)
	if !ok {
		return Role{}, fmt.Errorf("%w: %s", ErrRoleNotFound, id)
	}
	return role, nil
}

// ListRoles returns the roles in definition order.
func (r *Registry) ListRoles() []Role {
	if r == nil {
		return nil
	}
	roles := make([]Role, 0, len(r.order))
	for _, id := range r.order {
		roles = append(roles, r.roles[id].clone())
	}
	return roles
}

// Len reports the number of registered roles.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.order)
}

// lookup returns the stored role without copying. Callers must not mutate it.
func (r *Registry) lookup(id string) (Role, bool) {
	if r == nil {
		return Role{}, false
	}
	role, ok := r.roles[id]
	return role, ok
}

func displayName(id string) string {
	words := strings.ReplaceAll(id, "_", " ")
	return cases.Title(language.English).String(words)
}
