package rbac

import "errors"

var (
	// ErrRoleNotFound indicates that the requested role is not registered.
	ErrRoleNotFound = errors.New("rbac: role not found")
	// ErrDuplicateRole occurs when two role definitions share an identifier.
	ErrDuplicateRole = errors.New("rbac: duplicate role")
	// ErrInvalidRole flags a role definition missing its identifier.
	ErrInvalidRole = errors.New("rbac: invalid role")
	// ErrUnknownPermission flags a permission outside the catalog.
	ErrUnknownPermission = errors.New("rbac: unknown permission")
)
