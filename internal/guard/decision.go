// Package guard decides what a protected request gets to see: a loading
// placeholder, the login redirect, one of the denial views, or the page.
package guard

import (
	"github.com/bevflow/bevflow/internal/rbac"
	"github.com/bevflow/bevflow/internal/session"
)

// Kind enumerates guard outcomes in the order they are checked.
type Kind int

const (
	KindLoading Kind = iota
	KindRedirectLogin
	KindAccessDenied
	KindInsufficientPermission
	KindAllow
)

func (k Kind) String() string {
	switch k {
	case KindLoading:
		return "loading"
	case KindRedirectLogin:
		return "redirect_login"
	case KindAccessDenied:
		return "access_denied"
	case KindInsufficientPermission:
		return "insufficient_permission"
	case KindAllow:
		return "allow"
	default:
		return "unknown"
	}
}

// AuthState is the authentication status of one request.
type AuthState struct {
	// Loading is set while the session store cannot tell whether the user is signed in.
	Loading       bool
	Authenticated bool
	Session       session.Snapshot
	// Path is the requested location, kept for the post-login return.
	Path string
}

// Requirement names what a route needs. Either field may be empty.
type Requirement struct {
	Page   rbac.Permission
	Action rbac.Permission
}

// Decision is the outcome of Decide.
type Decision struct {
	Kind            Kind
	ReturnTo        string
	RoleID          string
	RoleName        string
	RoleDescription string
	Permission      rbac.Permission
}

// Allowed reports whether the requested content may render.
func (d Decision) Allowed() bool {
	return d.Kind == KindAllow
}

// Evaluator is the subset of rbac.Evaluator the guard needs.
type Evaluator interface {
	CanAccess(roleID string, resource rbac.Permission) bool
	CanAccessPage(roleID string, page rbac.Permission) bool
	Role(roleID string) (rbac.Role, bool)
}

// Decide applies the guard rules. Authentication is checked before
// authorization, and the page before the action, so a failure is reported at
// the coarsest level that applies.
func Decide(state AuthState, req Requirement, ev Evaluator) Decision {
	if state.Loading {
		return Decision{Kind: KindLoading, ReturnTo: state.Path}
	}
	if !state.Authenticated || !state.Session.Valid {
		return Decision{Kind: KindRedirectLogin, ReturnTo: state.Path}
	}

	roleID := state.Session.RoleID
	if req.Page != "" && (ev == nil || !ev.CanAccessPage(roleID, req.Page)) {
		d := Decision{Kind: KindAccessDenied, RoleID: roleID, Permission: req.Page}
		d.RoleName, d.RoleDescription = describeRole(ev, roleID)
		return d
	}
	if req.Action != "" && (ev == nil || !ev.CanAccess(roleID, req.Action)) {
		return Decision{Kind: KindInsufficientPermission, RoleID: roleID, Permission: req.Action}
	}
	return Decision{Kind: KindAllow, RoleID: roleID}
}

func describeRole(ev Evaluator, roleID string) (string, string) {
	if ev != nil {
		if role, ok := ev.Role(roleID); ok {
			return role.Name, role.Description
		}
	}
	if roleID == "" {
		return "No role", "Your account has no role assigned."
	}
	return roleID, "This role is not recognised, so it has no permissions."
}
