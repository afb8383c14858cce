package rbac

import (
	"log/slog"
)

// Reason explains an evaluator verdict for logs and metrics.
type Reason string

const (
	ReasonGranted      Reason = "granted"
	ReasonUnknownRole  Reason = "unknown_role"
	ReasonEmptyRole    Reason = "empty_role"
	ReasonNotGranted   Reason = "not_granted"
	ReasonExplicitDeny Reason = "explicit_deny"
	ReasonNotAPage     Reason = "not_a_page"
	ReasonNoResource   Reason = "no_resource"
)

// Verdict is the outcome of a permission check together with its reason.
type Verdict struct {
	Allowed bool
	Reason  Reason
}

// DecisionObserver receives every evaluated check.
type DecisionObserver interface {
	ObservePermission(allowed bool, reason string)
}

// Evaluator answers permission checks against a Registry. It performs no I/O
// and is safe for concurrent use.
type Evaluator struct {
	registry *Registry
	logger   *slog.Logger
	observer DecisionObserver
}

// NewEvaluator wires an evaluator. Logger and observer are optional.
func NewEvaluator(registry *Registry, logger *slog.Logger, observer DecisionObserver) *Evaluator {
	return &Evaluator{registry: registry, logger: logger, observer: observer}
}

// Explain evaluates resource for roleID and reports why.
func (e *Evaluator) Explain(roleID string, resource Permission) Verdict {
	if e == nil {
		return Verdict{Reason: ReasonUnknownRole}
	}
	resource = normalizePermission(string(resource))
	if resource == "" {
		return Verdict{Reason: ReasonNoResource}
	}
	role, ok := e.registry.lookup(roleID)
	if !ok {
		return Verdict{Reason: ReasonUnknownRole}
	}
	if len(role.Permissions) == 0 {
		return Verdict{Reason: ReasonEmptyRole}
	}
	allowed, present := role.Permissions[resource]
	switch {
	case !present:
		return Verdict{Reason: ReasonNotGranted}
	case !allowed:
		return Verdict{Reason: ReasonExplicitDeny}
	default:
		return Verdict{Allowed: true, Reason: ReasonGranted}
	}
}

// CanAccess reports whether roleID may use resource. Unknown roles, empty
// roles and unknown resources are all denied.
func (e *Evaluator) CanAccess(roleID string, resource Permission) bool {
	v := e.Explain(roleID, resource)
	e.record(roleID, resource, v)
	return v.Allowed
}

// CanAccessPage is CanAccess restricted to page identifiers.
func (e *Evaluator) CanAccessPage(roleID string, page Permission) bool {
	page = normalizePermission(string(page))
	if page != "" && !page.IsPage() {
		v := Verdict{Reason: ReasonNotAPage}
		e.record(roleID, page, v)
		return false
	}
	return e.CanAccess(roleID, page)
}

// Role returns the registered role for roleID.
func (e *Evaluator) Role(roleID string) (Role, bool) {
	if e == nil {
		return Role{}, false
	}
	return e.registry.GetRole(roleID)
}

// Permissions lists what roleID is allowed to do. Unknown roles get nil.
func (e *Evaluator) Permissions(roleID string) []Permission {
	if e == nil {
		return nil
	}
	role, ok := e.registry.lookup(roleID)
	if !ok {
		return nil
	}
	return role.Granted()
}

func (e *Evaluator) record(roleID string, resource Permission, v Verdict) {
	if e == nil {
		return
	}
	if e.observer != nil {
		e.observer.ObservePermission(v.Allowed, string(v.Reason))
	}
	if v.Allowed || e.logger == nil {
		return
	}
	e.logger.Debug("rbac deny",
		slog.String("role", roleID),
		slog.String("resource", string(resource)),
		slog.String("reason", string(v.Reason)),
	)
}
