package rbac

import (
	"fmt"
	"sort"
	"strings"
)

// Permission names a page ("orders") or an action on a page ("orders.delete").
type Permission string

// Page permissions.
const (
	PageDashboard     Permission = "dashboard"
	PageOrders        Permission = "orders"
	PageProducts      Permission = "products"
	PageInventory     Permission = "inventory"
	PageCustomers     Permission = "customers"
	PageReports       Permission = "reports"
	PageSettings      Permission = "settings"
	PageUsers         Permission = "users"
	PageRoles         Permission = "roles"
	PageNotifications Permission = "notifications"
)

// Action permissions.
const (
	ActOrdersCreate    Permission = "orders.create"
	ActOrdersEdit      Permission = "orders.edit"
	ActOrdersDelete    Permission = "orders.delete"
	ActOrdersStatus    Permission = "orders.status"
	ActProductsCreate  Permission = "products.create"
	ActProductsEdit    Permission = "products.edit"
	ActProductsDelete  Permission = "products.delete"
	ActInventoryAdjust Permission = "inventory.adjust"
	ActCustomersCreate Permission = "customers.create"
	ActCustomersEdit   Permission = "customers.edit"
	ActCustomersDelete Permission = "customers.delete"
	ActReportsExport   Permission = "reports.export"
	ActSettingsEdit    Permission = "settings.edit"
	ActUsersManage     Permission = "users.manage"
	ActRolesManage     Permission = "roles.manage"
)

var catalog = map[Permission]struct{}{
	PageDashboard: {}, PageOrders: {}, PageProducts: {}, PageInventory: {}, PageCustomers: {},
	PageReports: {}, PageSettings: {}, PageUsers: {}, PageRoles: {}, PageNotifications: {},

	ActOrdersCreate: {}, ActOrdersEdit: {}, ActOrdersDelete: {}, ActOrdersStatus: {},
	ActProductsCreate: {}, ActProductsEdit: {}, ActProductsDelete: {},
	ActInventoryAdjust: {},
	ActCustomersCreate: {}, ActCustomersEdit: {}, ActCustomersDelete: {},
	ActReportsExport: {}, ActSettingsEdit: {}, ActUsersManage: {}, ActRolesManage: {},
}

// ParsePermission normalises s and checks it against the catalog.
func ParsePermission(s string) (Permission, error) {
	p := normalizePermission(s)
	if !p.Known() {
		return "", fmt.Errorf("%w: %q", ErrUnknownPermission, s)
	}
	return p, nil
}

// Known reports whether p belongs to the catalog.
func (p Permission) Known() bool {
	_, ok := catalog[p]
	return ok
}

// IsPage reports whether p names a page rather than an action.
func (p Permission) IsPage() bool {
	return p != "" && !strings.Contains(string(p), ".")
}

// Page returns the page an action belongs to. Pages return themselves.
func (p Permission) Page() Permission {
	if i := strings.IndexByte(string(p), '.'); i >= 0 {
		return p[:i]
	}
	return p
}

func (p Permission) String() string { return string(p) }

// Catalog lists every known permission, pages first.
func Catalog() []Permission {
	perms := make([]Permission, 0, len(catalog))
	for p := range catalog {
		perms = append(perms, p)
	}
	sortPermissions(perms)
	return perms
}

// Role bundles the permissions granted to a user.
type Role struct {
	ID          string
	Name        string
	Description string
	Permissions map[Permission]bool
}

// Granted returns the permissions explicitly allowed for the role.
func (r Role) Granted() []Permission {
	perms := make([]Permission, 0, len(r.Permissions))
	for p, ok := range r.Permissions {
		if ok {
			perms = append(perms, p)
		}
	}
	sortPermissions(perms)
	return perms
}

func (r Role) clone() Role {
	out := r
	out.Permissions = make(map[Permission]bool, len(r.Permissions))
	for p, ok := range r.Permissions {
		out.Permissions[p] = ok
	}
	return out
}

func normalizePermission(s string) Permission {
	return Permission(strings.TrimSpace(strings.ToLower(s)))
}

func normalizeRoleID(s string) string {
	return strings.TrimSpace(strings.ToLower(s))
}

// sortPermissions orders pages before actions, then alphabetically.
func sortPermissions(perms []Permission) {
	sort.Slice(perms, func(i, j int) bool {
		pi, pj := perms[i].IsPage(), perms[j].IsPage()
		if pi != pj {
			return pi
		}
		return perms[i] < perms[j]
	})
}
