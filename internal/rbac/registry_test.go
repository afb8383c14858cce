package rbac

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRegistryLoads(t *testing.T) {
	reg, err := DefaultRegistry()
	require.NoError(t, err)

	ids := make([]string, 0, reg.Len())
	for _, role := range reg.ListRoles() {
		ids = append(ids, role.ID)
	}
	assert.Equal(t, []string{"admin", "manager", "sales_agent", "warehouse_staff", "staff"}, ids)

	staff, ok := reg.GetRole("staff")
	require.True(t, ok)
	assert.Equal(t, "Staff", staff.Name)
	assert.Equal(t, []Permission{PageDashboard, PageOrders}, staff.Granted())
}

func TestRegistryGetRoleUnknown(t *testing.T) {
	reg, err := DefaultRegistry()
	require.NoError(t, err)

	_, ok := reg.GetRole("ghost")
	assert.False(t, ok)

	_, err = reg.Role("ghost")
	assert.ErrorIs(t, err, ErrRoleNotFound)

	var nilReg *Registry
	_, ok = nilReg.GetRole("admin")
	assert.False(t, ok)
	assert.Empty(t, nilReg.ListRoles())
}

func TestRegistryLookupIsCaseInsensitive(t *testing.T) {
	reg, err := DefaultRegistry()
	require.NoError(t, err)

	role, ok := reg.GetRole("  Sales_Agent ")
	require.True(t, ok)
	assert.Equal(t, "sales_agent", role.ID)
}

func TestRegistryReturnsCopies(t *testing.T) {
	reg, err := NewRegistry(Role{ID: "staff", Permissions: map[Permission]bool{PageOrders: true}})
	require.NoError(t, err)

	role, _ := reg.GetRole("staff")
	role.Permissions[PageReports] = true

	again, _ := reg.GetRole("staff")
	_, leaked := again.Permissions[PageReports]
	assert.False(t, leaked)
}

func TestNewRegistryRejectsBadRoles(t *testing.T) {
	_, err := NewRegistry(Role{ID: "a"}, Role{ID: "A"})
	assert.ErrorIs(t, err, ErrDuplicateRole)

	_, err = NewRegistry(Role{ID: "  "})
	assert.ErrorIs(t, err, ErrInvalidRole)

	_, err = NewRegistry(Role{ID: "x", Permissions: map[Permission]bool{"warp.drive": true}})
	assert.ErrorIs(t, err, ErrUnknownPermission)
}

func TestLoadRegistryFillsDisplayName(t *testing.T) {
	src := `
roles:
  - id: route_driver
    permissions:
      orders: true
`
	reg, err := LoadRegistry(strings.NewReader(src))
	require.NoError(t, err)

	role, ok := reg.GetRole("route_driver")
	require.True(t, ok)
	assert.Equal(t, "Route Driver", role.Name)
}

func TestLoadRegistryRejectsUnknownPermission(t *testing.T) {
	src := `
roles:
  - id: staff
    permissions:
      orders.teleport: true
`
	_, err := LoadRegistry(strings.NewReader(src))
	assert.ErrorIs(t, err, ErrUnknownPermission)
}

func TestLoadRegistryRejectsUnknownFields(t *testing.T) {
	src := `
roles:
  - id: staff
    perms:
      orders: true
`
	_, err := LoadRegistry(strings.NewReader(src))
	assert.Error(t, err)
}

func TestRegistryLookupIsExact(t *testing.T) {
	reg, err := NewRegistry(Role{ID: " Staff ", Permissions: map[Permission]bool{PageOrders: true}})
	require.NoError(t, err)

	role, ok := reg.GetRole("staff")
	require.True(t, ok, "ids are normalized when the registry is built")
	assert.Equal(t, "staff", role.ID)

	for _, id := range []string{"STAFF", "Staff", " staff", "staff "} {
		_, ok := reg.GetRole(id)
		assert.False(t, ok, "lookup of %q", id)
	}
}
