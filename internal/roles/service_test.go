package roles

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bevflow/bevflow/internal/platform/httpx"
	"github.com/bevflow/bevflow/internal/rbac"
)

func newService(t *testing.T) *Service {
	t.Helper()
	reg, err := rbac.DefaultRegistry()
	require.NoError(t, err)
	return NewService(reg)
}

func TestListRolesKeepsDefinitionOrder(t *testing.T) {
	views := newService(t).ListRoles()
	ids := make([]string, 0, len(views))
	for _, v := range views {
		ids = append(ids, v.ID)
	}
	assert.Equal(t, []string{"admin", "manager", "sales_agent", "warehouse_staff", "staff"}, ids)
}

func TestRoleViewSplitsPagesAndActions(t *testing.T) {
	view, err := newService(t).GetRole("sales_agent")
	require.NoError(t, err)
	assert.Equal(t, "Sales Agent", view.Name)
	assert.Contains(t, view.Pages, "orders")
	assert.NotContains(t, view.Pages, "reports")
	assert.Contains(t, view.Actions, "orders.create")
	assert.Equal(t, []string{"reports"}, view.Denied)
}

func TestGetRoleUnknown(t *testing.T) {
	_, err := newService(t).GetRole("ghost")
	assert.ErrorIs(t, err, rbac.ErrRoleNotFound)
	assert.ErrorIs(t, err, httpx.ErrNotFound)
}
