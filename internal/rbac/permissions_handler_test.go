package rbac_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bevflow/bevflow/internal/rbac"
)

func permissionsRouter(t *testing.T) http.Handler {
	t.Helper()
	reg, err := rbac.DefaultRegistry()
	require.NoError(t, err)
	r := chi.NewRouter()
	r.Route("/api/me/permissions", rbac.NewPermissionsHandler(nil, rbac.NewEvaluator(reg, nil, nil)).MountRoutes)
	return r
}

func sendAs(t *testing.T, roleID, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	base := requestWithRole(t, roleID)
	req := httptest.NewRequest(method, target, strings.NewReader(body)).WithContext(base.Context())
	rr := httptest.NewRecorder()
	permissionsRouter(t).ServeHTTP(rr, req)
	return rr
}

func TestListPermissionsForSalesAgent(t *testing.T) {
	rr := sendAs(t, "sales_agent", http.MethodGet, "/api/me/permissions/", "")
	require.Equal(t, http.StatusOK, rr.Code)

	var body struct {
		Role        string   `json:"role"`
		Name        string   `json:"name"`
		Permissions []string `json:"permissions"`
		Pages       []string `json:"pages"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "sales_agent", body.Role)
	assert.Equal(t, "Sales Agent", body.Name)
	assert.Contains(t, body.Pages, "orders")
	assert.NotContains(t, body.Pages, "reports")
	assert.Contains(t, body.Permissions, "orders.create")
}

func TestCheckSinglePermission(t *testing.T) {
	rr := sendAs(t, "warehouse_staff", http.MethodGet, "/api/me/permissions/Inventory.Adjust", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"permission":"inventory.adjust","allowed":true}`, rr.Body.String())
}

func TestCheckBatchPermissions(t *testing.T) {
	rr := sendAs(t, "staff", http.MethodPost, "/api/me/permissions/check",
		`{"permissions":["orders","orders.delete","orders"]}`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{
		"results":[{"permission":"orders","allowed":true},{"permission":"orders.delete","allowed":false}],
		"any":true,
		"all":false
	}`, rr.Body.String())
}

func TestCheckBatchRejectsBadBodies(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, sendAs(t, "staff", http.MethodPost, "/api/me/permissions/check", "{").Code)
	assert.Equal(t, http.StatusBadRequest, sendAs(t, "staff", http.MethodPost, "/api/me/permissions/check", `{"permissions":[]}`).Code)
}

func TestPermissionsRequireSession(t *testing.T) {
	rr := sendAs(t, "", http.MethodGet, "/api/me/permissions/", "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}
