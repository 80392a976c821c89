package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/civicworks/civic-ops-api/internal/models"
	"github.com/civicworks/civic-ops-api/internal/service"
)

func newTestContext(t *testing.T) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, err := http.NewRequest(http.MethodGet, "/workers", nil)
	require.NoError(t, err)
	c.Request = req
	return c, w
}

func TestRequireRolesAllowsListedRole(t *testing.T) {
	c, w := newTestContext(t)
	c.Set(ContextUserKey, &models.JWTClaims{UserID: "u-1", Role: models.RoleSupervisor})

	called := false
	RequireRoles(models.RoleAdmin, models.RoleSupervisor)(c)
	if !c.IsAborted() {
		called = true
	}
	assert.True(t, called)
	assert.NotEqual(t, http.StatusForbidden, w.Code)
}

func TestRequireRolesRejectsOtherRole(t *testing.T) {
	c, w := newTestContext(t)
	c.Set(ContextUserKey, &models.JWTClaims{UserID: "u-1", Role: models.RoleStaff})

	RequireRoles(models.RoleAdmin)(c)
	assert.True(t, c.IsAborted())
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestRequireRolesRejectsAnonymous(t *testing.T) {
	c, w := newTestContext(t)

	RequireRoles(models.RoleAdmin)(c)
	assert.True(t, c.IsAborted())
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestJWTMissingHeader(t *testing.T) {
	c, w := newTestContext(t)
	auth := service.NewAuthService(service.AuthConfig{Secret: "secret"}, zap.NewNop())

	JWT(auth)(c)
	assert.True(t, c.IsAborted())
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestJWTMalformedHeader(t *testing.T) {
	c, w := newTestContext(t)
	c.Request.Header.Set("Authorization", "Token abc")
	auth := service.NewAuthService(service.AuthConfig{Secret: "secret"}, zap.NewNop())

	JWT(auth)(c)
	assert.True(t, c.IsAborted())
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCurrentActorFallsBackToSystem(t *testing.T) {
	c, _ := newTestContext(t)
	assert.Equal(t, "system", CurrentActor(c))

	c.Set(ContextUserKey, &models.JWTClaims{UserID: "u-1", FullName: "Supervisor Khan"})
	assert.Equal(t, "Supervisor Khan", CurrentActor(c))
}
