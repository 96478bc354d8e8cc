package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"

	"github.com/planora/planora-auth/internal/models"
)

func rbacContext(t *testing.T, claims *models.AccessClaims, paramID string) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/", nil)
	if claims != nil {
		c.Set(ContextUserKey, claims)
	}
	if paramID != "" {
		c.Params = gin.Params{{Key: "id", Value: paramID}}
	}
	return c, w
}

func TestRBACAllowsRole(t *testing.T) {
	c, w := rbacContext(t, &models.AccessClaims{
		Role:             models.RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{Subject: "admin-1"},
	}, "u2")

	RBAC(string(models.RoleAdmin), "SELF")(c)

	assert.False(t, c.IsAborted())
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRBACAllowsSelf(t *testing.T) {
	c, w := rbacContext(t, &models.AccessClaims{
		Role:             models.RoleMember,
		RegisteredClaims: jwt.RegisteredClaims{Subject: "u2"},
	}, "u2")

	RBAC(string(models.RoleAdmin), "SELF")(c)

	assert.False(t, c.IsAborted())
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRBACRejectsOtherUser(t *testing.T) {
	c, w := rbacContext(t, &models.AccessClaims{
		Role:             models.RoleMember,
		RegisteredClaims: jwt.RegisteredClaims{Subject: "u1"},
	}, "u2")

	RBAC(string(models.RoleAdmin), "SELF")(c)

	assert.True(t, c.IsAborted())
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestRBACRejectsMissingClaims(t *testing.T) {
	c, w := rbacContext(t, nil, "u2")

	RBAC(string(models.RoleAdmin))(c)

	assert.True(t, c.IsAborted())
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
