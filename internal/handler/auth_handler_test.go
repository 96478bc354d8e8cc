package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/planora/planora-auth/internal/middleware"
	"github.com/planora/planora-auth/internal/models"
	appErrors "github.com/planora/planora-auth/pkg/errors"
)

type authServiceMock struct {
	registerResp *models.SessionResult
	registerErr  error
	loginResp    *models.SessionResult
	loginErr     error
	refreshResp  *models.SessionResult
	refreshErr   error
	logoutErr    error
	revokeErr    error

	logoutUserID  string
	logoutToken   string
	revokedUserID string
	revokedReason string
	refreshToken  string
}

func (m *authServiceMock) Register(_ context.Context, _ models.RegisterRequest, _ models.RequestMeta) (*models.SessionResult, error) {
	return m.registerResp, m.registerErr
}

func (m *authServiceMock) Login(_ context.Context, _ models.LoginRequest, _ models.RequestMeta) (*models.SessionResult, error) {
	return m.loginResp, m.loginErr
}

func (m *authServiceMock) RefreshSession(_ context.Context, token string, _ models.RequestMeta) (*models.SessionResult, error) {
	m.refreshToken = token
	return m.refreshResp, m.refreshErr
}

func (m *authServiceMock) Logout(_ context.Context, userID, token string, _ models.RequestMeta) error {
	m.logoutUserID = userID
	m.logoutToken = token
	return m.logoutErr
}

func (m *authServiceMock) RevokeAllSessions(_ context.Context, userID, reason string, _ models.RequestMeta) error {
	m.revokedUserID = userID
	m.revokedReason = reason
	return m.revokeErr
}

func (m *authServiceMock) ChangePassword(_ context.Context, _ string, _ models.ChangePasswordRequest, _ models.RequestMeta) error {
	return nil
}

func sessionFixture() *models.SessionResult {
	return &models.SessionResult{
		AccessToken:      "access",
		TokenType:        "Bearer",
		AccessExpiresIn:  900,
		RefreshToken:     "refresh",
		RefreshExpiresAt: time.Now().Add(14 * 24 * time.Hour),
		IssuedAt:         time.Now(),
		User:             models.UserInfo{ID: "u1", Username: "alice", Role: models.RoleMember},
	}
}

func testContext(t *testing.T, method, path string, body interface{}) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	return c, w
}

func TestAuthHandlerRegister(t *testing.T) {
	mockSvc := &authServiceMock{registerResp: sessionFixture()}
	h := NewAuthHandler(mockSvc)

	c, w := testContext(t, http.MethodPost, "/auth/register", models.RegisterRequest{
		Username: "alice", Email: "alice@x.com", Password: "secret123456",
	})
	h.Register(c)

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, w.Body.String(), "refresh")
}

func TestAuthHandlerRegisterConflict(t *testing.T) {
	mockSvc := &authServiceMock{registerErr: appErrors.ErrConflict}
	h := NewAuthHandler(mockSvc)

	c, w := testContext(t, http.MethodPost, "/auth/register", models.RegisterRequest{
		Username: "alice", Email: "alice@x.com", Password: "secret123456",
	})
	h.Register(c)

	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestAuthHandlerLoginUnauthorized(t *testing.T) {
	mockSvc := &authServiceMock{loginErr: appErrors.ErrInvalidCredentials}
	h := NewAuthHandler(mockSvc)

	c, w := testContext(t, http.MethodPost, "/auth/login", models.LoginRequest{Username: "alice", Password: "bad"})
	h.Login(c)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "INVALID_CREDENTIALS")
}

func TestAuthHandlerLoginInvalidBody(t *testing.T) {
	h := NewAuthHandler(&authServiceMock{})

	c, w := testContext(t, http.MethodPost, "/auth/login", nil)
	h.Login(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAuthHandlerRefresh(t *testing.T) {
	mockSvc := &authServiceMock{refreshResp: sessionFixture()}
	h := NewAuthHandler(mockSvc)

	c, w := testContext(t, http.MethodPost, "/auth/refresh", models.RefreshRequest{RefreshToken: "token-1"})
	h.Refresh(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "token-1", mockSvc.refreshToken)
}

func TestAuthHandlerLogout(t *testing.T) {
	mockSvc := &authServiceMock{}
	h := NewAuthHandler(mockSvc)

	c, w := testContext(t, http.MethodPost, "/auth/logout", models.LogoutRequest{RefreshToken: "token-1"})
	c.Set(middleware.ContextUserKey, &models.AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "u1"},
	})
	h.Logout(c)
	c.Writer.WriteHeaderNow()

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "u1", mockSvc.logoutUserID)
	assert.Equal(t, "token-1", mockSvc.logoutToken)
}

func TestAuthHandlerLogoutWithoutClaims(t *testing.T) {
	h := NewAuthHandler(&authServiceMock{})

	c, w := testContext(t, http.MethodPost, "/auth/logout", nil)
	h.Logout(c)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthHandlerRevokeAll(t *testing.T) {
	mockSvc := &authServiceMock{}
	h := NewAuthHandler(mockSvc)

	c, w := testContext(t, http.MethodPost, "/auth/sessions/revoke", nil)
	c.Set(middleware.ContextUserKey, &models.AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "u1"},
	})
	h.RevokeAll(c)
	c.Writer.WriteHeaderNow()

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "u1", mockSvc.revokedUserID)
	assert.Equal(t, models.RevocationReasonLogout, mockSvc.revokedReason)
}

func TestAuthHandlerRevokeUserSessions(t *testing.T) {
	mockSvc := &authServiceMock{}
	h := NewAuthHandler(mockSvc)

	c, w := testContext(t, http.MethodPost, "/auth/users/u2/sessions/revoke", nil)
	c.Params = gin.Params{{Key: "id", Value: "u2"}}
	h.RevokeUserSessions(c)
	c.Writer.WriteHeaderNow()

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "u2", mockSvc.revokedUserID)
	assert.Equal(t, models.RevocationReasonAdmin, mockSvc.revokedReason)
}

func TestAuthHandlerRevokeUserSessionsMissingID(t *testing.T) {
	mockSvc := &authServiceMock{}
	h := NewAuthHandler(mockSvc)

	c, w := testContext(t, http.MethodPost, "/auth/users//sessions/revoke", nil)
	h.RevokeUserSessions(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, mockSvc.revokedUserID)
}
