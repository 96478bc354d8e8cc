package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/planora/planora-auth/internal/middleware"
	"github.com/planora/planora-auth/internal/models"
	appErrors "github.com/planora/planora-auth/pkg/errors"
	"github.com/planora/planora-auth/pkg/response"
)

type authService interface {
	Register(ctx context.Context, req models.RegisterRequest, meta models.RequestMeta) (*models.SessionResult, error)
	Login(ctx context.Context, req models.LoginRequest, meta models.RequestMeta) (*models.SessionResult, error)
	RefreshSession(ctx context.Context, token string, meta models.RequestMeta) (*models.SessionResult, error)
	Logout(ctx context.Context, userID, token string, meta models.RequestMeta) error
	RevokeAllSessions(ctx context.Context, userID, reason string, meta models.RequestMeta) error
	ChangePassword(ctx context.Context, userID string, req models.ChangePasswordRequest, meta models.RequestMeta) error
}

// AuthHandler wires HTTP endpoints to the auth service.
type AuthHandler struct {
	service authService
}

// NewAuthHandler creates a new handler.
func NewAuthHandler(svc authService) *AuthHandler {
	return &AuthHandler{service: svc}
}

func requestMeta(c *gin.Context) models.RequestMeta {
	return models.RequestMeta{IP: c.ClientIP(), UserAgent: c.GetHeader("User-Agent")}
}

// Register creates an account and returns its first session.
func (h *AuthHandler) Register(c *gin.Context) {
	var req models.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid register payload"))
		return
	}

	res, err := h.service.Register(c.Request.Context(), req, requestMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, res)
}

// Login authenticates a user by username and password.
func (h *AuthHandler) Login(c *gin.Context) {
	var req models.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid login payload"))
		return
	}

	res, err := h.service.Login(c.Request.Context(), req, requestMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, res)
}

// Refresh exchanges a refresh token for its successor pair.
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req models.RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid refresh payload"))
		return
	}

	res, err := h.service.RefreshSession(c.Request.Context(), req.RefreshToken, requestMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, res)
}

// Logout revokes the presented refresh token. Always succeeds, even for
// stale or unknown tokens.
func (h *AuthHandler) Logout(c *gin.Context) {
	claims, ok := c.Get(middleware.ContextUserKey)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	accessClaims := claims.(*models.AccessClaims)

	var req models.LogoutRequest
	_ = c.ShouldBindJSON(&req)

	if err := h.service.Logout(c.Request.Context(), accessClaims.Subject, req.RefreshToken, requestMeta(c)); err != nil {
		response.Error(c, err)
		return
	}

	response.NoContent(c)
}

// RevokeAll signs the caller out everywhere.
func (h *AuthHandler) RevokeAll(c *gin.Context) {
	claims, ok := c.Get(middleware.ContextUserKey)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	accessClaims := claims.(*models.AccessClaims)

	if err := h.service.RevokeAllSessions(c.Request.Context(), accessClaims.Subject, models.RevocationReasonLogout, requestMeta(c)); err != nil {
		response.Error(c, err)
		return
	}

	response.NoContent(c)
}

// RevokeUserSessions revokes every session of the user in the route
// parameter. Reached by admins or by the user themselves.
func (h *AuthHandler) RevokeUserSessions(c *gin.Context) {
	targetID := c.Param("id")
	if targetID == "" {
		response.Error(c, appErrors.ErrValidation)
		return
	}

	if err := h.service.RevokeAllSessions(c.Request.Context(), targetID, models.RevocationReasonAdmin, requestMeta(c)); err != nil {
		response.Error(c, err)
		return
	}

	response.NoContent(c)
}

// ChangePassword updates the caller's password and revokes all sessions.
func (h *AuthHandler) ChangePassword(c *gin.Context) {
	claims, ok := c.Get(middleware.ContextUserKey)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	accessClaims := claims.(*models.AccessClaims)

	var req models.ChangePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid change password payload"))
		return
	}

	if err := h.service.ChangePassword(c.Request.Context(), accessClaims.Subject, req, requestMeta(c)); err != nil {
		response.Error(c, err)
		return
	}

	response.NoContent(c)
}

// Me returns the claims of the authenticated caller.
func (h *AuthHandler) Me(c *gin.Context) {
	claims, ok := c.Get(middleware.ContextUserKey)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	accessClaims := claims.(*models.AccessClaims)

	response.JSON(c, http.StatusOK, gin.H{
		"id":       accessClaims.Subject,
		"username": accessClaims.Username,
		"role":     accessClaims.Role,
	})
}
