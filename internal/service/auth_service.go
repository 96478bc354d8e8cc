package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/planora/planora-auth/internal/limiter"
	"github.com/planora/planora-auth/internal/models"
	"github.com/planora/planora-auth/internal/repository"
	appErrors "github.com/planora/planora-auth/pkg/errors"
)

// enumerationDecoy is a valid bcrypt hash of a random string. Unknown
// identities are verified against it so the unknown-user and
// wrong-password paths cost the same.
const enumerationDecoy = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

type authUserRepository interface {
	FindByUsername(ctx context.Context, username string) (*models.User, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	Create(ctx context.Context, user *models.User) error
	UpdateLastLogin(ctx context.Context, id string, ts time.Time) error
	UpdatePassword(ctx context.Context, id, passwordHash string, updatedAt time.Time) error
	FindRefreshTokenByHash(ctx context.Context, tokenHash string) (*models.RefreshToken, error)
	RevokeRefreshTokenByHash(ctx context.Context, tokenHash, reason string, revokedAt time.Time) error
	RevokeUserRefreshTokens(ctx context.Context, userID, reason string) error
}

type auditRecorder interface {
	Record(eventType string, actorID *string, metadata map[string]interface{}, meta models.RequestMeta)
}

// Bootstrapper seeds default resources for a freshly registered account.
// Implemented by an external collaborator; the auth service only invokes it.
type Bootstrapper interface {
	BootstrapUser(ctx context.Context, user *models.User) error
}

// NoopBootstrapper is the default hook when no collaborator is wired.
type NoopBootstrapper struct{}

// BootstrapUser does nothing.
func (NoopBootstrapper) BootstrapUser(context.Context, *models.User) error { return nil }

// AuthService orchestrates register, login, refresh and logout over the
// token issuer, refresh token store, attempt tracker and audit trail.
type AuthService struct {
	repo      authUserRepository
	issuer    *TokenIssuer
	tracker   limiter.AttemptTracker
	audit     auditRecorder
	bootstrap Bootstrapper
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
}

// NewAuthService constructs an AuthService instance.
func NewAuthService(
	repo authUserRepository,
	issuer *TokenIssuer,
	tracker limiter.AttemptTracker,
	audit auditRecorder,
	bootstrap Bootstrapper,
	metrics *MetricsService,
	validate *validator.Validate,
	logger *zap.Logger,
) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if bootstrap == nil {
		bootstrap = NoopBootstrapper{}
	}
	return &AuthService{
		repo:      repo,
		issuer:    issuer,
		tracker:   tracker,
		audit:     audit,
		bootstrap: bootstrap,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
	}
}

// Register creates an account and returns its first session.
func (s *AuthService) Register(ctx context.Context, req models.RegisterRequest, meta models.RequestMeta) (*models.SessionResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid register payload")
	}

	if _, err := s.repo.FindByUsername(ctx, req.Username); err == nil {
		return nil, appErrors.Clone(appErrors.ErrConflict, "identity already registered")
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check username")
	}
	if _, err := s.repo.FindByEmail(ctx, req.Email); err == nil {
		return nil, appErrors.Clone(appErrors.ErrConflict, "identity already registered")
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check email")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}

	user := &models.User{
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: string(hash),
		Role:         models.RoleMember,
		Active:       true,
	}
	if err := s.repo.Create(ctx, user); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create user")
	}

	if err := s.bootstrap.BootstrapUser(ctx, user); err != nil {
		s.logger.Warn("user bootstrap hook failed", zap.String("user_id", user.ID), zap.Error(err))
	}

	issued, err := s.issuer.Issue(ctx, user, meta, "")
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to issue tokens")
	}

	s.audit.Record(models.AuditEventRegister, &user.ID, map[string]interface{}{"jti": issued.JTI}, meta)
	if s.metrics != nil {
		s.metrics.IncRegistration()
	}

	return s.sessionResult(user, issued), nil
}

// Login authenticates a user and returns issued tokens. Unknown
// identities and wrong passwords share one failure path and message.
func (s *AuthService) Login(ctx context.Context, req models.LoginRequest, meta models.RequestMeta) (*models.SessionResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid login payload")
	}

	locked, err := s.tracker.Locked(ctx, req.Username)
	if err != nil {
		s.logger.Warn("failed to query lockout state", zap.Error(err))
	}
	if locked {
		return nil, appErrors.Clone(appErrors.ErrAccountLocked, "")
	}

	user, err := s.repo.FindByUsername(ctx, req.Username)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Burn a hash comparison so this path costs the same as a
			// wrong password.
			_ = bcrypt.CompareHashAndPassword([]byte(enumerationDecoy), []byte(req.Password))
			return nil, s.failLogin(ctx, req.Username, nil, meta)
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch user")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return nil, s.failLogin(ctx, req.Username, &user.ID, meta)
	}

	if !user.Active {
		return nil, appErrors.Clone(appErrors.ErrInactiveAccount, "")
	}

	if err := s.tracker.Reset(ctx, req.Username); err != nil {
		s.logger.Warn("failed to reset login failures", zap.Error(err))
	}

	issued, err := s.issuer.Issue(ctx, user, meta, "")
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to issue tokens")
	}

	if err := s.repo.UpdateLastLogin(ctx, user.ID, issued.IssuedAt); err != nil {
		s.logger.Warn("failed to update last login", zap.Error(err))
	}

	s.audit.Record(models.AuditEventLoginSuccess, &user.ID, map[string]interface{}{"jti": issued.JTI}, meta)
	if s.metrics != nil {
		s.metrics.IncLoginSuccess()
	}

	return s.sessionResult(user, issued), nil
}

// RefreshSession rotates the presented refresh token, producing its
// successor and revoking the old record in one atomic step.
func (s *AuthService) RefreshSession(ctx context.Context, token string, meta models.RequestMeta) (*models.SessionResult, error) {
	if token == "" {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid refresh token")
	}

	record, err := s.repo.FindRefreshTokenByHash(ctx, HashRefreshToken(token))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid refresh token")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch refresh token")
	}

	now := time.Now().UTC()
	if record.Revoked {
		// A revoked token reappearing is the reuse signal: either a
		// replayed rotation or a stolen secret.
		s.audit.Record(models.AuditEventRefreshReuse, &record.UserID, map[string]interface{}{
			"token_id": record.ID,
			"jti":      record.JTI,
		}, meta)
		if s.metrics != nil {
			s.metrics.IncRotationReuse()
		}
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid refresh token")
	}
	if now.After(record.ExpiresAt) {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid refresh token")
	}

	user, err := s.repo.FindByID(ctx, record.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid refresh token")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}
	if !user.Active {
		return nil, appErrors.Clone(appErrors.ErrInactiveAccount, "")
	}

	issued, err := s.issuer.Issue(ctx, user, meta, record.ID)
	if err != nil {
		if errors.Is(err, repository.ErrRotationConflict) {
			// Lost the race against a concurrent rotation of the same
			// token. Treated as reuse, not given a duplicate session.
			s.audit.Record(models.AuditEventRefreshReuse, &record.UserID, map[string]interface{}{
				"token_id": record.ID,
				"jti":      record.JTI,
			}, meta)
			if s.metrics != nil {
				s.metrics.IncRotationReuse()
			}
			return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid refresh token")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to rotate refresh token")
	}

	s.audit.Record(models.AuditEventRefresh, &user.ID, map[string]interface{}{
		"rotated_token_id": record.ID,
		"new_token_id":     issued.Record.ID,
		"jti":              issued.JTI,
	}, meta)
	if s.metrics != nil {
		s.metrics.IncRotation()
	}

	return s.sessionResult(user, issued), nil
}

// Logout revokes the presented refresh token. Idempotent: stale,
// already-revoked or garbage tokens still report success.
func (s *AuthService) Logout(ctx context.Context, userID, token string, meta models.RequestMeta) error {
	if token != "" {
		if err := s.repo.RevokeRefreshTokenByHash(ctx, HashRefreshToken(token), models.RevocationReasonLogout, time.Now().UTC()); err != nil {
			s.logger.Warn("failed to revoke refresh token on logout", zap.Error(err))
		}
	}

	actor := &userID
	if userID == "" {
		actor = nil
	}
	s.audit.Record(models.AuditEventLogout, actor, nil, meta)
	return nil
}

// RevokeAllSessions revokes every live refresh token for a user
// ("sign out everywhere").
func (s *AuthService) RevokeAllSessions(ctx context.Context, userID, reason string, meta models.RequestMeta) error {
	if reason == "" {
		reason = models.RevocationReasonAdmin
	}
	if err := s.repo.RevokeUserRefreshTokens(ctx, userID, reason); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to revoke sessions")
	}

	s.audit.Record(models.AuditEventRevokeAll, &userID, map[string]interface{}{"reason": reason}, meta)
	return nil
}

// ChangePassword updates the password and signs the user out everywhere.
func (s *AuthService) ChangePassword(ctx context.Context, userID string, req models.ChangePasswordRequest, meta models.RequestMeta) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid change password payload")
	}

	user, err := s.repo.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.OldPassword)); err != nil {
		return appErrors.Clone(appErrors.ErrInvalidCredentials, "")
	}

	newHash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}

	if err := s.repo.UpdatePassword(ctx, userID, string(newHash), time.Now().UTC()); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update password")
	}

	if err := s.repo.RevokeUserRefreshTokens(ctx, userID, models.RevocationReasonPasswordChange); err != nil {
		s.logger.Warn("failed to revoke refresh tokens after password change", zap.Error(err))
	}

	s.audit.Record(models.AuditEventPasswordChange, &userID, nil, meta)
	return nil
}

// VerifyAccessToken validates an access token and returns its claims.
func (s *AuthService) VerifyAccessToken(tokenString string) (*models.AccessClaims, error) {
	claims, err := s.issuer.Verify(tokenString)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "invalid token")
	}
	return claims, nil
}

func (s *AuthService) failLogin(ctx context.Context, identity string, actorID *string, meta models.RequestMeta) error {
	locked, err := s.tracker.RegisterFailure(ctx, identity)
	if err != nil {
		s.logger.Warn("failed to register login failure", zap.Error(err))
	}

	s.audit.Record(models.AuditEventLoginFailure, actorID, map[string]interface{}{"identity": identity}, meta)
	if s.metrics != nil {
		s.metrics.IncLoginFailure()
	}

	if locked {
		s.audit.Record(models.AuditEventLockout, actorID, map[string]interface{}{"identity": identity}, meta)
		if s.metrics != nil {
			s.metrics.IncLockout()
		}
	}

	return appErrors.Clone(appErrors.ErrInvalidCredentials, "")
}

func (s *AuthService) sessionResult(user *models.User, issued *IssuedTokens) *models.SessionResult {
	return &models.SessionResult{
		AccessToken:      issued.AccessToken,
		TokenType:        "Bearer",
		AccessExpiresIn:  issued.AccessExpiresIn,
		RefreshToken:     issued.RefreshToken,
		RefreshExpiresAt: issued.RefreshExpiresAt,
		IssuedAt:         issued.IssuedAt,
		User:             user.PublicView(),
	}
}
