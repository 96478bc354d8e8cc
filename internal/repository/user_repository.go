package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/planora/planora-auth/internal/models"
)

// ErrRotationConflict signals that a concurrent rotation already revoked
// the presented token. The losing caller must be treated as unauthorized,
// not given a duplicate session.
var ErrRotationConflict = errors.New("refresh token already rotated")

// UserRepository provides database access for users, refresh tokens and
// the security audit trail.
type UserRepository struct {
	db *sqlx.DB
}

// NewUserRepository creates a new instance of UserRepository.
func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

const userColumns = `id, username, email, password_hash, role, active, last_login_at, created_at, updated_at`

// FindByUsername returns a user by username.
func (r *UserRepository) FindByUsername(ctx context.Context, username string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE username = $1 LIMIT 1`
	var user models.User
	if err := r.db.GetContext(ctx, &user, query, username); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find user by username: %w", err)
	}
	return &user, nil
}

// FindByEmail returns a user by email address.
func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1 LIMIT 1`
	var user models.User
	if err := r.db.GetContext(ctx, &user, query, email); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find user by email: %w", err)
	}
	return &user, nil
}

// FindByID returns a user by identifier.
func (r *UserRepository) FindByID(ctx context.Context, id string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1 LIMIT 1`
	var user models.User
	if err := r.db.GetContext(ctx, &user, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find user by id: %w", err)
	}
	return &user, nil
}

// Create inserts a new user record.
func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now

	const query = `INSERT INTO users (id, username, email, password_hash, role, active, created_at, updated_at) VALUES (:id, :username, :email, :password_hash, :role, :active, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, user); err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// UpdateLastLogin updates the last_login_at timestamp for a user.
func (r *UserRepository) UpdateLastLogin(ctx context.Context, id string, ts time.Time) error {
	const query = `UPDATE users SET last_login_at = $2, updated_at = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, ts, ts); err != nil {
		return fmt.Errorf("update last login: %w", err)
	}
	return nil
}

// UpdatePassword updates the stored password hash.
func (r *UserRepository) UpdatePassword(ctx context.Context, id, passwordHash string, updatedAt time.Time) error {
	const query = `UPDATE users SET password_hash = $2, updated_at = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, passwordHash, updatedAt); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

const refreshTokenColumns = `id, user_id, token_hash, jti, expires_at, revoked, revoked_at, revocation_reason, replaced_by_token_id, ip_address, user_agent, created_at, updated_at`

// CreateRefreshToken persists a refresh token entry.
func (r *UserRepository) CreateRefreshToken(ctx context.Context, token *models.RefreshToken) error {
	if token.ID == "" {
		token.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if token.CreatedAt.IsZero() {
		token.CreatedAt = now
	}
	token.UpdatedAt = now

	const query = `INSERT INTO refresh_tokens (id, user_id, token_hash, jti, expires_at, revoked, revoked_at, revocation_reason, replaced_by_token_id, ip_address, user_agent, created_at, updated_at) VALUES (:id, :user_id, :token_hash, :jti, :expires_at, :revoked, :revoked_at, :revocation_reason, :replaced_by_token_id, :ip_address, :user_agent, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, token); err != nil {
		return fmt.Errorf("create refresh token: %w", err)
	}
	return nil
}

// FindRefreshTokenByHash returns a refresh token row by secret digest.
func (r *UserRepository) FindRefreshTokenByHash(ctx context.Context, tokenHash string) (*models.RefreshToken, error) {
	query := `SELECT ` + refreshTokenColumns + ` FROM refresh_tokens WHERE token_hash = $1 LIMIT 1`
	var rt models.RefreshToken
	if err := r.db.GetContext(ctx, &rt, query, tokenHash); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find refresh token: %w", err)
	}
	return &rt, nil
}

// RotateRefreshToken inserts the successor row and revokes its parent as
// one atomic unit. The successor goes in first so the parent's
// replaced_by_token_id foreign key resolves when the revoke runs. The
// conditional revoke (revoked = FALSE guard) makes concurrent rotations
// of the same token mutually exclusive: the loser gets
// ErrRotationConflict and the rollback removes its successor.
func (r *UserRepository) RotateRefreshToken(ctx context.Context, oldID string, successor *models.RefreshToken) error {
	if successor.ID == "" {
		successor.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if successor.CreatedAt.IsZero() {
		successor.CreatedAt = now
	}
	successor.UpdatedAt = now

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin rotation: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	const insertQuery = `INSERT INTO refresh_tokens (id, user_id, token_hash, jti, expires_at, revoked, revoked_at, revocation_reason, replaced_by_token_id, ip_address, user_agent, created_at, updated_at) VALUES (:id, :user_id, :token_hash, :jti, :expires_at, :revoked, :revoked_at, :revocation_reason, :replaced_by_token_id, :ip_address, :user_agent, :created_at, :updated_at)`
	if _, err := tx.NamedExecContext(ctx, insertQuery, successor); err != nil {
		return fmt.Errorf("create successor token: %w", err)
	}

	const revokeQuery = `UPDATE refresh_tokens SET revoked = TRUE, revoked_at = $2, revocation_reason = $3, replaced_by_token_id = $4, updated_at = $2 WHERE id = $1 AND revoked = FALSE`
	res, err := tx.ExecContext(ctx, revokeQuery, oldID, now, models.RevocationReasonRotated, successor.ID)
	if err != nil {
		return fmt.Errorf("revoke rotated token: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("revoke rotated token: %w", err)
	}
	if affected == 0 {
		return ErrRotationConflict
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit rotation: %w", err)
	}
	return nil
}

// RevokeRefreshTokenByHash marks a token as revoked. Idempotent: a
// missing or already-revoked token is not an error, so logout never
// fails loudly on a stale token.
func (r *UserRepository) RevokeRefreshTokenByHash(ctx context.Context, tokenHash, reason string, revokedAt time.Time) error {
	const query = `UPDATE refresh_tokens SET revoked = TRUE, revoked_at = $2, revocation_reason = $3, updated_at = $2 WHERE token_hash = $1 AND revoked = FALSE`
	if _, err := r.db.ExecContext(ctx, query, tokenHash, revokedAt, reason); err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	return nil
}

// RevokeUserRefreshTokens revokes every live refresh token for a user.
func (r *UserRepository) RevokeUserRefreshTokens(ctx context.Context, userID, reason string) error {
	const query = `UPDATE refresh_tokens SET revoked = TRUE, revoked_at = $2, revocation_reason = $3, updated_at = $2 WHERE user_id = $1 AND revoked = FALSE`
	if _, err := r.db.ExecContext(ctx, query, userID, time.Now().UTC(), reason); err != nil {
		return fmt.Errorf("revoke user refresh tokens: %w", err)
	}
	return nil
}

// CreateAuditEntry appends a security audit record. Rows are never
// updated or deleted by this service.
func (r *UserRepository) CreateAuditEntry(ctx context.Context, entry *models.AuditEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO audit_logs (id, event_type, actor_id, metadata, ip_address, user_agent, created_at) VALUES (:id, :event_type, :actor_id, :metadata, :ip_address, :user_agent, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, entry); err != nil {
		return fmt.Errorf("create audit entry: %w", err)
	}
	return nil
}
