package models

import "time"

// Revocation reasons recorded on refresh token rows.
const (
	RevocationReasonRotated        = "rotated"
	RevocationReasonLogout         = "logout"
	RevocationReasonPasswordChange = "password_change"
	RevocationReasonAdmin          = "admin"
)

// RefreshToken represents a persisted refresh token session. Only the
// SHA-256 digest of the secret is stored; the plaintext never touches
// the database. Rows are never deleted: a revoked row plus its
// replaced_by_token_id pointer is the rotation audit trail.
type RefreshToken struct {
	ID                string     `db:"id" json:"id"`
	UserID            string     `db:"user_id" json:"user_id"`
	TokenHash         string     `db:"token_hash" json:"-"`
	JTI               string     `db:"jti" json:"jti"`
	ExpiresAt         time.Time  `db:"expires_at" json:"expires_at"`
	Revoked           bool       `db:"revoked" json:"revoked"`
	RevokedAt         *time.Time `db:"revoked_at" json:"revoked_at,omitempty"`
	RevocationReason  *string    `db:"revocation_reason" json:"revocation_reason,omitempty"`
	ReplacedByTokenID *string    `db:"replaced_by_token_id" json:"replaced_by_token_id,omitempty"`
	IPAddress         string     `db:"ip_address" json:"ip_address"`
	UserAgent         string     `db:"user_agent" json:"user_agent"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at" json:"updated_at"`
}

// Live reports whether the token can still be exchanged at the given instant.
func (t *RefreshToken) Live(now time.Time) bool {
	return !t.Revoked && now.Before(t.ExpiresAt)
}
