package models

import "time"

// Security event types recorded in the append-only audit trail.
const (
	AuditEventRegister       = "auth.register"
	AuditEventLoginSuccess   = "auth.login.success"
	AuditEventLoginFailure   = "auth.login.failure"
	AuditEventRefresh        = "auth.refresh"
	AuditEventRefreshReuse   = "auth.refresh.reuse"
	AuditEventLogout         = "auth.logout"
	AuditEventRevokeAll      = "auth.revoke_all"
	AuditEventPasswordChange = "auth.password_change"
	AuditEventLockout        = "auth.lockout"
	AuditEventAdminRevoke    = "auth.admin.revoke"
)

// AuditEntry represents an append-only security audit record. Metadata
// carries only non-secret identifiers (jti, token record id, reason
// codes) — never token plaintext or digests.
type AuditEntry struct {
	ID        string    `db:"id" json:"id"`
	EventType string    `db:"event_type" json:"event_type"`
	ActorID   *string   `db:"actor_id" json:"actor_id,omitempty"`
	Metadata  []byte    `db:"metadata" json:"metadata,omitempty"`
	IPAddress string    `db:"ip_address" json:"ip_address"`
	UserAgent string    `db:"user_agent" json:"user_agent"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
