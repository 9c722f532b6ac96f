package types

import "time"

// AuditEventStatus represents the outcome of an audited action
type AuditEventStatus string

const (
	AuditEventStatusSuccess AuditEventStatus = "SUCCESS"
	AuditEventStatusFailure AuditEventStatus = "FAILURE"
	AuditEventStatusDenied  AuditEventStatus = "DENIED"
)

// Audited actions
const (
	AuditActionServerCreate = "server.create"
	AuditActionServerUpdate = "server.update"
	AuditActionServerDelete = "server.delete"
	AuditActionServerRenew  = "server.renew"
	AuditActionPurgeStart   = "purge.start"
	AuditActionCompensation = "ledger.compensation"
	AuditActionDivergence   = "ledger.divergence"
)

// AuditEvent represents an immutable audit log entry
type AuditEvent struct {
	ID             string           `db:"id"`
	Actor          string           `db:"actor"` // User ID, or "system"
	Action         string           `db:"action"`
	TargetServerID *string          `db:"target_server_id"`
	TargetJobID    *string          `db:"target_job_id"`
	Status         AuditEventStatus `db:"status"`
	Metadata       Metadata         `db:"metadata"`
	IPAddress      *string          `db:"ip_address"`
	UserAgent      *string          `db:"user_agent"`
	CreatedAt      time.Time        `db:"created_at"`
}

// IdempotencyKey represents a cached request for idempotent operations
type IdempotencyKey struct {
	ID                 string    `db:"id"`
	Key                string    `db:"key"`
	RequestHash        string    `db:"request_hash"`
	ResponseStatusCode *int      `db:"response_status_code"`
	ResponseBody       []byte    `db:"response_body"`
	CreatedAt          time.Time `db:"created_at"`
	ExpiresAt          time.Time `db:"expires_at"`
}
