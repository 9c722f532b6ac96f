package types

import "time"

// PurgeStatus represents the current state of a purge job
type PurgeStatus string

const (
	PurgeStatusStarted    PurgeStatus = "started"
	PurgeStatusProcessing PurgeStatus = "processing"
	PurgeStatusCompleted  PurgeStatus = "completed"
	PurgeStatusFailed     PurgeStatus = "failed"
)

// IsTerminal reports whether no further transitions are possible
func (s PurgeStatus) IsTerminal() bool {
	return s == PurgeStatusCompleted || s == PurgeStatusFailed
}

// PurgeJob is a background deletion of every tracked server whose remote name
// does not contain Keywords
type PurgeJob struct {
	ID              string      `db:"id" json:"id"`
	Status          PurgeStatus `db:"status" json:"status"`
	Keywords        string      `db:"keywords" json:"keywords"`
	BatchSize       int         `db:"batch_size" json:"batch_size"`
	TotalServers    int         `db:"total_servers" json:"total_servers"`
	ProtectedCount  int         `db:"protected_count" json:"protected_count"`
	ProcessedCount  int         `db:"processed_count" json:"processed_count"`
	DeletedCount    int         `db:"deleted_count" json:"deleted_count"`
	FailedCount     int         `db:"failed_count" json:"failed_count"`
	CancelRequested bool        `db:"cancel_requested" json:"cancel_requested"`
	ClaimedBy       *string     `db:"claimed_by" json:"claimed_by,omitempty"`
	RequestedBy     string      `db:"requested_by" json:"requested_by"`
	ErrorMessage    *string     `db:"error_message" json:"error_message"`
	CreatedAt       time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time   `db:"updated_at" json:"updated_at"`
	CompletedAt     *time.Time  `db:"completed_at" json:"completed_at"`
}
