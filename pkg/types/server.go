package types

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// ServerRecord is the local claim that a remote panel server exists and is
// attributed to a user's ledger
type ServerRecord struct {
	ID           string    `db:"id" json:"id"`
	OwnerID      string    `db:"owner_id" json:"owner_id"` // Ledger / user ID
	PanelUserID  int       `db:"panel_user_id" json:"panel_user_id"`
	ServerID     int       `db:"server_id" json:"server_id"` // Remote panel server ID
	AllocationID int       `db:"allocation_id" json:"allocation_id"`
	NodeID       int       `db:"node_id" json:"node_id"`
	EggID        int       `db:"egg_id" json:"egg_id"`
	RenewAt      time.Time `db:"renew_at" json:"renew_at"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// OrphanedInstance is a remote server that exists without a ServerRecord.
// Debited holds what the owner's ledger was charged for it and is returned at
// most once; CreditedAt is set when that happens. A ServerID of 0 means the
// create outcome is unknown and the server must be looked up by ExternalID.
type OrphanedInstance struct {
	ID         string     `db:"id" json:"id"`
	ServerID   int        `db:"server_id" json:"server_id"`
	ExternalID *string    `db:"external_id" json:"external_id"`
	OwnerID    string     `db:"owner_id" json:"owner_id"`
	Debited    Resources  `db:"debited" json:"debited"`
	Reason     string     `db:"reason" json:"reason"`
	Attempts   int        `db:"attempts" json:"attempts"`
	LastError  *string    `db:"last_error" json:"last_error"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
	CreditedAt *time.Time `db:"credited_at" json:"credited_at"`
	ResolvedAt *time.Time `db:"resolved_at" json:"resolved_at"`
}

// Metadata is arbitrary JSON metadata stored with audit events
type Metadata map[string]interface{}

// Value implements driver.Valuer for database serialization
func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner for database deserialization
func (m *Metadata) Scan(value interface{}) error {
	if value == nil {
		*m = nil
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return nil
	}

	return json.Unmarshal(bytes, m)
}
