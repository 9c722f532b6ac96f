package types

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// Resource field names, in the order they are reported to callers
const (
	FieldRAM         = "ram"
	FieldDisk        = "disk"
	FieldCPU         = "cpu"
	FieldAllocations = "allocations"
	FieldDatabases   = "databases"
	FieldSlots       = "slots"
	FieldCoins       = "coins"
)

// Resources is a vector over the seven quota dimensions a user owns.
// It is used both for balances and for deltas.
type Resources struct {
	RAM         int64 `json:"ram" yaml:"ram" validate:"min=0"`
	Disk        int64 `json:"disk" yaml:"disk" validate:"min=0"`
	CPU         int64 `json:"cpu" yaml:"cpu" validate:"min=0"`
	Allocations int64 `json:"allocations" yaml:"allocations" validate:"min=0"`
	Databases   int64 `json:"databases" yaml:"databases" validate:"min=0"`
	Slots       int64 `json:"slots" yaml:"slots" validate:"min=0"`
	Coins       int64 `json:"coins" yaml:"coins" validate:"min=0"`
}

// ResourceField is a single named component of a Resources vector
type ResourceField struct {
	Name  string
	Value int64
}

// Fields returns the vector components in reporting order
func (r Resources) Fields() []ResourceField {
	return []ResourceField{
		{FieldRAM, r.RAM},
		{FieldDisk, r.Disk},
		{FieldCPU, r.CPU},
		{FieldAllocations, r.Allocations},
		{FieldDatabases, r.Databases},
		{FieldSlots, r.Slots},
		{FieldCoins, r.Coins},
	}
}

// Add returns r + o
func (r Resources) Add(o Resources) Resources {
	return Resources{
		RAM:         r.RAM + o.RAM,
		Disk:        r.Disk + o.Disk,
		CPU:         r.CPU + o.CPU,
		Allocations: r.Allocations + o.Allocations,
		Databases:   r.Databases + o.Databases,
		Slots:       r.Slots + o.Slots,
		Coins:       r.Coins + o.Coins,
	}
}

// Sub returns r - o
func (r Resources) Sub(o Resources) Resources {
	return r.Add(o.Neg())
}

// Neg returns -r
func (r Resources) Neg() Resources {
	return Resources{
		RAM:         -r.RAM,
		Disk:        -r.Disk,
		CPU:         -r.CPU,
		Allocations: -r.Allocations,
		Databases:   -r.Databases,
		Slots:       -r.Slots,
		Coins:       -r.Coins,
	}
}

// Positive returns max(0, x) for every component
func (r Resources) Positive() Resources {
	return Resources{
		RAM:         max(0, r.RAM),
		Disk:        max(0, r.Disk),
		CPU:         max(0, r.CPU),
		Allocations: max(0, r.Allocations),
		Databases:   max(0, r.Databases),
		Slots:       max(0, r.Slots),
		Coins:       max(0, r.Coins),
	}
}

// IsZero reports whether every component is zero
func (r Resources) IsZero() bool {
	return r == Resources{}
}

// HasNegative reports whether any component is below zero
func (r Resources) HasNegative() bool {
	for _, f := range r.Fields() {
		if f.Value < 0 {
			return true
		}
	}
	return false
}

// Value implements driver.Valuer so a delta can be stored as JSONB
func (r Resources) Value() (driver.Value, error) {
	return json.Marshal(r)
}

// Scan implements sql.Scanner for JSONB columns
func (r *Resources) Scan(value interface{}) error {
	if value == nil {
		*r = Resources{}
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

	return json.Unmarshal(bytes, r)
}

// Ledger is a user's remaining resource quota
type Ledger struct {
	UserID    string    `db:"user_id" json:"user_id"`
	Resources Resources `json:"resources"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// LedgerEntry is an append-only journal record of one ledger mutation
type LedgerEntry struct {
	ID        string    `db:"id" json:"id"`
	UserID    string    `db:"user_id" json:"user_id"`
	Delta     Resources `db:"delta" json:"delta"`
	Reason    string    `db:"reason" json:"reason"`
	ServerID  *string   `db:"server_id" json:"server_id,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// LedgerMutation describes why a ledger is being changed; it is written to the
// journal alongside the delta
type LedgerMutation struct {
	Reason   string
	ServerID *string
}
