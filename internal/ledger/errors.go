package ledger

import (
	"fmt"
	"strings"
)

// Shortfall is one resource dimension that cannot cover a debit
type Shortfall struct {
	Field     string `json:"field"`
	Needed    int64  `json:"needed"`
	Available int64  `json:"available"`
}

// InsufficientResourcesError is returned when a debit would take any field of
// a ledger below zero. Every short field is listed.
type InsufficientResourcesError struct {
	UserID     string
	Shortfalls []Shortfall
}

// Error implements the error interface
func (e *InsufficientResourcesError) Error() string {
	parts := make([]string, 0, len(e.Shortfalls))
	for _, s := range e.Shortfalls {
		parts = append(parts, fmt.Sprintf("%s (needed %d, available %d)", s.Field, s.Needed, s.Available))
	}
	return "insufficient resources: " + strings.Join(parts, ", ")
}

// NegativeDeltaError is returned when a debit or credit is called with a
// negative component. It is a caller bug, not a quota condition.
type NegativeDeltaError struct {
	Field string
	Value int64
}

// Error implements the error interface
func (e *NegativeDeltaError) Error() string {
	return fmt.Sprintf("negative %s delta %d", e.Field, e.Value)
}
