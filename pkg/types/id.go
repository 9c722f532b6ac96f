package types

import (
	"fmt"

	"github.com/segmentio/ksuid"
)

// GenerateUserID generates a unique user ID with prefix
func GenerateUserID() string {
	return fmt.Sprintf("usr_%s", ksuid.New().String())
}

// GenerateServerID generates a unique server record ID with prefix.
// The same value is sent to the panel as the server's external_id.
func GenerateServerID() string {
	return fmt.Sprintf("srv_%s", ksuid.New().String())
}

// GeneratePurgeJobID generates a unique purge job ID with prefix
func GeneratePurgeJobID() string {
	return fmt.Sprintf("purge_%s", ksuid.New().String())
}

// GenerateOrphanID generates a unique orphaned instance ID with prefix
func GenerateOrphanID() string {
	return fmt.Sprintf("orph_%s", ksuid.New().String())
}

// GenerateAuditID generates a unique audit event ID with prefix
func GenerateAuditID() string {
	return fmt.Sprintf("aud_%s", ksuid.New().String())
}

// GenerateLedgerEntryID generates a unique ledger journal entry ID with prefix
func GenerateLedgerEntryID() string {
	return fmt.Sprintf("led_%s", ksuid.New().String())
}

// GenerateID generates a generic unique ID
func GenerateID() string {
	return ksuid.New().String()
}
