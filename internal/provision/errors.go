package provision

import (
	"fmt"

	"github.com/tsanders-rh/panelctl/internal/store"
	"github.com/tsanders-rh/panelctl/pkg/types"
)

// NotFoundError reports a missing user, ledger or server
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

// Unwrap lets errors.Is(err, store.ErrNotFound) match
func (e *NotFoundError) Unwrap() error { return store.ErrNotFound }

// ProvisioningFailedError is returned when a create could not be completed.
// The ledger is unchanged and no server record exists.
type ProvisioningFailedError struct {
	Cause error
}

func (e *ProvisioningFailedError) Error() string {
	return fmt.Sprintf("provisioning failed: %v", e.Cause)
}

func (e *ProvisioningFailedError) Unwrap() error { return e.Cause }

// UpdateFailedError is returned when a resize could not be applied remotely.
// The ledger adjustment has been reversed.
type UpdateFailedError struct {
	Cause error
}

func (e *UpdateFailedError) Error() string {
	return fmt.Sprintf("update failed: %v", e.Cause)
}

func (e *UpdateFailedError) Unwrap() error { return e.Cause }

// DeletionFailedError is returned when the remote server could not be
// confirmed gone. Nothing local was touched.
type DeletionFailedError struct {
	Cause error
}

func (e *DeletionFailedError) Error() string {
	return fmt.Sprintf("deletion failed: %v", e.Cause)
}

func (e *DeletionFailedError) Unwrap() error { return e.Cause }

// OrphanedInstanceError is returned when a remote server was created but
// could not be recorded locally. The janitor retries its cleanup.
type OrphanedInstanceError struct {
	RemoteID int
	Cause    error
}

func (e *OrphanedInstanceError) Error() string {
	return fmt.Sprintf("remote server %d orphaned: %v", e.RemoteID, e.Cause)
}

func (e *OrphanedInstanceError) Unwrap() error { return e.Cause }

// CompensationError means a compensating ledger change failed and the ledger
// no longer matches the panel
type CompensationError struct {
	Saga   string
	UserID string
	Delta  types.Resources
	Cause  error
}

func (e *CompensationError) Error() string {
	return fmt.Sprintf("%s compensation for ledger %s failed: %v", e.Saga, e.UserID, e.Cause)
}

func (e *CompensationError) Unwrap() error { return e.Cause }
