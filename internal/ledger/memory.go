package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/tsanders-rh/panelctl/internal/store"
	"github.com/tsanders-rh/panelctl/pkg/types"
)

// MemoryRepository is an in-process Repository used by tests
type MemoryRepository struct {
	mu      sync.Mutex
	ledgers map[string]types.Ledger
	entries []types.LedgerEntry
}

// NewMemoryRepository creates an empty in-memory repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{ledgers: make(map[string]types.Ledger)}
}

// Create stores a ledger for userID with the given balance
func (r *MemoryRepository) Create(userID string, balance types.Resources) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.ledgers[userID] = types.Ledger{
		UserID:    userID,
		Resources: balance,
		UpdatedAt: time.Now(),
	}
}

// Delete removes a ledger
func (r *MemoryRepository) Delete(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.ledgers, userID)
}

// Get implements Repository
func (r *MemoryRepository) Get(_ context.Context, userID string) (*types.Ledger, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.ledgers[userID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &l, nil
}

// Update implements Repository
func (r *MemoryRepository) Update(_ context.Context, userID string, m types.LedgerMutation, fn func(*types.Ledger) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.ledgers[userID]
	if !ok {
		return store.ErrNotFound
	}

	next := current
	if err := fn(&next); err != nil {
		return err
	}
	next.UpdatedAt = time.Now()
	r.ledgers[userID] = next

	r.entries = append(r.entries, types.LedgerEntry{
		ID:        types.GenerateLedgerEntryID(),
		UserID:    userID,
		Delta:     next.Resources.Sub(current.Resources),
		Reason:    m.Reason,
		ServerID:  m.ServerID,
		CreatedAt: next.UpdatedAt,
	})

	return nil
}

// Entries returns a copy of the journal
func (r *MemoryRepository) Entries() []types.LedgerEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]types.LedgerEntry, len(r.entries))
	copy(out, r.entries)
	return out
}
