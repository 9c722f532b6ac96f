// Package ledger owns per-user resource quotas. Every mutation is a
// check-and-apply performed under a per-ledger lock, so no field is ever
// observed below zero.
package ledger

import (
	"context"

	"go.uber.org/zap"

	"github.com/tsanders-rh/panelctl/internal/keylock"
	"github.com/tsanders-rh/panelctl/pkg/types"
)

// Repository persists ledgers. Update must read, apply fn and write back
// atomically, and must not write anything when fn returns an error.
type Repository interface {
	Get(ctx context.Context, userID string) (*types.Ledger, error)
	Update(ctx context.Context, userID string, m types.LedgerMutation, fn func(*types.Ledger) error) error
}

// Service performs debit and credit operations on ledgers
type Service struct {
	repo   Repository
	locks  *keylock.Map
	logger *zap.Logger
}

// NewService creates a new ledger service
func NewService(repo Repository, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Service{
		repo:   repo,
		locks:  keylock.New(),
		logger: logger.Named("ledger"),
	}
}

// Get returns the current ledger for a user
func (s *Service) Get(ctx context.Context, userID string) (*types.Ledger, error) {
	return s.repo.Get(ctx, userID)
}

// TryDebit subtracts delta from the ledger if every field can cover it.
// Either all seven fields change or none do.
func (s *Service) TryDebit(ctx context.Context, userID string, delta types.Resources, m types.LedgerMutation) error {
	if err := checkNonNegative(delta); err != nil {
		return err
	}

	unlock := s.locks.Lock(userID)
	defer unlock()

	err := s.repo.Update(ctx, userID, m, func(l *types.Ledger) error {
		if err := checkAvailable(l, delta); err != nil {
			return err
		}
		l.Resources = l.Resources.Sub(delta)
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Debug("debited ledger",
		zap.String("user_id", userID),
		zap.String("reason", m.Reason),
		zap.Any("delta", delta))

	return nil
}

// Credit adds delta to every field of the ledger
func (s *Service) Credit(ctx context.Context, userID string, delta types.Resources, m types.LedgerMutation) error {
	if err := checkNonNegative(delta); err != nil {
		return err
	}

	unlock := s.locks.Lock(userID)
	defer unlock()

	err := s.repo.Update(ctx, userID, m, func(l *types.Ledger) error {
		l.Resources = l.Resources.Add(delta)
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Debug("credited ledger",
		zap.String("user_id", userID),
		zap.String("reason", m.Reason),
		zap.Any("delta", delta))

	return nil
}

// Adjust applies a signed delta as one step: positive components are debited
// and must be available, negative components are credited back.
// Adjust(id, d) followed by Adjust(id, d.Neg()) restores the original balance
// unless the credited part was spent in between.
func (s *Service) Adjust(ctx context.Context, userID string, delta types.Resources, m types.LedgerMutation) error {
	growth := delta.Positive()
	shrink := delta.Neg().Positive()

	unlock := s.locks.Lock(userID)
	defer unlock()

	err := s.repo.Update(ctx, userID, m, func(l *types.Ledger) error {
		if err := checkAvailable(l, growth); err != nil {
			return err
		}
		l.Resources = l.Resources.Sub(growth).Add(shrink)
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Debug("adjusted ledger",
		zap.String("user_id", userID),
		zap.String("reason", m.Reason),
		zap.Any("growth", growth),
		zap.Any("shrink", shrink))

	return nil
}

// checkAvailable returns an InsufficientResourcesError listing every field
// where the ledger cannot cover delta
func checkAvailable(l *types.Ledger, delta types.Resources) error {
	available := l.Resources.Fields()
	var shortfalls []Shortfall

	for i, f := range delta.Fields() {
		if available[i].Value-f.Value < 0 {
			shortfalls = append(shortfalls, Shortfall{
				Field:     f.Name,
				Needed:    f.Value,
				Available: available[i].Value,
			})
		}
	}

	if len(shortfalls) > 0 {
		return &InsufficientResourcesError{UserID: l.UserID, Shortfalls: shortfalls}
	}

	return nil
}

func checkNonNegative(delta types.Resources) error {
	for _, f := range delta.Fields() {
		if f.Value < 0 {
			return &NegativeDeltaError{Field: f.Name, Value: f.Value}
		}
	}
	return nil
}
