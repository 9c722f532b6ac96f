package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tsanders-rh/panelctl/pkg/types"
)

// OrphanStore tracks remote instances that exist without a server record
type OrphanStore struct {
	pool *pgxpool.Pool
}

// Create registers an orphaned instance
func (s *OrphanStore) Create(ctx context.Context, o *types.OrphanedInstance) error {
	query := `
		INSERT INTO orphaned_instances (id, server_id, external_id, owner_id, debited, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := s.pool.Exec(ctx, query,
		o.ID,
		o.ServerID,
		o.ExternalID,
		o.OwnerID,
		o.Debited,
		o.Reason,
		o.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert orphaned instance: %w", err)
	}

	return nil
}

// ListUnresolved returns orphans that still need cleanup, oldest first
func (s *OrphanStore) ListUnresolved(ctx context.Context, limit int) ([]*types.OrphanedInstance, error) {
	query := `
		SELECT id, server_id, external_id, owner_id, debited, reason, attempts, last_error,
		       created_at, credited_at, resolved_at
		FROM orphaned_instances
		WHERE resolved_at IS NULL
		ORDER BY created_at
		LIMIT $1
	`

	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list orphaned instances: %w", err)
	}
	defer rows.Close()

	orphans := []*types.OrphanedInstance{}
	for rows.Next() {
		var o types.OrphanedInstance
		err := rows.Scan(
			&o.ID,
			&o.ServerID,
			&o.ExternalID,
			&o.OwnerID,
			&o.Debited,
			&o.Reason,
			&o.Attempts,
			&o.LastError,
			&o.CreatedAt,
			&o.CreditedAt,
			&o.ResolvedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan orphaned instance: %w", err)
		}
		orphans = append(orphans, &o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate orphaned instances: %w", err)
	}

	return orphans, nil
}

// RecordAttempt stores a failed cleanup attempt
func (s *OrphanStore) RecordAttempt(ctx context.Context, id, lastError string) error {
	query := `
		UPDATE orphaned_instances
		SET attempts = attempts + 1, last_error = $2
		WHERE id = $1
	`

	result, err := s.pool.Exec(ctx, query, id, lastError)
	if err != nil {
		return fmt.Errorf("record orphan cleanup attempt: %w", err)
	}

	if result.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

// MarkCredited claims the credit-back of an orphan's debit. It returns
// ErrNotFound when the orphan was already credited.
func (s *OrphanStore) MarkCredited(ctx context.Context, id string) error {
	query := `
		UPDATE orphaned_instances
		SET credited_at = NOW()
		WHERE id = $1 AND credited_at IS NULL
	`

	result, err := s.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("mark orphan credited: %w", err)
	}

	if result.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

// ClearCredited releases a claim taken by MarkCredited whose credit failed
func (s *OrphanStore) ClearCredited(ctx context.Context, id string) error {
	query := `
		UPDATE orphaned_instances
		SET credited_at = NULL
		WHERE id = $1 AND resolved_at IS NULL
	`

	if _, err := s.pool.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("clear orphan credit: %w", err)
	}

	return nil
}

// Resolve marks an orphan as cleaned up
func (s *OrphanStore) Resolve(ctx context.Context, id string) error {
	query := `
		UPDATE orphaned_instances
		SET attempts = attempts + 1, resolved_at = NOW()
		WHERE id = $1 AND resolved_at IS NULL
	`

	result, err := s.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("resolve orphaned instance: %w", err)
	}

	if result.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}
