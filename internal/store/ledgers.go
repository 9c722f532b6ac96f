package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tsanders-rh/panelctl/pkg/types"
)

// LedgerStore handles per-user resource ledgers and their journal
type LedgerStore struct {
	pool *pgxpool.Pool
}

const ledgerColumns = `user_id, ram, disk, cpu, allocations, databases, slots, coins, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLedger(row rowScanner) (*types.Ledger, error) {
	var l types.Ledger
	err := row.Scan(
		&l.UserID,
		&l.Resources.RAM,
		&l.Resources.Disk,
		&l.Resources.CPU,
		&l.Resources.Allocations,
		&l.Resources.Databases,
		&l.Resources.Slots,
		&l.Resources.Coins,
		&l.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// Get retrieves the ledger for a user
func (s *LedgerStore) Get(ctx context.Context, userID string) (*types.Ledger, error) {
	query := `SELECT ` + ledgerColumns + ` FROM ledgers WHERE user_id = $1`

	l, err := scanLedger(s.pool.QueryRow(ctx, query, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get ledger: %w", err)
	}

	return l, nil
}

// Update locks the ledger row, applies fn and writes the result back together
// with a journal entry for the difference. Nothing is written if fn fails.
func (s *LedgerStore) Update(ctx context.Context, userID string, m types.LedgerMutation, fn func(*types.Ledger) error) error {
	return withTx(ctx, s.pool, func(tx pgx.Tx) error {
		query := `SELECT ` + ledgerColumns + ` FROM ledgers WHERE user_id = $1 FOR UPDATE`

		current, err := scanLedger(tx.QueryRow(ctx, query, userID))
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("lock ledger: %w", err)
		}

		next := *current
		if err := fn(&next); err != nil {
			return err
		}
		next.UpdatedAt = time.Now()

		_, err = tx.Exec(ctx, `
			UPDATE ledgers
			SET ram = $2, disk = $3, cpu = $4, allocations = $5, databases = $6,
				slots = $7, coins = $8, updated_at = $9
			WHERE user_id = $1
		`,
			userID,
			next.Resources.RAM,
			next.Resources.Disk,
			next.Resources.CPU,
			next.Resources.Allocations,
			next.Resources.Databases,
			next.Resources.Slots,
			next.Resources.Coins,
			next.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("update ledger: %w", err)
		}

		if err := insertLedgerEntry(ctx, tx, &types.LedgerEntry{
			ID:        types.GenerateLedgerEntryID(),
			UserID:    userID,
			Delta:     next.Resources.Sub(current.Resources),
			Reason:    m.Reason,
			ServerID:  m.ServerID,
			CreatedAt: next.UpdatedAt,
		}); err != nil {
			return err
		}

		*current = next
		return nil
	})
}

func createLedger(ctx context.Context, tx pgx.Tx, userID string, balance types.Resources) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO ledgers (user_id, ram, disk, cpu, allocations, databases, slots, coins)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		userID,
		balance.RAM,
		balance.Disk,
		balance.CPU,
		balance.Allocations,
		balance.Databases,
		balance.Slots,
		balance.Coins,
	)
	if err != nil {
		return fmt.Errorf("insert ledger: %w", err)
	}

	return insertLedgerEntry(ctx, tx, &types.LedgerEntry{
		ID:        types.GenerateLedgerEntryID(),
		UserID:    userID,
		Delta:     balance,
		Reason:    "initial balance",
		CreatedAt: time.Now(),
	})
}

func insertLedgerEntry(ctx context.Context, tx pgx.Tx, e *types.LedgerEntry) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO ledger_entries (id, user_id, delta, reason, server_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`,
		e.ID,
		e.UserID,
		e.Delta,
		e.Reason,
		e.ServerID,
		e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert ledger entry: %w", err)
	}
	return nil
}

// ListEntries returns the most recent journal entries for a user
func (s *LedgerStore) ListEntries(ctx context.Context, userID string, limit int) ([]*types.LedgerEntry, error) {
	query := `
		SELECT id, user_id, delta, reason, server_id, created_at
		FROM ledger_entries
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := s.pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list ledger entries: %w", err)
	}
	defer rows.Close()

	entries := []*types.LedgerEntry{}
	for rows.Next() {
		var e types.LedgerEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.Delta, &e.Reason, &e.ServerID, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		entries = append(entries, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ledger entries: %w", err)
	}

	return entries, nil
}
