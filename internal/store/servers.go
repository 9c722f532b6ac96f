package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tsanders-rh/panelctl/pkg/types"
)

// ServerStore handles server record operations
type ServerStore struct {
	pool *pgxpool.Pool
}

const serverColumns = `id, owner_id, panel_user_id, server_id, allocation_id, node_id, egg_id,
	renew_at, created_at, updated_at`

func scanServer(row rowScanner) (*types.ServerRecord, error) {
	var r types.ServerRecord
	err := row.Scan(
		&r.ID,
		&r.OwnerID,
		&r.PanelUserID,
		&r.ServerID,
		&r.AllocationID,
		&r.NodeID,
		&r.EggID,
		&r.RenewAt,
		&r.CreatedAt,
		&r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// Create inserts a new server record
func (s *ServerStore) Create(ctx context.Context, r *types.ServerRecord) error {
	query := `
		INSERT INTO servers (` + serverColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := s.pool.Exec(ctx, query,
		r.ID,
		r.OwnerID,
		r.PanelUserID,
		r.ServerID,
		r.AllocationID,
		r.NodeID,
		r.EggID,
		r.RenewAt,
		r.CreatedAt,
		r.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrConflict
		}
		return fmt.Errorf("insert server: %w", err)
	}

	return nil
}

// GetByID retrieves a server record by its local ID
func (s *ServerStore) GetByID(ctx context.Context, id string) (*types.ServerRecord, error) {
	query := `SELECT ` + serverColumns + ` FROM servers WHERE id = $1`

	r, err := scanServer(s.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get server: %w", err)
	}

	return r, nil
}

// Delete removes a server record. ErrNotFound means another caller removed it
// first.
func (s *ServerStore) Delete(ctx context.Context, id string) error {
	result, err := s.pool.Exec(ctx, `DELETE FROM servers WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete server: %w", err)
	}

	if result.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

// ListByOwner returns every server record attributed to a user
func (s *ServerStore) ListByOwner(ctx context.Context, ownerID string) ([]*types.ServerRecord, error) {
	query := `SELECT ` + serverColumns + ` FROM servers WHERE owner_id = $1 ORDER BY created_at DESC`
	return s.list(ctx, query, ownerID)
}

// ListAll returns every server record
func (s *ServerStore) ListAll(ctx context.Context) ([]*types.ServerRecord, error) {
	query := `SELECT ` + serverColumns + ` FROM servers ORDER BY created_at`
	return s.list(ctx, query)
}

// ListExpired returns servers whose renewal date is before the cutoff
func (s *ServerStore) ListExpired(ctx context.Context, cutoff time.Time) ([]*types.ServerRecord, error) {
	query := `SELECT ` + serverColumns + ` FROM servers WHERE renew_at < $1 ORDER BY renew_at`
	return s.list(ctx, query, cutoff)
}

// UpdateRenewAt sets a new renewal date
func (s *ServerStore) UpdateRenewAt(ctx context.Context, id string, renewAt time.Time) error {
	query := `UPDATE servers SET renew_at = $2, updated_at = NOW() WHERE id = $1`

	result, err := s.pool.Exec(ctx, query, id, renewAt)
	if err != nil {
		return fmt.Errorf("update server renew_at: %w", err)
	}

	if result.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

func (s *ServerStore) list(ctx context.Context, query string, args ...any) ([]*types.ServerRecord, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list servers: %w", err)
	}
	defer rows.Close()

	records := []*types.ServerRecord{}
	for rows.Next() {
		r, err := scanServer(rows)
		if err != nil {
			return nil, fmt.Errorf("scan server: %w", err)
		}
		records = append(records, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate servers: %w", err)
	}

	return records, nil
}
