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

// PurgeJobStore handles purge job operations. Updates never leave a terminal
// state: every write is guarded on status.
type PurgeJobStore struct {
	pool *pgxpool.Pool
}

const purgeJobColumns = `id, status, keywords, batch_size, total_servers, protected_count,
	processed_count, deleted_count, failed_count, cancel_requested, claimed_by,
	requested_by, error_message, created_at, updated_at, completed_at`

const notTerminal = `status NOT IN ('completed', 'failed')`

func scanPurgeJob(row rowScanner) (*types.PurgeJob, error) {
	var j types.PurgeJob
	err := row.Scan(
		&j.ID,
		&j.Status,
		&j.Keywords,
		&j.BatchSize,
		&j.TotalServers,
		&j.ProtectedCount,
		&j.ProcessedCount,
		&j.DeletedCount,
		&j.FailedCount,
		&j.CancelRequested,
		&j.ClaimedBy,
		&j.RequestedBy,
		&j.ErrorMessage,
		&j.CreatedAt,
		&j.UpdatedAt,
		&j.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

// Create inserts a new purge job in the started state
func (s *PurgeJobStore) Create(ctx context.Context, job *types.PurgeJob) error {
	query := `
		INSERT INTO purge_jobs (id, status, keywords, batch_size, requested_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := s.pool.Exec(ctx, query,
		job.ID,
		job.Status,
		job.Keywords,
		job.BatchSize,
		job.RequestedBy,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert purge job: %w", err)
	}

	return nil
}

// GetByID retrieves a purge job
func (s *PurgeJobStore) GetByID(ctx context.Context, id string) (*types.PurgeJob, error) {
	query := `SELECT ` + purgeJobColumns + ` FROM purge_jobs WHERE id = $1`

	j, err := scanPurgeJob(s.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get purge job: %w", err)
	}

	return j, nil
}

// List returns the most recent purge jobs
func (s *PurgeJobStore) List(ctx context.Context, limit int) ([]*types.PurgeJob, error) {
	query := `SELECT ` + purgeJobColumns + ` FROM purge_jobs ORDER BY created_at DESC LIMIT $1`

	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list purge jobs: %w", err)
	}
	defer rows.Close()

	jobs := []*types.PurgeJob{}
	for rows.Next() {
		j, err := scanPurgeJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan purge job: %w", err)
		}
		jobs = append(jobs, j)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate purge jobs: %w", err)
	}

	return jobs, nil
}

// ClaimNext claims the oldest unclaimed started job for a worker.
// Returns ErrNotFound when nothing is waiting.
func (s *PurgeJobStore) ClaimNext(ctx context.Context, workerID string) (*types.PurgeJob, error) {
	query := `
		UPDATE purge_jobs
		SET claimed_by = $1, updated_at = NOW()
		WHERE id = (
			SELECT id FROM purge_jobs
			WHERE status = 'started' AND claimed_by IS NULL
			ORDER BY created_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + purgeJobColumns

	j, err := scanPurgeJob(s.pool.QueryRow(ctx, query, workerID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("claim purge job: %w", err)
	}

	return j, nil
}

// MarkProcessing moves a job to processing with the number of servers it
// will examine
func (s *PurgeJobStore) MarkProcessing(ctx context.Context, id string, total int) error {
	query := `
		UPDATE purge_jobs
		SET status = 'processing', total_servers = $2, updated_at = NOW()
		WHERE id = $1 AND ` + notTerminal

	return s.guardedExec(ctx, "mark purge job processing", query, id, total)
}

// SetProtected records how many servers matched the retention keywords
func (s *PurgeJobStore) SetProtected(ctx context.Context, id string, protected int) error {
	query := `
		UPDATE purge_jobs
		SET protected_count = $2, updated_at = NOW()
		WHERE id = $1 AND ` + notTerminal

	return s.guardedExec(ctx, "set purge job protected count", query, id, protected)
}

// AddProgress increments the progress counters of a running job
func (s *PurgeJobStore) AddProgress(ctx context.Context, id string, processed, deleted, failed int) error {
	query := `
		UPDATE purge_jobs
		SET processed_count = processed_count + $2,
			deleted_count = deleted_count + $3,
			failed_count = failed_count + $4,
			updated_at = NOW()
		WHERE id = $1 AND ` + notTerminal

	return s.guardedExec(ctx, "add purge job progress", query, id, processed, deleted, failed)
}

// MarkCompleted moves a job to completed
func (s *PurgeJobStore) MarkCompleted(ctx context.Context, id string) error {
	query := `
		UPDATE purge_jobs
		SET status = 'completed', completed_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND ` + notTerminal

	return s.guardedExec(ctx, "mark purge job completed", query, id)
}

// MarkFailed moves a job to failed with a message
func (s *PurgeJobStore) MarkFailed(ctx context.Context, id, message string) error {
	query := `
		UPDATE purge_jobs
		SET status = 'failed', error_message = $2, completed_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND ` + notTerminal

	return s.guardedExec(ctx, "mark purge job failed", query, id, message)
}

// RequestCancel flags a job for cancellation between batches
func (s *PurgeJobStore) RequestCancel(ctx context.Context, id string) error {
	query := `
		UPDATE purge_jobs
		SET cancel_requested = TRUE, updated_at = NOW()
		WHERE id = $1 AND ` + notTerminal

	return s.guardedExec(ctx, "request purge job cancel", query, id)
}

// IsCancelRequested reports whether cancellation was requested for a job
func (s *PurgeJobStore) IsCancelRequested(ctx context.Context, id string) (bool, error) {
	var requested bool
	err := s.pool.QueryRow(ctx, `SELECT cancel_requested FROM purge_jobs WHERE id = $1`, id).Scan(&requested)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("get purge job cancel flag: %w", err)
	}
	return requested, nil
}

// FailStuck fails jobs that made no progress since the cutoff: processing
// jobs, and started jobs a worker claimed but never moved on
func (s *PurgeJobStore) FailStuck(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `
		UPDATE purge_jobs
		SET status = 'failed', error_message = 'stuck: no progress reported',
			completed_at = NOW(), updated_at = NOW()
		WHERE updated_at < $1
			AND (status = 'processing' OR (status = 'started' AND claimed_by IS NOT NULL))
	`

	result, err := s.pool.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("fail stuck purge jobs: %w", err)
	}

	return result.RowsAffected(), nil
}

// guardedExec runs a status-guarded update. Zero rows means the job is
// missing or already terminal; the two cases are told apart with a lookup.
func (s *PurgeJobStore) guardedExec(ctx context.Context, op, query string, args ...any) error {
	result, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if result.RowsAffected() > 0 {
		return nil
	}

	if _, err := s.GetByID(ctx, args[0].(string)); err != nil {
		return err
	}
	return ErrTerminal
}
