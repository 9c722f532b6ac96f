package purge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/tsanders-rh/panelctl/internal/policy"
	"github.com/tsanders-rh/panelctl/internal/store"
	"github.com/tsanders-rh/panelctl/pkg/types"
)

// JobStore creates and reads purge jobs
type JobStore interface {
	Create(ctx context.Context, job *types.PurgeJob) error
	GetByID(ctx context.Context, id string) (*types.PurgeJob, error)
	List(ctx context.Context, limit int) ([]*types.PurgeJob, error)
	RequestCancel(ctx context.Context, id string) error
}

// AuditLogger records audit events
type AuditLogger interface {
	Log(ctx context.Context, event *types.AuditEvent) error
}

// Service is the admin-facing side of purge jobs. Jobs it starts are picked
// up by a worker.
type Service struct {
	jobs   JobStore
	audit  AuditLogger
	cfg    Config
	logger *zap.Logger
}

// NewService creates a new purge service
func NewService(jobs JobStore, audit AuditLogger, cfg Config, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Service{
		jobs:   jobs,
		audit:  audit,
		cfg:    cfg,
		logger: logger.Named("purge"),
	}
}

// Start creates a job in the started state. A zero batchSize uses the
// configured default.
func (s *Service) Start(ctx context.Context, keywords string, batchSize int, requestedBy string) (*types.PurgeJob, error) {
	keywords = strings.TrimSpace(keywords)
	if batchSize == 0 {
		batchSize = s.cfg.DefaultBatchSize
	}

	result := &policy.ValidationResult{Valid: true}
	if keywords == "" {
		result.AddError("keywords", "retention keywords are required")
	}
	if batchSize < 1 || batchSize > s.cfg.MaxBatchSize {
		result.AddError("batch_size", fmt.Sprintf("batch size must be between 1 and %d", s.cfg.MaxBatchSize))
	}
	if err := result.Err(); err != nil {
		return nil, err
	}

	now := time.Now()
	job := &types.PurgeJob{
		ID:          types.GeneratePurgeJobID(),
		Status:      types.PurgeStatusStarted,
		Keywords:    keywords,
		BatchSize:   batchSize,
		RequestedBy: requestedBy,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("create purge job: %w", err)
	}

	if s.audit != nil {
		err := s.audit.Log(ctx, &types.AuditEvent{
			ID:          types.GenerateAuditID(),
			Actor:       requestedBy,
			Action:      types.AuditActionPurgeStart,
			TargetJobID: &job.ID,
			Status:      types.AuditEventStatusSuccess,
			Metadata:    types.Metadata{"keywords": keywords, "batch_size": batchSize},
			CreatedAt:   now,
		})
		if err != nil {
			s.logger.Warn("failed to write audit event", zap.Error(err))
		}
	}

	s.logger.Info("purge job created",
		zap.String("job_id", job.ID),
		zap.String("keywords", keywords),
		zap.Int("batch_size", batchSize),
		zap.String("requested_by", requestedBy))

	return job, nil
}

// Status returns the current state of a job
func (s *Service) Status(ctx context.Context, id string) (*types.PurgeJob, error) {
	return s.jobs.GetByID(ctx, id)
}

// List returns recent jobs
func (s *Service) List(ctx context.Context, limit int) ([]*types.PurgeJob, error) {
	return s.jobs.List(ctx, limit)
}

// Cancel asks a running job to stop before its next batch. Cancelling a
// finished job is a no-op.
func (s *Service) Cancel(ctx context.Context, id string) (*types.PurgeJob, error) {
	err := s.jobs.RequestCancel(ctx, id)
	if err != nil && !errors.Is(err, store.ErrTerminal) {
		return nil, err
	}

	return s.jobs.GetByID(ctx, id)
}
