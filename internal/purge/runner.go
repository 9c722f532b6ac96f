// Package purge deletes every tracked server whose remote name does not
// contain a retention keyword, in bounded batches with pollable progress.
package purge

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tsanders-rh/panelctl/internal/events"
	"github.com/tsanders-rh/panelctl/internal/panel"
	"github.com/tsanders-rh/panelctl/pkg/types"
)

// Config holds purge configuration
type Config struct {
	DefaultBatchSize int `yaml:"defaultBatchSize" validate:"min=1"`
	MaxBatchSize     int `yaml:"maxBatchSize" validate:"min=1,gtefield=DefaultBatchSize"`
	FetchConcurrency int `yaml:"fetchConcurrency" validate:"min=1"`
}

// DefaultConfig returns default purge configuration
func DefaultConfig() Config {
	return Config{
		DefaultBatchSize: 5,
		MaxBatchSize:     50,
		FetchConcurrency: 5,
	}
}

// Panel reads remote server names
type Panel interface {
	GetServer(ctx context.Context, id int) (*panel.RemoteServer, error)
}

// Deprovisioner deletes one server
type Deprovisioner interface {
	Delete(ctx context.Context, req *types.DeleteServerRequest) error
}

// ServerLister enumerates tracked servers
type ServerLister interface {
	ListAll(ctx context.Context) ([]*types.ServerRecord, error)
}

// JobUpdater persists job progress. Updates to a finished job fail.
type JobUpdater interface {
	GetByID(ctx context.Context, id string) (*types.PurgeJob, error)
	MarkProcessing(ctx context.Context, id string, total int) error
	SetProtected(ctx context.Context, id string, protected int) error
	AddProgress(ctx context.Context, id string, processed, deleted, failed int) error
	MarkCompleted(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id, message string) error
	IsCancelRequested(ctx context.Context, id string) (bool, error)
}

// Runner executes purge jobs
type Runner struct {
	jobs          JobUpdater
	servers       ServerLister
	panel         Panel
	deprovisioner Deprovisioner
	events        events.Publisher
	cfg           Config
	logger        *zap.Logger
}

// NewRunner creates a new purge runner
func NewRunner(jobs JobUpdater, servers ServerLister, p Panel, d Deprovisioner, pub events.Publisher, cfg Config, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if pub == nil {
		pub = events.Nop{}
	}

	return &Runner{
		jobs:          jobs,
		servers:       servers,
		panel:         p,
		deprovisioner: d,
		events:        pub,
		cfg:           cfg,
		logger:        logger.Named("purge"),
	}
}

// errCancelled ends a job whose cancellation was requested
var errCancelled = errors.New("cancelled")

// Run executes a started job to completion. Per-server failures are counted
// in the job; only failures to enumerate servers or to persist progress end
// the job as failed.
func (r *Runner) Run(ctx context.Context, jobID string) error {
	job, err := r.jobs.GetByID(ctx, jobID)
	if err != nil {
		return fmt.Errorf("get purge job: %w", err)
	}
	if job.Status.IsTerminal() {
		return nil
	}

	logger := r.logger.With(zap.String("job_id", job.ID), zap.String("keywords", job.Keywords))
	logger.Info("purge started", zap.Int("batch_size", job.BatchSize))

	err = r.run(ctx, logger, job)

	// Final state is written even if the worker is shutting down
	ctx = context.WithoutCancel(ctx)

	if err != nil {
		message := err.Error()
		if errors.Is(err, context.Canceled) {
			message = "interrupted"
		}
		if merr := r.jobs.MarkFailed(ctx, job.ID, message); merr != nil {
			logger.Error("failed to mark purge job failed", zap.Error(merr))
		}
		purgeJobsTotal.WithLabelValues(string(types.PurgeStatusFailed)).Inc()
		r.publish(ctx, events.PurgeFailed, job.ID, map[string]any{"error": message})

		if errors.Is(err, errCancelled) {
			logger.Info("purge cancelled")
			return nil
		}
		logger.Error("purge failed", zap.Error(err))
		return err
	}

	if err := r.jobs.MarkCompleted(ctx, job.ID); err != nil {
		return fmt.Errorf("mark purge job completed: %w", err)
	}
	purgeJobsTotal.WithLabelValues(string(types.PurgeStatusCompleted)).Inc()
	r.publish(ctx, events.PurgeCompleted, job.ID, nil)

	logger.Info("purge completed")
	return nil
}

func (r *Runner) run(ctx context.Context, logger *zap.Logger, job *types.PurgeJob) error {
	records, err := r.servers.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("list servers: %w", err)
	}

	if err := r.jobs.MarkProcessing(ctx, job.ID, len(records)); err != nil {
		return fmt.Errorf("mark purge job processing: %w", err)
	}

	instances, unreachable, err := fetchNames(ctx, r.panel, records, r.cfg.FetchConcurrency)
	if err != nil {
		return err
	}

	protected, candidates := Partition(instances, job.Keywords)

	if err := r.jobs.SetProtected(ctx, job.ID, len(protected)); err != nil {
		return fmt.Errorf("record protected servers: %w", err)
	}
	recordServersMetric("protected", len(protected))

	logger.Info("purge classified servers",
		zap.Int("total", len(records)),
		zap.Int("protected", len(protected)),
		zap.Int("candidates", len(candidates)),
		zap.Int("unreachable", len(unreachable)))

	// Servers that could not be read are never deleted blind
	if n := len(unreachable); n > 0 {
		for _, rec := range unreachable {
			logger.Warn("skipping server that could not be fetched", zap.String("server_id", rec.ID))
		}
		if err := r.jobs.AddProgress(ctx, job.ID, n, 0, n); err != nil {
			return fmt.Errorf("record purge progress: %w", err)
		}
		recordServersMetric("failed", n)
	}

	batchSize := job.BatchSize
	if batchSize <= 0 {
		batchSize = r.cfg.DefaultBatchSize
	}

	for start := 0; start < len(candidates); start += batchSize {
		if err := ctx.Err(); err != nil {
			return err
		}

		cancelled, err := r.jobs.IsCancelRequested(ctx, job.ID)
		if err != nil {
			return fmt.Errorf("check purge cancellation: %w", err)
		}
		if cancelled {
			return errCancelled
		}

		end := min(start+batchSize, len(candidates))
		deleted, failed := r.runBatch(ctx, logger, job.ID, candidates[start:end])

		if err := r.jobs.AddProgress(ctx, job.ID, end-start, deleted, failed); err != nil {
			return fmt.Errorf("record purge progress: %w", err)
		}
	}

	return nil
}

// runBatch deletes every instance in the batch concurrently and waits for
// all of them
func (r *Runner) runBatch(ctx context.Context, logger *zap.Logger, jobID string, batch []Instance) (deleted, failed int) {
	start := time.Now()
	var nDeleted, nFailed atomic.Int64

	var g errgroup.Group
	for _, in := range batch {
		g.Go(func() error {
			err := r.deprovisioner.Delete(ctx, &types.DeleteServerRequest{
				ServerRecordID: in.Record.ID,
				OwnerID:        in.Record.OwnerID,
				AsAdmin:        true,
				Reason:         "purge " + jobID,
			})
			if err != nil {
				nFailed.Add(1)
				logger.Warn("purge failed to delete server",
					zap.String("server_id", in.Record.ID),
					zap.String("name", in.Name),
					zap.Error(err))
				return nil
			}

			nDeleted.Add(1)
			logger.Debug("purge deleted server",
				zap.String("server_id", in.Record.ID),
				zap.String("name", in.Name))
			return nil
		})
	}
	_ = g.Wait()

	purgeBatchDuration.Observe(time.Since(start).Seconds())
	recordServersMetric("deleted", int(nDeleted.Load()))
	recordServersMetric("failed", int(nFailed.Load()))

	return int(nDeleted.Load()), int(nFailed.Load())
}

func (r *Runner) publish(ctx context.Context, eventType, jobID string, data map[string]any) {
	err := r.events.Publish(ctx, events.Event{
		Type:      eventType,
		JobID:     jobID,
		Data:      data,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		r.logger.Warn("failed to publish event", zap.String("type", eventType), zap.Error(err))
	}
}
