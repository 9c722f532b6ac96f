package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/tsanders-rh/panelctl/pkg/types"
)

// JobRunner executes one purge job to a terminal state
type JobRunner interface {
	Run(ctx context.Context, jobID string) error
}

// JobProcessor runs claimed jobs under a deadline
type JobProcessor struct {
	runner  JobRunner
	timeout time.Duration
	logger  *zap.Logger
}

// NewJobProcessor creates a new job processor
func NewJobProcessor(runner JobRunner, timeout time.Duration, logger *zap.Logger) *JobProcessor {
	return &JobProcessor{
		runner:  runner,
		timeout: timeout,
		logger:  logger,
	}
}

// Process runs a job. A job that outlives the timeout is interrupted and
// ends failed.
func (p *JobProcessor) Process(ctx context.Context, job *types.PurgeJob) error {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	start := time.Now()
	err := p.runner.Run(ctx, job.ID)

	logger := p.logger.With(zap.String("job_id", job.ID), zap.Duration("duration", time.Since(start)))
	if err != nil {
		logger.Error("purge job failed", zap.Error(err))
		return err
	}
	logger.Info("purge job finished")
	return nil
}
