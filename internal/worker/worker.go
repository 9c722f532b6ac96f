package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tsanders-rh/panelctl/internal/store"
	"github.com/tsanders-rh/panelctl/pkg/types"
)

// Config holds worker configuration
type Config struct {
	WorkerID      string        `yaml:"workerId"`
	PollInterval  time.Duration `yaml:"pollInterval" validate:"gt=0"`
	JobTimeout    time.Duration `yaml:"jobTimeout" validate:"gt=0"`
	MaxConcurrent int           `yaml:"maxConcurrent" validate:"min=1"`
}

// DefaultConfig returns default worker configuration
func DefaultConfig() *Config {
	return &Config{
		WorkerID:      NewWorkerID(),
		PollInterval:  5 * time.Second,
		JobTimeout:    2 * time.Hour,
		MaxConcurrent: 2,
	}
}

// NewWorkerID returns an identifier unique to this process
func NewWorkerID() string {
	hostname, _ := os.Hostname()
	return fmt.Sprintf("%s-%s", hostname, uuid.New().String()[:8])
}

// JobClaimer hands out started purge jobs, each to one worker only
type JobClaimer interface {
	ClaimNext(ctx context.Context, workerID string) (*types.PurgeJob, error)
}

// Worker claims purge jobs and runs them
type Worker struct {
	config    *Config
	jobs      JobClaimer
	processor *JobProcessor
	logger    *zap.Logger

	slots  chan struct{}
	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewWorker creates a new worker instance
func NewWorker(config *Config, jobs JobClaimer, runner JobRunner, logger *zap.Logger) *Worker {
	if config == nil {
		config = DefaultConfig()
	}
	if config.WorkerID == "" {
		config.WorkerID = NewWorkerID()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("worker").With(zap.String("worker_id", config.WorkerID))

	return &Worker{
		config:    config,
		jobs:      jobs,
		processor: NewJobProcessor(runner, config.JobTimeout, logger),
		logger:    logger,
		slots:     make(chan struct{}, config.MaxConcurrent),
	}
}

// Start runs the polling loop until ctx is cancelled or Stop is called.
// Jobs in progress are interrupted and waited for before it returns.
func (w *Worker) Start(ctx context.Context) error {
	ctx, w.cancel = context.WithCancel(ctx)

	w.logger.Info("worker starting",
		zap.Duration("poll_interval", w.config.PollInterval),
		zap.Int("max_concurrent", w.config.MaxConcurrent))

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		w.poll(ctx)

		select {
		case <-ctx.Done():
			w.logger.Info("worker shutting down")
			w.wg.Wait()
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Stop stops the worker
func (w *Worker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
}

// poll claims jobs while there are free slots
func (w *Worker) poll(ctx context.Context) {
	for {
		select {
		case w.slots <- struct{}{}:
		default:
			return
		}

		job, err := w.jobs.ClaimNext(ctx, w.config.WorkerID)
		if err != nil {
			<-w.slots
			if !errors.Is(err, store.ErrNotFound) && ctx.Err() == nil {
				w.logger.Error("failed to claim purge job", zap.Error(err))
			}
			return
		}

		w.logger.Info("claimed purge job", zap.String("job_id", job.ID))

		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			defer func() { <-w.slots }()
			_ = w.processor.Process(ctx, job)
		}()
	}
}
