package janitor

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/tsanders-rh/panelctl/internal/panel"
	"github.com/tsanders-rh/panelctl/internal/store"
	"github.com/tsanders-rh/panelctl/pkg/types"
)

// Config holds janitor configuration
type Config struct {
	CheckInterval     time.Duration `yaml:"checkInterval" validate:"gt=0"`
	StuckJobThreshold time.Duration `yaml:"stuckJobThreshold" validate:"gt=0"`
	ReapExpired       bool          `yaml:"reapExpired"`
	RenewalGrace      time.Duration `yaml:"-"`
	OrphanBatch       int           `yaml:"orphanBatch" validate:"min=1"`
	MaxOrphanAttempts int           `yaml:"maxOrphanAttempts" validate:"min=1"`
	ExpiredKeyCleanup bool          `yaml:"expiredKeyCleanup"`
}

// DefaultConfig returns default janitor configuration
func DefaultConfig() *Config {
	return &Config{
		CheckInterval:     5 * time.Minute,
		StuckJobThreshold: 3 * time.Hour,
		OrphanBatch:       50,
		MaxOrphanAttempts: 10,
		ExpiredKeyCleanup: true,
	}
}

// ExpiredServers lists servers whose renewal date is before a cutoff
type ExpiredServers interface {
	ListExpired(ctx context.Context, cutoff time.Time) ([]*types.ServerRecord, error)
}

// Deprovisioner runs the delete saga
type Deprovisioner interface {
	Delete(ctx context.Context, req *types.DeleteServerRequest) error
}

// Orphans is the registry of remote servers left without a record
type Orphans interface {
	ListUnresolved(ctx context.Context, limit int) ([]*types.OrphanedInstance, error)
	RecordAttempt(ctx context.Context, id, lastError string) error
	MarkCredited(ctx context.Context, id string) error
	ClearCredited(ctx context.Context, id string) error
	Resolve(ctx context.Context, id string) error
}

// Remote finds and deletes remote servers; deleting a missing server is not
// an error
type Remote interface {
	GetServerByExternalID(ctx context.Context, externalID string) (*panel.RemoteServer, error)
	DeleteServer(ctx context.Context, id int) error
}

// Crediter returns resources to a ledger
type Crediter interface {
	Credit(ctx context.Context, userID string, delta types.Resources, m types.LedgerMutation) error
}

// StuckJobs fails purge jobs that stopped making progress
type StuckJobs interface {
	FailStuck(ctx context.Context, cutoff time.Time) (int64, error)
}

// ExpiredKeys removes idempotency keys past their expiry
type ExpiredKeys interface {
	CleanupExpired(ctx context.Context) (int64, error)
}

// Deps are the collaborators of the janitor
type Deps struct {
	Servers       ExpiredServers
	Deprovisioner Deprovisioner
	Orphans       Orphans
	Panel         Remote
	Ledger        Crediter
	PurgeJobs     StuckJobs
	Idempotency   ExpiredKeys
}

// Janitor performs periodic cleanup tasks
type Janitor struct {
	Deps
	config *Config
	logger *zap.Logger
	now    func() time.Time
	cancel context.CancelFunc
}

// NewJanitor creates a new janitor instance
func NewJanitor(config *Config, deps Deps, logger *zap.Logger) *Janitor {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Janitor{
		Deps:   deps,
		config: config,
		logger: logger.Named("janitor"),
		now:    time.Now,
	}
}

// Start starts the janitor loop
func (j *Janitor) Start(ctx context.Context) error {
	ctx, j.cancel = context.WithCancel(ctx)

	j.logger.Info("janitor starting", zap.Duration("check_interval", j.config.CheckInterval))

	// Run immediately on start
	j.run(ctx)

	ticker := time.NewTicker(j.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("janitor shutting down")
			return ctx.Err()

		case <-ticker.C:
			j.run(ctx)
		}
	}
}

// Stop stops the janitor gracefully
func (j *Janitor) Stop() {
	if j.cancel != nil {
		j.cancel()
	}
}

// run performs all cleanup tasks
func (j *Janitor) run(ctx context.Context) {
	j.logger.Debug("janitor running cleanup tasks")

	if j.config.ReapExpired {
		if err := j.reapExpiredServers(ctx); err != nil {
			j.logger.Error("error reaping expired servers", zap.Error(err))
		}
	}

	if err := j.cleanupOrphans(ctx); err != nil {
		j.logger.Error("error cleaning up orphaned servers", zap.Error(err))
	}

	if err := j.cleanupStuckJobs(ctx); err != nil {
		j.logger.Error("error cleaning up stuck purge jobs", zap.Error(err))
	}

	if j.config.ExpiredKeyCleanup {
		if err := j.cleanupExpiredKeys(ctx); err != nil {
			j.logger.Error("error cleaning up expired keys", zap.Error(err))
		}
	}
}

// reapExpiredServers deletes servers whose renewal lapsed past the grace period
func (j *Janitor) reapExpiredServers(ctx context.Context) error {
	expired, err := j.Servers.ListExpired(ctx, j.now().Add(-j.config.RenewalGrace))
	if err != nil {
		return err
	}

	for _, rec := range expired {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err := j.Deprovisioner.Delete(ctx, &types.DeleteServerRequest{
			ServerRecordID: rec.ID,
			OwnerID:        rec.OwnerID,
			AsAdmin:        true,
			Reason:         "renewal expired",
		})
		if err != nil {
			j.logger.Warn("failed to delete expired server",
				zap.String("server_id", rec.ID),
				zap.Time("renew_at", rec.RenewAt),
				zap.Error(err))
			continue
		}

		j.logger.Info("deleted expired server",
			zap.String("server_id", rec.ID),
			zap.String("owner_id", rec.OwnerID),
			zap.Time("renew_at", rec.RenewAt))
	}

	return nil
}

// cleanupOrphans deletes remote servers that never got a record and returns
// what their owners were charged
func (j *Janitor) cleanupOrphans(ctx context.Context) error {
	orphans, err := j.Orphans.ListUnresolved(ctx, j.config.OrphanBatch)
	if err != nil {
		return err
	}

	for _, o := range orphans {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		logger := j.logger.With(
			zap.String("orphan_id", o.ID),
			zap.Int("remote_id", o.ServerID),
			zap.String("owner_id", o.OwnerID))

		if o.Attempts >= j.config.MaxOrphanAttempts {
			logger.Warn("orphaned server needs manual cleanup", zap.Int("attempts", o.Attempts))
			continue
		}

		remoteID := o.ServerID
		if remoteID == 0 && o.ExternalID != nil {
			remote, err := j.Panel.GetServerByExternalID(ctx, *o.ExternalID)
			switch {
			case panel.IsNotFound(err):
				logger.Info("server with unknown create outcome was never created",
					zap.String("external_id", *o.ExternalID))
			case err != nil:
				j.recordAttempt(ctx, logger, o, err)
				continue
			default:
				remoteID = remote.ID
			}
		}

		if remoteID != 0 {
			if err := j.Panel.DeleteServer(ctx, remoteID); err != nil {
				j.recordAttempt(ctx, logger, o, err)
				continue
			}
		}

		if err := j.creditOrphan(ctx, logger, o); err != nil {
			j.recordAttempt(ctx, logger, o, err)
			continue
		}

		if err := j.Orphans.Resolve(ctx, o.ID); err != nil {
			logger.Error("failed to resolve orphaned server", zap.Error(err))
			continue
		}

		logger.Info("cleaned up orphaned server")
	}

	return nil
}

// creditOrphan returns an orphan's debit to its owner at most once. The
// credit is claimed in the orphan registry first, so a later tick that
// finds the orphan unresolved does not credit again.
func (j *Janitor) creditOrphan(ctx context.Context, logger *zap.Logger, o *types.OrphanedInstance) error {
	if o.Debited.IsZero() || o.CreditedAt != nil {
		return nil
	}

	if err := j.Orphans.MarkCredited(ctx, o.ID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}

	err := j.Ledger.Credit(ctx, o.OwnerID, o.Debited, types.LedgerMutation{Reason: "orphan cleanup"})
	if err == nil || errors.Is(err, store.ErrNotFound) {
		return nil
	}

	if cerr := j.Orphans.ClearCredited(ctx, o.ID); cerr != nil {
		logger.Error("orphan debit was not returned and cannot be retried",
			zap.Any("debited", o.Debited),
			zap.Error(cerr))
		return errors.Join(err, cerr)
	}
	return err
}

func (j *Janitor) recordAttempt(ctx context.Context, logger *zap.Logger, o *types.OrphanedInstance, cause error) {
	logger.Warn("orphan cleanup attempt failed", zap.Int("attempt", o.Attempts+1), zap.Error(cause))
	if err := j.Orphans.RecordAttempt(ctx, o.ID, cause.Error()); err != nil {
		logger.Error("failed to record orphan cleanup attempt", zap.Error(err))
	}
}

// cleanupStuckJobs fails purge jobs stuck in processing
func (j *Janitor) cleanupStuckJobs(ctx context.Context) error {
	count, err := j.PurgeJobs.FailStuck(ctx, j.now().Add(-j.config.StuckJobThreshold))
	if err != nil {
		return err
	}

	if count > 0 {
		j.logger.Warn("marked stuck purge jobs as failed", zap.Int64("count", count))
	}

	return nil
}

// cleanupExpiredKeys removes expired idempotency keys
func (j *Janitor) cleanupExpiredKeys(ctx context.Context) error {
	count, err := j.Idempotency.CleanupExpired(ctx)
	if err != nil {
		return err
	}

	if count > 0 {
		j.logger.Info("cleaned up expired idempotency keys", zap.Int64("count", count))
	}

	return nil
}
