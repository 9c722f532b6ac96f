// Package provision runs the server lifecycle sagas. Each saga keeps the
// local ledger consistent with the panel through compensating ledger changes,
// since the two systems share no transaction.
package provision

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/tsanders-rh/panelctl/internal/events"
	"github.com/tsanders-rh/panelctl/internal/keylock"
	"github.com/tsanders-rh/panelctl/internal/panel"
	"github.com/tsanders-rh/panelctl/internal/policy"
	"github.com/tsanders-rh/panelctl/internal/store"
	"github.com/tsanders-rh/panelctl/pkg/types"
)

// Panel is the part of the panel client the sagas use
type Panel interface {
	CreateServer(ctx context.Context, req panel.CreateServerRequest) (*panel.RemoteServer, error)
	GetServer(ctx context.Context, id int) (*panel.RemoteServer, error)
	GetServerByExternalID(ctx context.Context, externalID string) (*panel.RemoteServer, error)
	UpdateBuild(ctx context.Context, id int, req panel.BuildRequest) (*panel.RemoteServer, error)
	UpdateDetails(ctx context.Context, id int, req panel.DetailsRequest) (*panel.RemoteServer, error)
	DeleteServer(ctx context.Context, id int) error
	FindUnassignedAllocation(ctx context.Context, nodeID int) (int, error)
	ResolveEgg(ctx context.Context, eggID int) (*panel.Egg, error)
}

// Ledger is the resource ledger
type Ledger interface {
	TryDebit(ctx context.Context, userID string, delta types.Resources, m types.LedgerMutation) error
	Credit(ctx context.Context, userID string, delta types.Resources, m types.LedgerMutation) error
	Adjust(ctx context.Context, userID string, delta types.Resources, m types.LedgerMutation) error
}

// ServerStore persists server records
type ServerStore interface {
	Create(ctx context.Context, r *types.ServerRecord) error
	GetByID(ctx context.Context, id string) (*types.ServerRecord, error)
	Delete(ctx context.Context, id string) error
	UpdateRenewAt(ctx context.Context, id string, renewAt time.Time) error
}

// UserStore looks up server owners
type UserStore interface {
	GetByID(ctx context.Context, id string) (*types.User, error)
}

// OrphanStore registers remote servers that have no record
type OrphanStore interface {
	Create(ctx context.Context, o *types.OrphanedInstance) error
}

// AuditLogger records audit events
type AuditLogger interface {
	Log(ctx context.Context, event *types.AuditEvent) error
}

// Config holds saga configuration
type Config struct {
	// Limits applied to every new server that requests do not set
	Swap    int64 `yaml:"swap" validate:"min=-1"`
	IO      int64 `yaml:"io" validate:"min=10,max=1000"`
	Backups int64 `yaml:"backups" validate:"min=0"`

	Renewal RenewalConfig `yaml:"renewal"`
}

// RenewalConfig controls paid renewal of servers
type RenewalConfig struct {
	Enabled    bool  `yaml:"enabled"`
	CostCoins  int64 `yaml:"costCoins" validate:"min=0"`
	PeriodDays int   `yaml:"periodDays" validate:"min=1"`
	GraceDays  int   `yaml:"graceDays" validate:"min=0"`
}

// Period is how long one renewal extends a server
func (c RenewalConfig) Period() time.Duration {
	return time.Duration(c.PeriodDays) * 24 * time.Hour
}

// Grace is how long an unrenewed server survives past its renewal date
func (c RenewalConfig) Grace() time.Duration {
	return time.Duration(c.GraceDays) * 24 * time.Hour
}

// DefaultConfig returns default saga configuration
func DefaultConfig() Config {
	return Config{
		Swap:    0,
		IO:      500,
		Backups: 0,
		Renewal: RenewalConfig{
			Enabled:    false,
			CostCoins:  100,
			PeriodDays: 7,
			GraceDays:  3,
		},
	}
}

// Deps are the collaborators of an Orchestrator
type Deps struct {
	Panel   Panel
	Ledger  Ledger
	Servers ServerStore
	Users   UserStore
	Orphans OrphanStore
	Audit   AuditLogger
	Events  events.Publisher
	Policy  *policy.Engine
}

// Orchestrator runs the create, resize, delete and renew sagas
type Orchestrator struct {
	Deps

	cfg    Config
	locks  *keylock.Map
	logger *zap.Logger
	now    func() time.Time
}

// New creates a new Orchestrator
func New(deps Deps, cfg Config, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Events == nil {
		deps.Events = events.Nop{}
	}
	if deps.Policy == nil {
		deps.Policy = policy.NewEngine(policy.Config{})
	}

	return &Orchestrator{
		Deps:   deps,
		cfg:    cfg,
		locks:  keylock.New(),
		logger: logger.Named("provision"),
		now:    time.Now,
	}
}

// Get returns a server record and a fresh view of its remote server
func (o *Orchestrator) Get(ctx context.Context, recordID, ownerID string, asAdmin bool) (*types.ServerRecord, *panel.RemoteServer, error) {
	rec, err := o.loadRecord(ctx, recordID, ownerID, asAdmin)
	if err != nil {
		return nil, nil, err
	}

	remote, err := o.Panel.GetServer(ctx, rec.ServerID)
	if err != nil {
		if panel.IsNotFound(err) {
			return rec, nil, nil
		}
		return nil, nil, err
	}

	return rec, remote, nil
}

// loadRecord fetches a record and hides records the caller does not own
func (o *Orchestrator) loadRecord(ctx context.Context, recordID, ownerID string, asAdmin bool) (*types.ServerRecord, error) {
	rec, err := o.Servers.GetByID(ctx, recordID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &NotFoundError{Kind: "server", ID: recordID}
	}
	if err != nil {
		return nil, err
	}

	if !asAdmin && rec.OwnerID != ownerID {
		return nil, &NotFoundError{Kind: "server", ID: recordID}
	}

	return rec, nil
}

// ledgerErr maps a missing ledger to a NotFoundError
func ledgerErr(err error, userID string) error {
	if errors.Is(err, store.ErrNotFound) {
		return &NotFoundError{Kind: "ledger", ID: userID}
	}
	return err
}

// compensate applies a compensating ledger change. A failure is escalated:
// logged, counted and audited, then joined to cause.
func (o *Orchestrator) compensate(ctx context.Context, saga string, cause error, apply func(context.Context) error, userID, serverID string, delta types.Resources) error {
	// The caller may have gone away; the ledger still has to be repaired
	ctx = context.WithoutCancel(ctx)

	if err := apply(ctx); err != nil {
		recordCompensationMetric(saga, false)
		o.logger.Error("ledger compensation failed",
			zap.String("saga", saga),
			zap.String("user_id", userID),
			zap.String("server_id", serverID),
			zap.Any("delta", delta),
			zap.NamedError("cause", cause),
			zap.Error(err))

		ce := &CompensationError{Saga: saga, UserID: userID, Delta: delta, Cause: err}
		o.audit(ctx, &types.AuditEvent{
			Actor:          "system",
			Action:         types.AuditActionCompensation,
			TargetServerID: optional(serverID),
			Status:         types.AuditEventStatusFailure,
			Metadata: types.Metadata{
				"saga":  saga,
				"user":  userID,
				"delta": delta,
				"error": err.Error(),
			},
		})
		return errors.Join(cause, ce)
	}

	recordCompensationMetric(saga, true)
	o.logger.Info("ledger compensated",
		zap.String("saga", saga),
		zap.String("user_id", userID),
		zap.String("server_id", serverID),
		zap.Any("delta", delta))

	return cause
}

// audit records an audit event; failures are only logged
func (o *Orchestrator) audit(ctx context.Context, event *types.AuditEvent) {
	if o.Audit == nil {
		return
	}

	if event.ID == "" {
		event.ID = types.GenerateAuditID()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = o.now()
	}

	if err := o.Audit.Log(context.WithoutCancel(ctx), event); err != nil {
		o.logger.Warn("failed to write audit event",
			zap.String("action", event.Action),
			zap.Error(err))
	}
}

// publish sends a lifecycle event; failures are only logged
func (o *Orchestrator) publish(ctx context.Context, e events.Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = o.now().UTC()
	}

	if err := o.Events.Publish(ctx, e); err != nil {
		o.logger.Warn("failed to publish event",
			zap.String("type", e.Type),
			zap.Error(err))
	}
}

func auditStatus(err error) types.AuditEventStatus {
	if err == nil {
		return types.AuditEventStatusSuccess
	}
	return types.AuditEventStatusFailure
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// limitsOf returns the ledger-relevant limits of a remote server
func limitsOf(s *panel.RemoteServer) types.Resources {
	return types.Resources{
		RAM:         s.Limits.Memory,
		Disk:        s.Limits.Disk,
		CPU:         s.Limits.CPU,
		Allocations: s.FeatureLimits.Allocations,
		Databases:   s.FeatureLimits.Databases,
	}
}
