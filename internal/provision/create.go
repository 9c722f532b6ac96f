package provision

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/tsanders-rh/panelctl/internal/events"
	"github.com/tsanders-rh/panelctl/internal/panel"
	"github.com/tsanders-rh/panelctl/internal/store"
	"github.com/tsanders-rh/panelctl/pkg/types"
)

// Create provisions a server for req.OwnerID.
//
// On success exactly one remote server exists, one record references it and
// the owner's ledger was debited once. On InsufficientResourcesError or
// ProvisioningFailedError the ledger is unchanged and no record exists.
// OrphanedInstanceError means the remote server exists without a record; the
// ledger stays debited until the janitor removes it.
func (o *Orchestrator) Create(ctx context.Context, req *types.CreateServerRequest) (*types.ServerRecord, error) {
	start := time.Now()

	rec, err := o.create(ctx, req)
	recordSagaMetric("create", err, start)

	event := &types.AuditEvent{
		Actor:    req.OwnerID,
		Action:   types.AuditActionServerCreate,
		Status:   auditStatus(err),
		Metadata: types.Metadata{"name": req.Name, "node_id": req.NodeID, "egg_id": req.EggID},
	}
	if rec != nil {
		event.TargetServerID = &rec.ID
	}
	if err != nil {
		event.Metadata["error"] = err.Error()
	}
	o.audit(ctx, event)

	return rec, err
}

func (o *Orchestrator) create(ctx context.Context, req *types.CreateServerRequest) (*types.ServerRecord, error) {
	if err := o.Policy.ValidateCreate(req).Err(); err != nil {
		return nil, err
	}

	owner, err := o.Users.GetByID(ctx, req.OwnerID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &NotFoundError{Kind: "user", ID: req.OwnerID}
	}
	if err != nil {
		return nil, err
	}

	recordID := types.GenerateServerID()
	logger := o.logger.With(zap.String("server_id", recordID), zap.String("user_id", owner.ID))

	debit := req.Resources()
	if req.SkipResourceCheck {
		debit = types.Resources{}
	}

	if !debit.IsZero() {
		err := o.Ledger.TryDebit(ctx, owner.ID, debit, types.LedgerMutation{Reason: "server create", ServerID: &recordID})
		if err != nil {
			return nil, ledgerErr(err, owner.ID)
		}
	}

	// Undo the debit and fail. Every exit below that leaves no remote server
	// must go through here.
	fail := func(cause error) error {
		failed := &ProvisioningFailedError{Cause: cause}
		if debit.IsZero() {
			return failed
		}
		return o.compensate(ctx, "create", failed, func(ctx context.Context) error {
			return o.Ledger.Credit(ctx, owner.ID, debit, types.LedgerMutation{Reason: "server create reverted", ServerID: &recordID})
		}, owner.ID, recordID, debit)
	}

	egg, err := o.Panel.ResolveEgg(ctx, req.EggID)
	if err != nil {
		logger.Warn("failed to resolve egg", zap.Int("egg_id", req.EggID), zap.Error(err))
		return nil, fail(err)
	}

	allocationID, err := o.Panel.FindUnassignedAllocation(ctx, req.NodeID)
	if err != nil {
		logger.Warn("failed to find allocation", zap.Int("node_id", req.NodeID), zap.Error(err))
		return nil, fail(err)
	}

	remote, err := o.Panel.CreateServer(ctx, panel.CreateServerRequest{
		ExternalID:  recordID,
		Name:        req.Name,
		Description: req.Description,
		User:        owner.PanelUserID,
		Egg:         egg.ID,
		DockerImage: egg.DockerImage,
		Startup:     egg.Startup,
		Environment: egg.Environment(),
		Limits: panel.Limits{
			Memory: req.RAM,
			Swap:   o.cfg.Swap,
			Disk:   req.Disk,
			IO:     o.cfg.IO,
			CPU:    req.CPU,
		},
		FeatureLimits: panel.FeatureLimits{
			Databases:   req.Databases,
			Allocations: req.Allocations,
			Backups:     o.cfg.Backups,
		},
		Allocation: panel.AllocationSelector{Default: allocationID},
	})
	if err != nil {
		remote = o.resolveAmbiguousCreate(ctx, logger, owner.ID, recordID, err)
		if remote == nil {
			return nil, fail(err)
		}
	}

	now := o.now()
	rec := &types.ServerRecord{
		ID:           recordID,
		OwnerID:      owner.ID,
		PanelUserID:  owner.PanelUserID,
		ServerID:     remote.ID,
		AllocationID: allocationID,
		NodeID:       req.NodeID,
		EggID:        req.EggID,
		RenewAt:      now.Add(o.cfg.Renewal.Period()),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := o.Servers.Create(context.WithoutCancel(ctx), rec); err != nil {
		return nil, o.orphaned(ctx, logger, owner.ID, recordID, remote.ID, debit, err)
	}

	logger.Info("server created",
		zap.Int("remote_id", remote.ID),
		zap.Int("allocation_id", allocationID))

	o.publish(ctx, events.Event{
		Type:     events.ServerCreated,
		ServerID: rec.ID,
		RemoteID: rec.ServerID,
		OwnerID:  rec.OwnerID,
	})

	return rec, nil
}

// resolveAmbiguousCreate looks the server up by external ID when a create
// failed in a way that leaves its outcome unknown. It returns nil when the
// server does not exist or cannot be found; in the latter case the external
// ID is registered as an orphan so the janitor removes the server if it
// turns up.
func (o *Orchestrator) resolveAmbiguousCreate(ctx context.Context, logger *zap.Logger, ownerID, recordID string, createErr error) *panel.RemoteServer {
	if !panel.IsTransient(createErr) {
		logger.Warn("panel rejected server create", zap.Error(createErr))
		return nil
	}

	remote, err := o.Panel.GetServerByExternalID(context.WithoutCancel(ctx), recordID)
	if err == nil {
		logger.Warn("server create reported failure but server exists",
			zap.Int("remote_id", remote.ID),
			zap.NamedError("create_error", createErr))
		return remote
	}

	if panel.IsNotFound(err) {
		logger.Warn("server create failed", zap.Error(createErr))
		return nil
	}

	logger.Error("server create outcome unknown",
		zap.NamedError("create_error", createErr),
		zap.NamedError("lookup_error", err))

	// The debit is reverted by the caller, so nothing is owed back
	externalID := recordID
	if rerr := o.registerOrphan(ctx, logger, &types.OrphanedInstance{
		ID:         types.GenerateOrphanID(),
		ExternalID: &externalID,
		OwnerID:    ownerID,
		Reason:     "create outcome unknown: " + createErr.Error(),
		CreatedAt:  o.now(),
	}); rerr != nil {
		logger.Error("failed to register server with unknown create outcome", zap.Error(rerr))
	}
	return nil
}

// orphaned registers a remote server whose record could not be saved
func (o *Orchestrator) orphaned(ctx context.Context, logger *zap.Logger, ownerID, recordID string, remoteID int, debit types.Resources, cause error) error {
	orphansTotal.Inc()
	logger.Error("remote server created but record not saved",
		zap.Int("remote_id", remoteID),
		zap.Error(cause))

	err := &OrphanedInstanceError{RemoteID: remoteID, Cause: cause}

	externalID := recordID
	rerr := o.registerOrphan(ctx, logger, &types.OrphanedInstance{
		ID:         types.GenerateOrphanID(),
		ServerID:   remoteID,
		ExternalID: &externalID,
		OwnerID:    ownerID,
		Debited:    debit,
		Reason:     cause.Error(),
		CreatedAt:  o.now(),
	})
	if rerr != nil {
		logger.Error("failed to register orphaned server",
			zap.Int("remote_id", remoteID),
			zap.Error(rerr))
		return errors.Join(err, rerr)
	}

	return err
}

func (o *Orchestrator) registerOrphan(ctx context.Context, logger *zap.Logger, orphan *types.OrphanedInstance) error {
	if o.Orphans == nil {
		logger.Warn("no orphan registry, remote server needs manual cleanup")
		return nil
	}
	return o.Orphans.Create(context.WithoutCancel(ctx), orphan)
}
