package provision

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/tsanders-rh/panelctl/internal/events"
	"github.com/tsanders-rh/panelctl/internal/panel"
	"github.com/tsanders-rh/panelctl/pkg/types"
)

// Update resizes and renames a server. Growth is debited and shrinkage
// credited before the panel is patched; if a patch fails the adjustment is
// reversed and UpdateFailedError returned.
func (o *Orchestrator) Update(ctx context.Context, req *types.UpdateServerRequest) (*panel.RemoteServer, error) {
	start := time.Now()

	remote, err := o.update(ctx, req)
	recordSagaMetric("update", err, start)

	event := &types.AuditEvent{
		Actor:          req.OwnerID,
		Action:         types.AuditActionServerUpdate,
		TargetServerID: optional(req.ServerRecordID),
		Status:         auditStatus(err),
		Metadata:       types.Metadata{},
	}
	if err != nil {
		event.Metadata["error"] = err.Error()
	}
	o.audit(ctx, event)

	return remote, err
}

func (o *Orchestrator) update(ctx context.Context, req *types.UpdateServerRequest) (*panel.RemoteServer, error) {
	if err := o.Policy.ValidateUpdate(req).Err(); err != nil {
		return nil, err
	}

	unlock := o.locks.Lock(req.ServerRecordID)
	defer unlock()

	rec, err := o.loadRecord(ctx, req.ServerRecordID, req.OwnerID, req.AsAdmin)
	if err != nil {
		return nil, err
	}

	remote, err := o.Panel.GetServer(ctx, rec.ServerID)
	if err != nil {
		if panel.IsNotFound(err) {
			return nil, &NotFoundError{Kind: "server", ID: rec.ID}
		}
		return nil, &UpdateFailedError{Cause: err}
	}

	current := limitsOf(remote)
	desired := current
	setIf(&desired.RAM, req.RAM)
	setIf(&desired.Disk, req.Disk)
	setIf(&desired.CPU, req.CPU)
	setIf(&desired.Databases, req.Databases)
	setIf(&desired.Allocations, req.Allocations)
	delta := desired.Sub(current)

	details := panel.DetailsFrom(remote)
	if req.Name != nil {
		details.Name = *req.Name
	}
	if req.Description != nil {
		details.Description = *req.Description
	}
	detailsChanged := details.Name != remote.Name || details.Description != remote.Description
	limitsChanged := !delta.IsZero()

	if !detailsChanged && !limitsChanged {
		return remote, nil
	}

	logger := o.logger.With(zap.String("server_id", rec.ID), zap.String("user_id", rec.OwnerID))

	adjusted := false
	if limitsChanged && !req.SkipResourceCheck {
		m := types.LedgerMutation{Reason: "server resize", ServerID: &rec.ID}
		if err := o.Ledger.Adjust(ctx, rec.OwnerID, delta, m); err != nil {
			return nil, ledgerErr(err, rec.OwnerID)
		}
		adjusted = true
	}

	fail := func(cause error) error {
		failed := &UpdateFailedError{Cause: cause}
		if !adjusted {
			return failed
		}
		reverse := delta.Neg()
		return o.compensate(ctx, "update", failed, func(ctx context.Context) error {
			return o.Ledger.Adjust(ctx, rec.OwnerID, reverse, types.LedgerMutation{Reason: "server resize reverted", ServerID: &rec.ID})
		}, rec.OwnerID, rec.ID, reverse)
	}

	// Details go first so that a failed limits patch always leaves the remote
	// limits as they were when the ledger is reversed
	updated := remote
	if detailsChanged {
		updated, err = o.Panel.UpdateDetails(ctx, rec.ServerID, details)
		if err != nil {
			logger.Warn("failed to patch server details", zap.Error(err))
			return nil, fail(err)
		}
	}

	if limitsChanged {
		build := panel.BuildFrom(remote)
		build.Memory = desired.RAM
		build.Disk = desired.Disk
		build.CPU = desired.CPU
		build.FeatureLimits.Databases = desired.Databases
		build.FeatureLimits.Allocations = desired.Allocations

		updated, err = o.Panel.UpdateBuild(ctx, rec.ServerID, build)
		if err != nil {
			logger.Warn("failed to patch server limits", zap.Error(err))
			return nil, fail(err)
		}
	}

	logger.Info("server updated",
		zap.Any("delta", delta),
		zap.Bool("details_changed", detailsChanged))

	o.publish(ctx, events.Event{
		Type:     events.ServerUpdated,
		ServerID: rec.ID,
		RemoteID: rec.ServerID,
		OwnerID:  rec.OwnerID,
		Data:     map[string]any{"delta": delta},
	})

	return updated, nil
}

func setIf(dst *int64, v *int64) {
	if v != nil {
		*dst = *v
	}
}
