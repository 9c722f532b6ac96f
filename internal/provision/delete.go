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

// Delete removes a server. The record is deleted only once the panel
// confirms the server is gone, and the ledger is credited at most once: a
// caller that loses the race to delete the record gets NotFoundError and
// credits nothing.
func (o *Orchestrator) Delete(ctx context.Context, req *types.DeleteServerRequest) error {
	start := time.Now()

	err := o.delete(ctx, req)
	recordSagaMetric("delete", err, start)

	event := &types.AuditEvent{
		Actor:          req.OwnerID,
		Action:         types.AuditActionServerDelete,
		TargetServerID: optional(req.ServerRecordID),
		Status:         auditStatus(err),
		Metadata:       types.Metadata{"reason": req.Reason},
	}
	if err != nil {
		event.Metadata["error"] = err.Error()
	}
	o.audit(ctx, event)

	return err
}

func (o *Orchestrator) delete(ctx context.Context, req *types.DeleteServerRequest) error {
	unlock := o.locks.Lock(req.ServerRecordID)
	defer unlock()

	rec, err := o.loadRecord(ctx, req.ServerRecordID, req.OwnerID, req.AsAdmin)
	if err != nil {
		return err
	}

	logger := o.logger.With(zap.String("server_id", rec.ID), zap.String("user_id", rec.OwnerID))

	// Credit what the panel last reported. A server already gone only
	// returns its slot.
	credit := types.Resources{Slots: 1}
	gone := false

	remote, err := o.Panel.GetServer(ctx, rec.ServerID)
	switch {
	case err == nil:
		credit = credit.Add(limitsOf(remote))
	case panel.IsNotFound(err):
		gone = true
		logger.Info("remote server already gone", zap.Int("remote_id", rec.ServerID))
	default:
		return &DeletionFailedError{Cause: err}
	}

	if !gone {
		if err := o.Panel.DeleteServer(ctx, rec.ServerID); err != nil {
			logger.Warn("failed to delete remote server", zap.Int("remote_id", rec.ServerID), zap.Error(err))
			return &DeletionFailedError{Cause: err}
		}
	}

	// From here the remote server is gone; local cleanup must finish
	ctx = context.WithoutCancel(ctx)

	if err := o.Servers.Delete(ctx, rec.ID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return &NotFoundError{Kind: "server", ID: rec.ID}
		}
		logger.Error("remote server deleted but record not removed", zap.Error(err))
		return &DeletionFailedError{Cause: err}
	}

	reason := req.Reason
	if reason == "" {
		reason = "server delete"
	}
	if err := o.Ledger.Credit(ctx, rec.OwnerID, credit, types.LedgerMutation{Reason: reason, ServerID: &rec.ID}); err != nil {
		o.diverged(ctx, logger, rec, credit, err)
	}

	logger.Info("server deleted", zap.Int("remote_id", rec.ServerID), zap.Any("credit", credit))

	o.publish(ctx, events.Event{
		Type:     events.ServerDeleted,
		ServerID: rec.ID,
		RemoteID: rec.ServerID,
		OwnerID:  rec.OwnerID,
		Data:     map[string]any{"credit": credit},
	})

	return nil
}

// diverged reports a credit that could not be applied after a confirmed
// remote delete
func (o *Orchestrator) diverged(ctx context.Context, logger *zap.Logger, rec *types.ServerRecord, credit types.Resources, err error) {
	ledgerDivergenceTotal.WithLabelValues("delete").Inc()
	logger.Error("ledger credit failed after server deletion",
		zap.Any("credit", credit),
		zap.Error(err))

	o.audit(ctx, &types.AuditEvent{
		Actor:          "system",
		Action:         types.AuditActionDivergence,
		TargetServerID: &rec.ID,
		Status:         types.AuditEventStatusFailure,
		Metadata: types.Metadata{
			"user":   rec.OwnerID,
			"credit": credit,
			"error":  err.Error(),
		},
	})
}
