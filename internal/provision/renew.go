package provision

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/tsanders-rh/panelctl/internal/events"
	"github.com/tsanders-rh/panelctl/internal/policy"
	"github.com/tsanders-rh/panelctl/pkg/types"
)

// Renew spends coins to push a server's renewal date back by one period
func (o *Orchestrator) Renew(ctx context.Context, recordID, ownerID string, asAdmin bool) (*types.ServerRecord, error) {
	start := time.Now()

	rec, err := o.renew(ctx, recordID, ownerID, asAdmin)
	recordSagaMetric("renew", err, start)

	event := &types.AuditEvent{
		Actor:          ownerID,
		Action:         types.AuditActionServerRenew,
		TargetServerID: optional(recordID),
		Status:         auditStatus(err),
		Metadata:       types.Metadata{"cost": o.cfg.Renewal.CostCoins},
	}
	if err != nil {
		event.Metadata["error"] = err.Error()
	}
	o.audit(ctx, event)

	return rec, err
}

func (o *Orchestrator) renew(ctx context.Context, recordID, ownerID string, asAdmin bool) (*types.ServerRecord, error) {
	if !o.cfg.Renewal.Enabled {
		return nil, policy.Invalid("renewal", "server renewal is disabled")
	}

	unlock := o.locks.Lock(recordID)
	defer unlock()

	rec, err := o.loadRecord(ctx, recordID, ownerID, asAdmin)
	if err != nil {
		return nil, err
	}

	cost := types.Resources{Coins: o.cfg.Renewal.CostCoins}
	m := types.LedgerMutation{Reason: "server renew", ServerID: &rec.ID}
	if !cost.IsZero() {
		if err := o.Ledger.TryDebit(ctx, rec.OwnerID, cost, m); err != nil {
			return nil, ledgerErr(err, rec.OwnerID)
		}
	}

	base := rec.RenewAt
	if now := o.now(); base.Before(now) {
		base = now
	}
	renewAt := base.Add(o.cfg.Renewal.Period())

	if err := o.Servers.UpdateRenewAt(ctx, rec.ID, renewAt); err != nil {
		cause := fmt.Errorf("update renewal date: %w", err)
		if cost.IsZero() {
			return nil, cause
		}
		return nil, o.compensate(ctx, "renew", cause, func(ctx context.Context) error {
			return o.Ledger.Credit(ctx, rec.OwnerID, cost, types.LedgerMutation{Reason: "server renew reverted", ServerID: &rec.ID})
		}, rec.OwnerID, rec.ID, cost)
	}

	rec.RenewAt = renewAt
	rec.UpdatedAt = o.now()

	o.logger.Info("server renewed",
		zap.String("server_id", rec.ID),
		zap.Time("renew_at", renewAt))

	o.publish(ctx, events.Event{
		Type:     events.ServerRenewed,
		ServerID: rec.ID,
		RemoteID: rec.ServerID,
		OwnerID:  rec.OwnerID,
		Data:     map[string]any{"renew_at": renewAt},
	})

	return rec, nil
}
