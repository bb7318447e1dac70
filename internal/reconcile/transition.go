package reconcile

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"cratetrail/internal/authz"
	"cratetrail/internal/ledger"
	"cratetrail/internal/logging"
)

// Transition moves a batch to target. Illegal targets fail with
// KindInvalidTransition and leave the batch untouched.
func (e *Engine) Transition(ctx context.Context, batchID uuid.UUID, target ledger.Status, actor ledger.Actor) (*ledger.Batch, error) {
	const op = "reconcile.transition"
	target, err := ledger.ParseStatus(string(target))
	if err != nil {
		return nil, ledger.Validation(op, "%v", err)
	}
	if err := e.authz.Authorize(ctx, actor, authz.TransitionOp(target)); err != nil {
		return nil, err
	}

	var (
		batch    *ledger.Batch
		previous ledger.Status
	)
	err = e.store.WithTx(ctx, func(tx *ledger.Tx) error {
		locked, err := tx.LockBatch(ctx, batchID)
		if err != nil {
			return err
		}
		previous = locked.Status
		if !ledger.CanTransition(locked.Status, target) {
			return ledger.InvalidTransition(op, locked.Status, target)
		}
		if err := e.checkGate(ctx, tx, locked, target); err != nil {
			return err
		}
		batch, err = tx.ApplyTransition(ctx, locked, target, actor)
		return err
	})
	if err != nil {
		return nil, err
	}

	if target == ledger.StatusClosed && batch.ClosedAt != nil {
		e.cache.CloseBatch(ctx, batch.ID, *batch.ClosedAt, batch.ClosedBy)
	}
	e.batchLogger(ctx, batch, actor).Info("batch transitioned",
		logging.String("from", string(previous)),
		logging.String(logging.FieldStatus, string(batch.Status)),
	)
	return batch, nil
}

// MarkReconciled completes a batch manually. The completeness gate still
// applies.
func (e *Engine) MarkReconciled(ctx context.Context, batchID uuid.UUID, actor ledger.Actor) (*ledger.Batch, error) {
	return e.Transition(ctx, batchID, ledger.StatusReconciled, actor)
}

func (e *Engine) checkGate(ctx context.Context, tx *ledger.Tx, batch *ledger.Batch, target ledger.Status) error {
	const op = "reconcile.transition"
	switch target {
	case ledger.StatusInTransit:
		if !e.policy.RequireTransportOnDispatch {
			return nil
		}
		var missing []string
		if strings.TrimSpace(batch.Transport.Mode) == "" {
			missing = append(missing, "transport mode")
		}
		if strings.TrimSpace(batch.DestinationID) == "" {
			missing = append(missing, "destination")
		}
		if len(missing) > 0 {
			return ledger.Validation(op, "batch %s cannot be dispatched without %s", batch.Code, strings.Join(missing, " and "))
		}
	case ledger.StatusDelivered, ledger.StatusReconciled:
		if target == ledger.StatusDelivered && !e.policy.RequireCompleteForDelivery {
			return nil
		}
		report, err := completenessTx(ctx, tx, batch.ID)
		if err != nil {
			return err
		}
		if !report.IsComplete {
			return ledger.CompletenessRequired(op, target, report.ReconciledCount, report.TotalCrates)
		}
	}
	return nil
}
