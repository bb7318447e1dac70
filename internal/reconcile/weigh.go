package reconcile

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"cratetrail/internal/authz"
	"cratetrail/internal/fastpath"
	"cratetrail/internal/ledger"
	"cratetrail/internal/logging"
	"cratetrail/internal/stats"
)

// Weigh records a re-measured weight for a crate in the batch and returns
// the batch's updated weight statistics. Resubmitting a code overwrites the
// previous weigh-in.
func (e *Engine) Weigh(ctx context.Context, req WeighRequest) (*ReconciliationStats, error) {
	const op = "reconcile.weigh"
	code := ledger.NormalizeCode(req.Code)
	if code == "" {
		return nil, ledger.Validation(op, "crate code is required")
	}
	if !req.Weight.IsPositive() {
		return nil, ledger.Validation(op, "observed weight must be positive, got %s", req.Weight)
	}
	if err := e.authz.Authorize(ctx, req.Actor, authz.OpWeigh); err != nil {
		return nil, err
	}

	var (
		result       *ReconciliationStats
		batch        *ledger.Batch
		crate        *ledger.Crate
		newlyMatched bool
	)
	err := e.store.WithTx(ctx, func(tx *ledger.Tx) error {
		var err error
		batch, err = tx.LockBatch(ctx, req.BatchID)
		if err != nil {
			return err
		}
		if !batch.Status.WeighEligible() {
			return ledger.InvalidState(op, "batch %s is %s; weigh-ins require arrived or delivered", batch.Code, batch.Status)
		}
		crate, err = tx.GetCrateByCode(ctx, code)
		if err != nil {
			return err
		}
		if !crate.InBatch(batch.ID) {
			return ledger.Conflict(op, "crate %s is not in batch %s", crate.Code, batch.Code)
		}

		declared := crate.Weight
		existing, err := tx.GetObservation(ctx, batch.ID, code)
		switch {
		case err == nil:
			if existing.DeclaredWeight.Valid {
				declared = existing.DeclaredWeight.Decimal
			}
			newlyMatched = existing.Outcome != ledger.OutcomeMatched
		case ledger.IsKind(err, ledger.KindNotFound):
			newlyMatched = true
		default:
			return err
		}

		crateID := crate.ID
		written, err := tx.UpsertWeighedObservation(ctx, &ledger.Observation{
			BatchID:        batch.ID,
			Code:           code,
			CrateID:        &crateID,
			Outcome:        ledger.OutcomeMatched,
			DeclaredWeight: decimal.NewNullDecimal(declared),
			ObservedWeight: decimal.NewNullDecimal(req.Weight),
			Differential:   decimal.NewNullDecimal(req.Weight.Sub(declared)),
			PhotoRef:       req.PhotoRef,
			Location:       req.Location,
			ObservedByID:   req.Actor.ID,
			ObservedByName: req.Actor.Label(),
		})
		if err != nil {
			return err
		}
		result, err = weightStats(ctx, tx, batch)
		if err != nil {
			return err
		}
		result.Observation = written
		return nil
	})
	if err != nil {
		return nil, err
	}

	if newlyMatched {
		e.cache.RecordReconciled(ctx, batch.ID, code, fastpath.Marker{
			CrateID: crate.ID.String(),
			At:      result.Observation.ObservedAt,
			By:      req.Actor.Label(),
		})
	}
	e.batchLogger(ctx, batch, req.Actor).Info("weigh-in recorded",
		logging.String(logging.FieldCrateCode, code),
		logging.String("observed_weight", req.Weight.String()),
		logging.String("differential", result.Observation.Differential.Decimal.String()),
		logging.String("loss_percentage", result.LossPercentage.String()),
	)
	return result, nil
}

// WeightStats aggregates the batch's weigh-ins.
func (e *Engine) WeightStats(ctx context.Context, batchID uuid.UUID) (*ReconciliationStats, error) {
	batch, err := e.store.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	return weightStats(ctx, e.store, batch)
}

type observationLister interface {
	ListObservations(ctx context.Context, batchID uuid.UUID, outcomes ...ledger.Outcome) ([]*ledger.Observation, error)
}

func weightStats(ctx context.Context, src observationLister, batch *ledger.Batch) (*ReconciliationStats, error) {
	observations, err := src.ListObservations(ctx, batch.ID, ledger.OutcomeMatched)
	if err != nil {
		return nil, err
	}
	var (
		lines  []stats.WeightLine
		crates []CrateWeight
	)
	for _, obs := range observations {
		if !obs.Weighed() {
			continue
		}
		declared := obs.DeclaredWeight.Decimal
		differential := obs.ObservedWeight.Decimal.Sub(declared)
		if obs.Differential.Valid {
			differential = obs.Differential.Decimal
		}
		lines = append(lines, stats.WeightLine{
			Code:         obs.Code,
			Declared:     declared,
			Observed:     obs.ObservedWeight.Decimal,
			Differential: differential,
		})
		crates = append(crates, CrateWeight{
			Code:         obs.Code,
			CrateID:      obs.CrateID,
			Declared:     declared,
			Observed:     obs.ObservedWeight.Decimal,
			Differential: differential,
			ObservedBy:   obs.ObservedByName,
			ObservedAt:   obs.UpdatedAt,
		})
	}
	totals := stats.SumWeights(lines)
	if crates == nil {
		crates = []CrateWeight{}
	}
	return &ReconciliationStats{
		BatchID:           batch.ID,
		BatchCode:         batch.Code,
		WeighedCount:      totals.Count,
		TotalDeclared:     totals.TotalDeclared,
		TotalObserved:     totals.TotalObserved,
		TotalDifferential: totals.TotalDifferential,
		LossPercentage:    totals.LossPercentage,
		Crates:            crates,
	}, nil
}
