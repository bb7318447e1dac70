package reconcile

import (
	"context"

	"cratetrail/internal/authz"
	"cratetrail/internal/fastpath"
	"cratetrail/internal/ledger"
	"cratetrail/internal/logging"
)

// Scan classifies one presence scan and records it. Every attempt is
// appended to the scan log; only the first observation of a code counts
// toward completeness.
func (e *Engine) Scan(ctx context.Context, req ScanRequest) (*ScanResult, error) {
	const op = "reconcile.scan"
	code := ledger.NormalizeCode(req.Code)
	if code == "" {
		return nil, ledger.Validation(op, "crate code is required")
	}
	if err := e.authz.Authorize(ctx, req.Actor, authz.OpScan); err != nil {
		return nil, err
	}

	var res ScanResult
	err := e.store.WithTx(ctx, func(tx *ledger.Tx) error {
		res = ScanResult{}
		batch, err := tx.LockBatch(ctx, req.BatchID)
		if err != nil {
			return err
		}
		if !batch.Status.ScanEligible() {
			return ledger.InvalidState(op, "batch %s is %s and cannot be reconciled", batch.Code, batch.Status)
		}
		res.Batch = batch

		prior, err := tx.GetObservation(ctx, batch.ID, code)
		switch {
		case err == nil:
			if err := duplicateOf(ctx, tx, &res, prior); err != nil {
				return err
			}
		case ledger.IsKind(err, ledger.KindNotFound):
			if err := e.classify(ctx, tx, batch, code, &res); err != nil {
				return err
			}
			obs := &ledger.Observation{
				BatchID:        batch.ID,
				Code:           code,
				Outcome:        res.Outcome,
				ActualBatchID:  res.ActualBatchID,
				Location:       req.Location,
				ObservedByID:   req.Actor.ID,
				ObservedByName: req.Actor.Label(),
			}
			if res.Crate != nil {
				id := res.Crate.ID
				obs.CrateID = &id
			}
			if res.Outcome == ledger.OutcomeMatched {
				obs.DeclaredWeight.Decimal = res.Crate.Weight
				obs.DeclaredWeight.Valid = true
			}
			inserted, err := tx.InsertObservation(ctx, obs)
			if err != nil {
				return err
			}
			if !inserted {
				stored, err := tx.GetObservation(ctx, batch.ID, code)
				if err != nil {
					return err
				}
				if err := duplicateOf(ctx, tx, &res, stored); err != nil {
					return err
				}
			} else {
				res.Observation = obs
			}
		default:
			return err
		}

		if err := tx.AppendScanEvent(ctx, &ledger.ScanEvent{
			BatchID:    batch.ID,
			Code:       code,
			Outcome:    res.Outcome,
			ActorID:    req.Actor.ID,
			ActorName:  req.Actor.Label(),
			Location:   req.Location,
			DeviceInfo: req.DeviceInfo,
			Notes:      req.Notes,
		}); err != nil {
			return err
		}

		res.Completeness, err = completenessTx(ctx, tx, batch.ID)
		if err != nil {
			return err
		}
		if res.Outcome == ledger.OutcomeMatched && res.Completeness.IsComplete &&
			e.policy.AutoReconcile && batch.Status.AutoReconcileSource() {
			advanced, err := tx.ApplyTransition(ctx, batch, ledger.StatusReconciled, req.Actor)
			if err != nil {
				return err
			}
			res.Batch = advanced
			res.Advanced = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if res.Outcome == ledger.OutcomeMatched && res.Observation != nil {
		e.cache.RecordReconciled(ctx, req.BatchID, code, fastpath.Marker{
			CrateID: res.Crate.ID.String(),
			At:      res.Observation.ObservedAt,
			By:      req.Actor.Label(),
		})
	}

	logger := e.batchLogger(ctx, res.Batch, req.Actor)
	attrs := []logging.Attr{
		logging.String(logging.FieldCrateCode, code),
		logging.String(logging.FieldOutcome, string(res.Outcome)),
		logging.Int("reconciled_count", res.Completeness.ReconciledCount),
		logging.Int("total_crates", res.Completeness.TotalCrates),
	}
	switch res.Outcome {
	case ledger.OutcomeWrongBatch, ledger.OutcomeNotFound:
		logging.WarnWithContext(logger, "scan did not match batch", "scan_mismatch",
			append(attrs,
				logging.String("actual_batch_code", res.ActualBatchCode),
				logging.String(logging.FieldErrorHint, "set the crate aside and check its label"),
				logging.String(logging.FieldImpact, "crate not counted toward this batch"),
			)...)
	default:
		logger.Info("scan recorded", logging.Args(attrs...)...)
	}
	if res.Advanced {
		logger.Info("batch reconciled by scan", logging.String(logging.FieldStatus, string(res.Batch.Status)))
	}
	return &res, nil
}

// duplicateOf reports a repeat scan together with what the first one found.
func duplicateOf(ctx context.Context, tx *ledger.Tx, res *ScanResult, prior *ledger.Observation) error {
	res.Outcome = ledger.OutcomeDuplicate
	res.Prior = prior.Outcome
	res.Observation = prior
	res.ActualBatchID = prior.ActualBatchID
	if prior.CrateID != nil {
		crate, err := tx.GetCrate(ctx, *prior.CrateID)
		if err != nil {
			return err
		}
		res.Crate = crate
	}
	if prior.ActualBatchID != nil {
		actual, err := tx.GetBatch(ctx, *prior.ActualBatchID)
		if err != nil {
			return err
		}
		res.ActualBatchCode = actual.Code
	}
	return nil
}

// classify resolves code to a crate and decides the outcome of a first
// observation.
func (e *Engine) classify(ctx context.Context, tx *ledger.Tx, batch *ledger.Batch, code string, res *ScanResult) error {
	crate, err := tx.GetCrateByCode(ctx, code)
	if ledger.IsKind(err, ledger.KindNotFound) {
		res.Outcome = ledger.OutcomeNotFound
		return nil
	}
	if err != nil {
		return err
	}
	res.Crate = crate
	if crate.InBatch(batch.ID) {
		res.Outcome = ledger.OutcomeMatched
		return nil
	}
	res.Outcome = ledger.OutcomeWrongBatch
	if crate.BatchID != nil {
		actual, err := tx.GetBatch(ctx, *crate.BatchID)
		if err != nil {
			return err
		}
		id := actual.ID
		res.ActualBatchID = &id
		res.ActualBatchCode = actual.Code
	}
	return nil
}
