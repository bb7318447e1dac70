package reconcile

import (
	"context"
	"time"

	"github.com/google/uuid"

	"cratetrail/internal/directory"
	"cratetrail/internal/ledger"
	"cratetrail/internal/logging"
	"cratetrail/internal/stats"
)

const (
	defaultScanLogLimit = 50
	maxScanLogLimit     = 500
	defaultStatsDays    = 7
)

// Completeness reports reconciliation progress. The fast-path cache answers
// when it can; any cache failure falls back to the ledger, whose errors are
// returned.
func (e *Engine) Completeness(ctx context.Context, batchID uuid.UUID) (CompletenessReport, error) {
	if e.cache != nil {
		entry, err := e.cache.Status(ctx, batchID)
		if err == nil {
			return newCompleteness(batchID, entry.TotalCrates, entry.ReconciledCount, SourceCache), nil
		}
		if ledger.IsKind(err, ledger.KindNotFound) {
			return CompletenessReport{}, err
		}
		e.logger.Debug("fastpath status unavailable; recomputing",
			logging.String(logging.FieldBatchID, batchID.String()),
			logging.Error(err),
		)
	}
	return e.LedgerCompleteness(ctx, batchID)
}

// LedgerCompleteness recomputes progress from the ledger alone.
func (e *Engine) LedgerCompleteness(ctx context.Context, batchID uuid.UUID) (CompletenessReport, error) {
	if _, err := e.store.GetBatch(ctx, batchID); err != nil {
		return CompletenessReport{}, err
	}
	total, err := e.store.CountBatchCrates(ctx, batchID)
	if err != nil {
		return CompletenessReport{}, err
	}
	matched, err := e.store.CountMatched(ctx, batchID)
	if err != nil {
		return CompletenessReport{}, err
	}
	return newCompleteness(batchID, total, matched, SourceLedger), nil
}

// Summary lists which expected crates were matched or are missing and
// which foreign codes turned up.
func (e *Engine) Summary(ctx context.Context, batchID uuid.UUID) (*BatchSummary, error) {
	batch, err := e.store.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	crates, err := e.store.ListBatchCrates(ctx, batchID)
	if err != nil {
		return nil, err
	}
	observations, err := e.store.ListObservations(ctx, batchID)
	if err != nil {
		return nil, err
	}
	id := batchID
	counts, err := e.store.ScanOutcomeCounts(ctx, ledger.ScanFilter{BatchID: &id})
	if err != nil {
		return nil, err
	}

	matched := make(map[string]struct{})
	summary := &BatchSummary{
		Batch:         batch,
		BatchCode:     batch.Code,
		Status:        batch.Status,
		TotalCrates:   len(crates),
		TotalWeight:   batch.TotalWeight,
		Matched:       []string{},
		Missing:       []string{},
		WrongBatch:    []WrongBatchScan{},
		NotFound:      []string{},
		OutcomeCounts: counts,
	}
	inBatch := make(map[uuid.UUID]struct{}, len(crates))
	for _, crate := range crates {
		inBatch[crate.ID] = struct{}{}
	}

	batchCodes := map[uuid.UUID]string{}
	for _, obs := range observations {
		switch obs.Outcome {
		case ledger.OutcomeMatched:
			if obs.CrateID == nil {
				continue
			}
			if _, ok := inBatch[*obs.CrateID]; ok {
				matched[obs.Code] = struct{}{}
				summary.Matched = append(summary.Matched, obs.Code)
			}
		case ledger.OutcomeNotFound:
			summary.NotFound = append(summary.NotFound, obs.Code)
		case ledger.OutcomeWrongBatch:
			scan := WrongBatchScan{Code: obs.Code, ActualBatchID: obs.ActualBatchID, ObservedAt: obs.ObservedAt}
			if obs.ActualBatchID != nil {
				code, ok := batchCodes[*obs.ActualBatchID]
				if !ok {
					other, err := e.store.GetBatch(ctx, *obs.ActualBatchID)
					if err != nil {
						return nil, err
					}
					code = other.Code
					batchCodes[*obs.ActualBatchID] = code
				}
				scan.ActualBatchCode = code
			}
			summary.WrongBatch = append(summary.WrongBatch, scan)
		}
	}
	for _, crate := range crates {
		if _, ok := matched[crate.Code]; !ok {
			summary.Missing = append(summary.Missing, crate.Code)
		}
	}

	reconciled := len(summary.Matched)
	summary.Progress = stats.Percent(reconciled, summary.TotalCrates)
	summary.StatusLine = stats.ProgressLine(reconciled, summary.TotalCrates)
	summary.Complete = summary.TotalCrates > 0 && reconciled == summary.TotalCrates
	return summary, nil
}

// Composition describes a batch's varieties, grades and transit time.
func (e *Engine) Composition(ctx context.Context, batchID uuid.UUID) (*stats.CompositionReport, error) {
	batch, err := e.store.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	crates, err := e.store.ListBatchCrates(ctx, batchID)
	if err != nil {
		return nil, err
	}
	names := func(id string) string {
		entry, err := e.dir.Lookup(ctx, directory.KindVariety, id)
		if err != nil {
			return ""
		}
		return entry.Name
	}
	report := stats.Composition(crates, batch.DepartedAt, batch.ArrivedAt, names)
	return &report, nil
}

// ScanLog pages through raw scan events, newest first.
func (e *Engine) ScanLog(ctx context.Context, filter ledger.ScanFilter) (*ScanLogPage, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultScanLogLimit
	}
	if filter.Limit > maxScanLogLimit {
		filter.Limit = maxScanLogLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	events, err := e.store.ListScanEvents(ctx, filter)
	if err != nil {
		return nil, err
	}
	total, err := e.store.CountScanEvents(ctx, filter)
	if err != nil {
		return nil, err
	}
	if events == nil {
		events = []*ledger.ScanEvent{}
	}
	return &ScanLogPage{Events: events, Total: total, Limit: filter.Limit, Offset: filter.Offset}, nil
}

// GlobalStats summarizes activity over the last days days, counting today.
func (e *Engine) GlobalStats(ctx context.Context, days int) (*GlobalStats, error) {
	if days <= 0 {
		days = defaultStatsDays
	}
	now := e.now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	since := today.AddDate(0, 0, -(days - 1))

	byStatus, err := e.store.CountBatchesByStatus(ctx)
	if err != nil {
		return nil, err
	}
	totalCrates, err := e.store.CountCrates(ctx)
	if err != nil {
		return nil, err
	}
	reconciled, err := e.store.CountDistinctMatchedCrates(ctx)
	if err != nil {
		return nil, err
	}
	window := ledger.ScanFilter{Since: &since}
	byOutcome, err := e.store.ScanOutcomeCounts(ctx, window)
	if err != nil {
		return nil, err
	}
	events, err := e.store.ListScanEvents(ctx, window)
	if err != nil {
		return nil, err
	}
	perDay, err := e.store.ScansPerDay(ctx, since)
	if err != nil {
		return nil, err
	}

	return &GlobalStats{
		Since:              since,
		BatchesByStatus:    byStatus,
		TotalCrates:        totalCrates,
		ReconciledCrates:   reconciled,
		ReconciliationRate: stats.Percent(reconciled, totalCrates),
		AverageScanSeconds: stats.AverageScanInterval(events).Seconds(),
		ScansByOutcome:     byOutcome,
		DailyScans:         stats.FillDays(perDay, since, now),
	}, nil
}
