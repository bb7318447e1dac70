package reconcile_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"cratetrail/internal/assign"
	"cratetrail/internal/config"
	"cratetrail/internal/fastpath"
	"cratetrail/internal/ledger"
	"cratetrail/internal/reconcile"
	"cratetrail/internal/testsupport"
)

var ctx = context.Background()

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// loadBatch creates an open batch and assigns one crate per weight.
func loadBatch(t *testing.T, env *testsupport.Env, prefix string, weights ...string) *ledger.Batch {
	t.Helper()
	batch := testsupport.CreateBatch(t, env.Store, "farm-1")
	for i, w := range weights {
		code := fmt.Sprintf("%s-%d", prefix, i+1)
		_, err := env.Assign.Assign(ctx, batch.ID, assign.CrateRef{Code: code},
			assign.Defaults{Weight: decimal.NewNullDecimal(d(w)), VarietyID: "variety-1"}, testsupport.Admin)
		if err != nil {
			t.Fatalf("Assign %s: %v", code, err)
		}
	}
	return testsupport.MustBatch(t, env.Store, batch.ID)
}

func move(t *testing.T, env *testsupport.Env, id uuid.UUID, targets ...ledger.Status) *ledger.Batch {
	t.Helper()
	var batch *ledger.Batch
	for _, target := range targets {
		var err error
		batch, err = env.Engine.Transition(ctx, id, target, testsupport.Admin)
		if err != nil {
			t.Fatalf("Transition to %s: %v", target, err)
		}
	}
	return batch
}

func scan(t *testing.T, env *testsupport.Env, id uuid.UUID, code string) *reconcile.ScanResult {
	t.Helper()
	res, err := env.Engine.Scan(ctx, reconcile.ScanRequest{BatchID: id, Code: code, Actor: testsupport.Admin})
	if err != nil {
		t.Fatalf("Scan %s: %v", code, err)
	}
	return res
}

func TestHappyPath(t *testing.T) {
	env := testsupport.NewEngine(t)
	batch := loadBatch(t, env, "HP", "5", "5", "10")
	if !batch.TotalWeight.Equal(d("20")) || batch.TotalCrates != 3 {
		t.Fatalf("expected 3 crates / 20, got %d / %s", batch.TotalCrates, batch.TotalWeight)
	}

	dispatched := move(t, env, batch.ID, ledger.StatusInTransit)
	if dispatched.DepartedAt == nil {
		t.Fatal("expected departure stamped on dispatch")
	}
	arrived := move(t, env, batch.ID, ledger.StatusArrived)
	if arrived.ArrivedAt == nil {
		t.Fatal("expected arrival stamped")
	}

	for _, code := range []string{"HP-1", "HP-2", "HP-3"} {
		res := scan(t, env, batch.ID, code)
		if res.Outcome != ledger.OutcomeMatched {
			t.Fatalf("scan %s: expected matched, got %s", code, res.Outcome)
		}
		if res.Advanced {
			t.Fatal("arrived batches must not auto-advance")
		}
	}

	report, err := env.Engine.Completeness(ctx, batch.ID)
	if err != nil {
		t.Fatalf("Completeness: %v", err)
	}
	if report.TotalCrates != 3 || report.ReconciledCount != 3 || !report.IsComplete || report.MissingCount != 0 {
		t.Fatalf("unexpected completeness: %+v", report)
	}

	move(t, env, batch.ID, ledger.StatusDelivered)
	closed := move(t, env, batch.ID, ledger.StatusClosed)
	if closed.Status != ledger.StatusClosed || closed.ClosedAt == nil || closed.ClosedBy == "" {
		t.Fatalf("unexpected closed batch: %+v", closed)
	}
	entry, err := env.Cache.Status(ctx, batch.ID)
	if err != nil {
		t.Fatalf("cache Status: %v", err)
	}
	if !entry.Closed || entry.ReconciledCount != 3 {
		t.Fatalf("expected closed cache entry with 3 markers, got %+v", entry)
	}
}

func TestScanIsIdempotentPerCode(t *testing.T) {
	env := testsupport.NewEngine(t)
	batch := loadBatch(t, env, "ID", "1", "1")
	move(t, env, batch.ID, ledger.StatusInTransit)

	first := scan(t, env, batch.ID, "ID-1")
	second := scan(t, env, batch.ID, " ID-1 ")
	if first.Outcome != ledger.OutcomeMatched {
		t.Fatalf("expected matched first, got %s", first.Outcome)
	}
	if second.Outcome != ledger.OutcomeDuplicate || second.Prior != ledger.OutcomeMatched {
		t.Fatalf("expected duplicate of matched, got %s (prior %s)", second.Outcome, second.Prior)
	}
	if second.Completeness.ReconciledCount != 1 {
		t.Fatalf("expected reconciled count 1, got %d", second.Completeness.ReconciledCount)
	}
	if second.Crate == nil || second.Crate.Code != "ID-1" {
		t.Fatalf("expected duplicate to carry crate info, got %+v", second.Crate)
	}

	page, err := env.Engine.ScanLog(ctx, ledger.ScanFilter{BatchID: &batch.ID})
	if err != nil {
		t.Fatalf("ScanLog: %v", err)
	}
	if page.Total != 2 {
		t.Fatalf("expected both attempts logged, got %d", page.Total)
	}
}

func TestConcurrentDuplicateScansCountOnce(t *testing.T) {
	env := testsupport.NewEngine(t)
	batch := loadBatch(t, env, "CD", "1", "1")
	move(t, env, batch.ID, ledger.StatusInTransit)

	const workers = 8
	outcomes := make(chan ledger.Outcome, workers)
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := env.Engine.Scan(ctx, reconcile.ScanRequest{BatchID: batch.ID, Code: "CD-1", Actor: testsupport.Admin})
			if err != nil {
				t.Errorf("Scan: %v", err)
				return
			}
			outcomes <- res.Outcome
		}()
	}
	wg.Wait()
	close(outcomes)

	matched := 0
	for outcome := range outcomes {
		if outcome == ledger.OutcomeMatched {
			matched++
		}
	}
	if matched != 1 {
		t.Fatalf("expected exactly one matched outcome, got %d", matched)
	}
	report, err := env.Engine.LedgerCompleteness(ctx, batch.ID)
	if err != nil {
		t.Fatalf("LedgerCompleteness: %v", err)
	}
	if report.ReconciledCount != 1 {
		t.Fatalf("expected reconciled 1, got %d", report.ReconciledCount)
	}
}

func TestWrongBatchAndNotFound(t *testing.T) {
	env := testsupport.NewEngine(t)
	a := loadBatch(t, env, "A", "2")
	b := loadBatch(t, env, "B", "2")
	testsupport.RegisterCrate(t, env.Store, "LOOSE-1", "3")
	move(t, env, b.ID, ledger.StatusInTransit)

	res := scan(t, env, b.ID, "A-1")
	if res.Outcome != ledger.OutcomeWrongBatch || res.ActualBatchCode != a.Code {
		t.Fatalf("expected wrong_batch naming %s, got %s / %q", a.Code, res.Outcome, res.ActualBatchCode)
	}
	if res.Completeness.ReconciledCount != 0 {
		t.Fatalf("wrong batch scan changed reconciled count: %d", res.Completeness.ReconciledCount)
	}

	loose := scan(t, env, b.ID, "LOOSE-1")
	if loose.Outcome != ledger.OutcomeWrongBatch || loose.ActualBatchCode != "" {
		t.Fatalf("expected unassigned crate as wrong_batch without batch, got %s / %q", loose.Outcome, loose.ActualBatchCode)
	}
	missing := scan(t, env, b.ID, "NOPE-404")
	if missing.Outcome != ledger.OutcomeNotFound || missing.Crate != nil {
		t.Fatalf("expected not_found, got %s", missing.Outcome)
	}

	again := scan(t, env, b.ID, "A-1")
	if again.Outcome != ledger.OutcomeDuplicate || again.Prior != ledger.OutcomeWrongBatch || again.ActualBatchCode != a.Code {
		t.Fatalf("expected duplicate of wrong_batch naming %s, got %+v", a.Code, again)
	}

	summary, err := env.Engine.Summary(ctx, b.ID)
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if len(summary.WrongBatch) != 2 || len(summary.NotFound) != 1 || len(summary.Missing) != 1 || len(summary.Matched) != 0 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if summary.OutcomeCounts[ledger.OutcomeDuplicate] != 1 || summary.OutcomeCounts[ledger.OutcomeWrongBatch] != 2 {
		t.Fatalf("unexpected outcome counts: %v", summary.OutcomeCounts)
	}
	if summary.StatusLine != "0/1 crates (0.0%)" {
		t.Fatalf("unexpected status line %q", summary.StatusLine)
	}
}

func TestPrematureDelivery(t *testing.T) {
	env := testsupport.NewEngine(t)
	batch := loadBatch(t, env, "PD", "1", "1", "1")
	move(t, env, batch.ID, ledger.StatusInTransit, ledger.StatusArrived)
	scan(t, env, batch.ID, "PD-1")
	scan(t, env, batch.ID, "PD-2")

	_, err := env.Engine.Transition(ctx, batch.ID, ledger.StatusDelivered, testsupport.Admin)
	if !errors.Is(err, ledger.ErrCompletenessRequired) {
		t.Fatalf("expected completeness_required, got %v", err)
	}
	if got := testsupport.MustBatch(t, env.Store, batch.ID).Status; got != ledger.StatusArrived {
		t.Fatalf("batch moved despite refusal: %s", got)
	}

	scan(t, env, batch.ID, "PD-3")
	if _, err := env.Engine.Transition(ctx, batch.ID, ledger.StatusDelivered, testsupport.Admin); err != nil {
		t.Fatalf("delivery after final scan: %v", err)
	}
}

func TestDeliveryWithoutCompletenessWhenPolicyAllows(t *testing.T) {
	env := testsupport.NewEngine(t, testsupport.WithPolicy(func(p *config.Policy) {
		p.RequireCompleteForDelivery = false
	}))
	batch := loadBatch(t, env, "NP", "1")
	move(t, env, batch.ID, ledger.StatusArrived, ledger.StatusDelivered)

	_, err := env.Engine.MarkReconciled(ctx, batch.ID, testsupport.Admin)
	if !ledger.IsKind(err, ledger.KindCompletenessRequired) {
		t.Fatalf("reconciled must always require completeness, got %v", err)
	}
}

func TestTransitionLegalityGrid(t *testing.T) {
	env := testsupport.NewEngine(t, testsupport.WithPolicy(func(p *config.Policy) {
		p.AutoReconcile = false
	}))

	paths := map[ledger.Status][]ledger.Status{
		ledger.StatusOpen:       nil,
		ledger.StatusInTransit:  {ledger.StatusInTransit},
		ledger.StatusArrived:    {ledger.StatusArrived},
		ledger.StatusDelivered:  {ledger.StatusArrived, ledger.StatusDelivered},
		ledger.StatusClosed:     {ledger.StatusArrived, ledger.StatusDelivered, ledger.StatusClosed},
		ledger.StatusReconciled: {ledger.StatusInTransit, ledger.StatusReconciled},
	}

	for from, path := range paths {
		for _, target := range ledger.AllStatuses() {
			if ledger.CanTransition(from, target) {
				continue
			}
			t.Run(fmt.Sprintf("%s_to_%s", from, target), func(t *testing.T) {
				batch := loadBatch(t, env, fmt.Sprintf("G-%s-%s", from, target), "1")
				if len(path) > 0 {
					move(t, env, batch.ID, path[0])
				}
				if len(path) > 1 {
					scan(t, env, batch.ID, fmt.Sprintf("G-%s-%s-1", from, target))
					move(t, env, batch.ID, path[1:]...)
				}
				before := testsupport.MustBatch(t, env.Store, batch.ID)
				if before.Status != from {
					t.Fatalf("setup reached %s, want %s", before.Status, from)
				}

				_, err := env.Engine.Transition(ctx, batch.ID, target, testsupport.Admin)
				var typed *ledger.Error
				if !errors.As(err, &typed) || typed.Kind != ledger.KindInvalidTransition {
					t.Fatalf("expected invalid_transition, got %v", err)
				}
				if typed.Current != from {
					t.Fatalf("error reports current %s, want %s", typed.Current, from)
				}
				after := testsupport.MustBatch(t, env.Store, batch.ID)
				if after.Version != before.Version || after.Status != before.Status || !after.UpdatedAt.Equal(before.UpdatedAt) {
					t.Fatalf("batch mutated by refused transition: before %+v after %+v", before, after)
				}
			})
		}
	}
}

func TestDispatchRequiresTransport(t *testing.T) {
	env := testsupport.NewEngine(t)
	batch, err := env.Assign.CreateBatch(ctx, ledger.NewBatch{OriginID: "farm-1"}, testsupport.Admin)
	if err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}
	_, err = env.Engine.Transition(ctx, batch.ID, ledger.StatusInTransit, testsupport.Admin)
	if !ledger.IsKind(err, ledger.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}

	mode, dest := "truck", "packhouse-1"
	if _, err := env.Assign.UpdateBatchDetails(ctx, batch.ID, ledger.BatchDetails{
		Transport:     &ledger.Transport{Mode: mode},
		DestinationID: &dest,
	}, testsupport.Admin); err != nil {
		t.Fatalf("UpdateBatchDetails: %v", err)
	}
	move(t, env, batch.ID, ledger.StatusInTransit)
}

func TestArrivalBackfillsDeparture(t *testing.T) {
	env := testsupport.NewEngine(t)
	batch := loadBatch(t, env, "BF", "1")
	arrived := move(t, env, batch.ID, ledger.StatusArrived)
	if arrived.DepartedAt == nil || !arrived.DepartedAt.Equal(*arrived.ArrivedAt) {
		t.Fatalf("expected departure backfilled from arrival, got %v / %v", arrived.DepartedAt, arrived.ArrivedAt)
	}
}

func TestAutoReconcileFromTransit(t *testing.T) {
	env := testsupport.NewEngine(t)
	batch := loadBatch(t, env, "AR", "1", "2")
	move(t, env, batch.ID, ledger.StatusInTransit)

	if res := scan(t, env, batch.ID, "AR-1"); res.Advanced {
		t.Fatal("advanced before all crates matched")
	}
	res := scan(t, env, batch.ID, "AR-2")
	if !res.Advanced || res.Batch.Status != ledger.StatusReconciled || res.Batch.ReconciledAt == nil {
		t.Fatalf("expected auto-advance to reconciled, got %+v", res.Batch)
	}

	_, err := env.Engine.Scan(ctx, reconcile.ScanRequest{BatchID: batch.ID, Code: "AR-1", Actor: testsupport.Admin})
	if !ledger.IsKind(err, ledger.KindInvalidState) {
		t.Fatalf("expected scans refused on reconciled batch, got %v", err)
	}
}

func TestAutoReconcileDisabled(t *testing.T) {
	env := testsupport.NewEngine(t, testsupport.WithPolicy(func(p *config.Policy) { p.AutoReconcile = false }))
	batch := loadBatch(t, env, "AD", "1")
	move(t, env, batch.ID, ledger.StatusInTransit)

	res := scan(t, env, batch.ID, "AD-1")
	if res.Advanced || !res.Completeness.IsComplete {
		t.Fatalf("expected complete without advancing, got %+v", res)
	}
	reconciled, err := env.Engine.MarkReconciled(ctx, batch.ID, testsupport.Admin)
	if err != nil {
		t.Fatalf("MarkReconciled: %v", err)
	}
	if reconciled.Status != ledger.StatusReconciled {
		t.Fatalf("unexpected status %s", reconciled.Status)
	}
}

func TestScanRefusedWhileOpen(t *testing.T) {
	env := testsupport.NewEngine(t)
	batch := loadBatch(t, env, "OP", "1")
	_, err := env.Engine.Scan(ctx, reconcile.ScanRequest{BatchID: batch.ID, Code: "OP-1", Actor: testsupport.Admin})
	if !ledger.IsKind(err, ledger.KindInvalidState) {
		t.Fatalf("expected invalid_state, got %v", err)
	}
	_, err = env.Engine.Scan(ctx, reconcile.ScanRequest{BatchID: batch.ID, Code: "  ", Actor: testsupport.Admin})
	if !ledger.IsKind(err, ledger.KindValidation) {
		t.Fatalf("expected validation for blank code, got %v", err)
	}
}

func TestEmptyBatchIsNeverComplete(t *testing.T) {
	env := testsupport.NewEngine(t)
	batch := testsupport.CreateBatch(t, env.Store, "farm-1")
	report, err := env.Engine.Completeness(ctx, batch.ID)
	if err != nil {
		t.Fatalf("Completeness: %v", err)
	}
	if report.IsComplete || report.TotalCrates != 0 {
		t.Fatalf("empty batch reported complete: %+v", report)
	}
}

func TestCompletenessFallsBackWithoutCache(t *testing.T) {
	env := testsupport.NewEngine(t)
	engine := reconcile.New(env.Store, reconcile.Options{Policy: env.Config.Policy})
	batch := loadBatch(t, env, "NC", "1")

	report, err := engine.Completeness(ctx, batch.ID)
	if err != nil {
		t.Fatalf("Completeness: %v", err)
	}
	if report.Source != reconcile.SourceLedger || report.TotalCrates != 1 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if _, err := engine.Completeness(ctx, uuid.New()); !ledger.IsKind(err, ledger.KindNotFound) {
		t.Fatalf("expected not_found for unknown batch, got %v", err)
	}
	if _, err := env.Engine.Completeness(ctx, uuid.New()); !ledger.IsKind(err, ledger.KindNotFound) {
		t.Fatalf("expected not_found through cache, got %v", err)
	}
}

func TestCompletenessRoundTripAfterCacheLoss(t *testing.T) {
	env := testsupport.NewEngine(t)
	batch := loadBatch(t, env, "RT", "1", "1")
	move(t, env, batch.ID, ledger.StatusInTransit)
	scan(t, env, batch.ID, "RT-1")

	env.Cache.Invalidate(ctx, batch.ID)
	report, err := env.Engine.Completeness(ctx, batch.ID)
	if err != nil {
		t.Fatalf("Completeness: %v", err)
	}
	if report.ReconciledCount != 1 || report.TotalCrates != 2 || report.IsComplete {
		t.Fatalf("unexpected rebuilt report: %+v", report)
	}
	ledgerReport, err := env.Engine.LedgerCompleteness(ctx, batch.ID)
	if err != nil {
		t.Fatalf("LedgerCompleteness: %v", err)
	}
	if ledgerReport.ReconciledCount != report.ReconciledCount || ledgerReport.TotalCrates != report.TotalCrates {
		t.Fatalf("cache %+v disagrees with ledger %+v", report, ledgerReport)
	}
}

// scanDuringSnapshot commits a scan after the ledger snapshot is read and
// before the cache stores it.
type scanDuringSnapshot struct {
	inner fastpath.LedgerSource
	once  sync.Once
	scan  func()
}

func (s *scanDuringSnapshot) Snapshot(ctx context.Context, id uuid.UUID) (*fastpath.Entry, error) {
	entry, err := s.inner.Snapshot(ctx, id)
	if err == nil && s.scan != nil {
		s.once.Do(s.scan)
	}
	return entry, err
}

func TestScanCommittedDuringRebuildReachesCache(t *testing.T) {
	env := testsupport.NewEngine(t)
	batch := loadBatch(t, env, "RC", "1", "1")
	move(t, env, batch.ID, ledger.StatusInTransit)

	source := &scanDuringSnapshot{inner: fastpath.LedgerSource{Store: env.Store}}
	cache := fastpath.NewMemory(source, nil)
	engine := reconcile.New(env.Store, reconcile.Options{Cache: cache, Policy: env.Config.Policy})
	source.scan = func() {
		_, err := engine.Scan(ctx, reconcile.ScanRequest{BatchID: batch.ID, Code: "RC-1", Actor: testsupport.Admin})
		if err != nil {
			t.Errorf("Scan during rebuild: %v", err)
		}
	}

	for i := 0; i < 2; i++ {
		report, err := engine.Completeness(ctx, batch.ID)
		if err != nil {
			t.Fatalf("Completeness: %v", err)
		}
		if report.Source != reconcile.SourceCache || report.ReconciledCount != 1 || report.TotalCrates != 2 {
			t.Fatalf("read %d: unexpected report %+v", i, report)
		}
	}
	ledgerReport, err := engine.LedgerCompleteness(ctx, batch.ID)
	if err != nil {
		t.Fatalf("LedgerCompleteness: %v", err)
	}
	if ledgerReport.ReconciledCount != 1 {
		t.Fatalf("expected the scan to be committed, got %+v", ledgerReport)
	}
}

func TestWeighSignConventionAndUpsert(t *testing.T) {
	env := testsupport.NewEngine(t)
	batch := loadBatch(t, env, "W", "10.0", "20")
	move(t, env, batch.ID, ledger.StatusInTransit, ledger.StatusArrived)

	result, err := env.Engine.Weigh(ctx, reconcile.WeighRequest{BatchID: batch.ID, Code: "W-1", Weight: d("9.5"), Actor: testsupport.Admin})
	if err != nil {
		t.Fatalf("Weigh: %v", err)
	}
	if !result.Observation.Differential.Decimal.Equal(d("-0.5")) {
		t.Fatalf("expected -0.5 differential, got %s", result.Observation.Differential.Decimal)
	}
	if !result.LossPercentage.IsNegative() || !result.LossPercentage.Equal(d("-5")) {
		t.Fatalf("expected -5%% loss, got %s", result.LossPercentage)
	}

	again, err := env.Engine.Weigh(ctx, reconcile.WeighRequest{BatchID: batch.ID, Code: "W-1", Weight: d("10.5"), Actor: testsupport.Admin, PhotoRef: "photo-1"})
	if err != nil {
		t.Fatalf("re-Weigh: %v", err)
	}
	if again.WeighedCount != 1 || !again.TotalDifferential.Equal(d("0.5")) {
		t.Fatalf("expected overwrite, got %+v", again)
	}
	if !again.Observation.DeclaredWeight.Decimal.Equal(d("10")) || again.Observation.PhotoRef != "photo-1" {
		t.Fatalf("unexpected stored observation: %+v", again.Observation)
	}

	if _, err := env.Engine.Weigh(ctx, reconcile.WeighRequest{BatchID: batch.ID, Code: "W-2", Weight: d("19"), Actor: testsupport.Admin}); err != nil {
		t.Fatalf("Weigh W-2: %v", err)
	}
	weights, err := env.Engine.WeightStats(ctx, batch.ID)
	if err != nil {
		t.Fatalf("WeightStats: %v", err)
	}
	if weights.WeighedCount != 2 || !weights.TotalDeclared.Equal(d("30")) || !weights.TotalDifferential.Equal(d("-0.5")) {
		t.Fatalf("unexpected stats: %+v", weights)
	}
	report, err := env.Engine.Completeness(ctx, batch.ID)
	if err != nil {
		t.Fatalf("Completeness: %v", err)
	}
	if !report.IsComplete {
		t.Fatalf("weigh-ins should count as matched: %+v", report)
	}
}

func TestWeighKeepsScanSnapshot(t *testing.T) {
	env := testsupport.NewEngine(t)
	batch := loadBatch(t, env, "SS", "8")
	move(t, env, batch.ID, ledger.StatusInTransit, ledger.StatusArrived)
	scan(t, env, batch.ID, "SS-1")

	result, err := env.Engine.Weigh(ctx, reconcile.WeighRequest{BatchID: batch.ID, Code: "SS-1", Weight: d("7"), Actor: testsupport.Admin})
	if err != nil {
		t.Fatalf("Weigh: %v", err)
	}
	if !result.TotalDifferential.Equal(d("-1")) {
		t.Fatalf("expected -1 differential against scan snapshot, got %s", result.TotalDifferential)
	}
	page, err := env.Engine.ScanLog(ctx, ledger.ScanFilter{BatchID: &batch.ID})
	if err != nil {
		t.Fatalf("ScanLog: %v", err)
	}
	if page.Total != 1 {
		t.Fatalf("weigh-ins must not append scan events, got %d", page.Total)
	}
}

func TestCrateEditKeepsRecordedDifferential(t *testing.T) {
	env := testsupport.NewEngine(t)
	batch := loadBatch(t, env, "ED", "10.0")
	move(t, env, batch.ID, ledger.StatusInTransit, ledger.StatusArrived)
	if _, err := env.Engine.Weigh(ctx, reconcile.WeighRequest{BatchID: batch.ID, Code: "ED-1", Weight: d("9.5"), Actor: testsupport.Admin}); err != nil {
		t.Fatalf("Weigh: %v", err)
	}

	weight := d("12")
	res, err := env.Assign.UpdateCrate(ctx, assign.CrateRef{Code: "ED-1"}, ledger.CrateDetails{Weight: &weight}, testsupport.Admin)
	if err != nil {
		t.Fatalf("UpdateCrate: %v", err)
	}
	if !res.Crate.Weight.Equal(weight) || !res.Batch.TotalWeight.Equal(weight) || res.Batch.TotalCrates != 1 {
		t.Fatalf("expected total weight to follow the edit, got crate %s batch %d/%s",
			res.Crate.Weight, res.Batch.TotalCrates, res.Batch.TotalWeight)
	}
	obs, err := env.Store.GetObservation(ctx, batch.ID, "ED-1")
	if err != nil {
		t.Fatalf("GetObservation: %v", err)
	}
	if !obs.Differential.Decimal.Equal(d("-0.5")) || !obs.DeclaredWeight.Decimal.Equal(d("10")) {
		t.Fatalf("recorded weigh-in changed: declared %s differential %s", obs.DeclaredWeight.Decimal, obs.Differential.Decimal)
	}

	move(t, env, batch.ID, ledger.StatusDelivered, ledger.StatusReconciled)
	weight = d("15")
	_, err = env.Assign.UpdateCrate(ctx, assign.CrateRef{Code: "ED-1"}, ledger.CrateDetails{Weight: &weight}, testsupport.Admin)
	if !ledger.IsKind(err, ledger.KindInvalidState) {
		t.Fatalf("expected invalid_state editing a crate of a reconciled batch, got %v", err)
	}
	if got := testsupport.MustBatch(t, env.Store, batch.ID); !got.TotalWeight.Equal(d("12")) {
		t.Fatalf("refused edit changed total weight to %s", got.TotalWeight)
	}
}

func TestWeighRejections(t *testing.T) {
	env := testsupport.NewEngine(t)
	batch := loadBatch(t, env, "WR", "1")
	loadBatch(t, env, "WO", "1")
	move(t, env, batch.ID, ledger.StatusInTransit)

	_, err := env.Engine.Weigh(ctx, reconcile.WeighRequest{BatchID: batch.ID, Code: "WR-1", Weight: d("1"), Actor: testsupport.Admin})
	if !ledger.IsKind(err, ledger.KindInvalidState) {
		t.Fatalf("expected invalid_state in transit, got %v", err)
	}
	move(t, env, batch.ID, ledger.StatusArrived)

	cases := []struct {
		name   string
		code   string
		weight decimal.Decimal
		want   ledger.Kind
	}{
		{"zero weight", "WR-1", decimal.Zero, ledger.KindValidation},
		{"negative weight", "WR-1", d("-1"), ledger.KindValidation},
		{"blank code", " ", d("1"), ledger.KindValidation},
		{"crate of other batch", "WO-1", d("1"), ledger.KindConflict},
		{"unknown crate", "NONE", d("1"), ledger.KindNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.Engine.Weigh(ctx, reconcile.WeighRequest{BatchID: batch.ID, Code: tc.code, Weight: tc.weight, Actor: testsupport.Admin})
			if !ledger.IsKind(err, tc.want) {
				t.Fatalf("expected %s, got %v", tc.want, err)
			}
		})
	}
}

func TestRoleGatedTransitions(t *testing.T) {
	env := testsupport.NewEngine(t, testsupport.WithAccessControl())
	batch := loadBatch(t, env, "RG", "1")

	harvester := ledger.Actor{ID: "h-1", Role: "harvester"}
	_, err := env.Engine.Transition(ctx, batch.ID, ledger.StatusInTransit, harvester)
	if !ledger.IsKind(err, ledger.KindForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	packhouse := ledger.Actor{ID: "p-1", Role: "packhouse"}
	if _, err := env.Engine.Transition(ctx, batch.ID, ledger.StatusArrived, packhouse); err != nil {
		t.Fatalf("packhouse arrival: %v", err)
	}
	if _, err := env.Engine.Scan(ctx, reconcile.ScanRequest{BatchID: batch.ID, Code: "RG-1", Actor: harvester}); !ledger.IsKind(err, ledger.KindForbidden) {
		t.Fatalf("expected harvester scan forbidden, got %v", err)
	}
}

func TestCompositionAndGlobalStats(t *testing.T) {
	env := testsupport.NewEngine(t)
	batch := loadBatch(t, env, "GS", "4", "6")
	move(t, env, batch.ID, ledger.StatusInTransit)
	scan(t, env, batch.ID, "GS-1")
	scan(t, env, batch.ID, "GS-1")
	testsupport.RegisterCrate(t, env.Store, "GS-LOOSE", "1")

	composition, err := env.Engine.Composition(ctx, batch.ID)
	if err != nil {
		t.Fatalf("Composition: %v", err)
	}
	if composition.TotalCrates != 2 || !composition.TotalWeight.Equal(d("10")) || len(composition.Varieties) != 1 {
		t.Fatalf("unexpected composition: %+v", composition)
	}

	global, err := env.Engine.GlobalStats(ctx, 3)
	if err != nil {
		t.Fatalf("GlobalStats: %v", err)
	}
	if global.TotalCrates != 3 || global.ReconciledCrates != 1 {
		t.Fatalf("unexpected crate counts: %+v", global)
	}
	if global.BatchesByStatus[ledger.StatusInTransit] != 1 {
		t.Fatalf("unexpected status counts: %v", global.BatchesByStatus)
	}
	if global.ScansByOutcome[ledger.OutcomeMatched] != 1 || global.ScansByOutcome[ledger.OutcomeDuplicate] != 1 {
		t.Fatalf("unexpected outcome counts: %v", global.ScansByOutcome)
	}
	if len(global.DailyScans) != 3 || global.DailyScans[2].Count != 2 {
		t.Fatalf("unexpected daily scans: %v", global.DailyScans)
	}
}
