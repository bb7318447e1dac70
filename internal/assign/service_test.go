package assign_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"cratetrail/internal/assign"
	"cratetrail/internal/authz"
	"cratetrail/internal/config"
	"cratetrail/internal/directory"
	"cratetrail/internal/fastpath"
	"cratetrail/internal/ledger"
	"cratetrail/internal/testsupport"
)

type fixture struct {
	store   *ledger.Store
	cache   *fastpath.Cache
	service *assign.Service
}

func newFixture(t *testing.T, opts ...testsupport.ConfigOption) fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	store := testsupport.MustOpenLedger(t, cfg)
	cache := fastpath.NewMemory(fastpath.LedgerSource{Store: store}, nil)
	svc := assign.New(store, assign.Options{
		Cache:         cache,
		Directory:     directory.FromConfig(cfg),
		Authorizer:    authz.FromConfig(cfg),
		DefaultWeight: decimal.NewFromFloat(cfg.Policy.DefaultCrateWeight),
	})
	return fixture{store: store, cache: cache, service: svc}
}

func byCode(code string) assign.CrateRef { return assign.CrateRef{Code: code} }

func TestAssignCreatesCrateWithDefaults(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	batch := testsupport.CreateBatch(t, f.store, "farm-7")

	res, err := f.service.Assign(ctx, batch.ID, byCode(" CR-1 "), assign.Defaults{VarietyID: "variety-1"}, testsupport.Admin)
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if !res.Created || res.Unchanged {
		t.Fatalf("expected created crate, got %+v", res)
	}
	if res.Crate.Code != "CR-1" || !res.Crate.Weight.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("unexpected crate: %+v", res.Crate)
	}
	if res.Crate.FarmID != "farm-7" {
		t.Fatalf("expected crate to adopt batch origin, got %q", res.Crate.FarmID)
	}
	if !res.Crate.InBatch(batch.ID) {
		t.Fatal("expected crate bound to batch")
	}
	if res.Batch.TotalCrates != 1 || !res.Batch.TotalWeight.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("unexpected aggregates: %d / %s", res.Batch.TotalCrates, res.Batch.TotalWeight)
	}
}

func TestAssignExistingCrateUsesItsWeight(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	batch := testsupport.CreateBatch(t, f.store, "farm-1")
	testsupport.RegisterCrate(t, f.store, "CR-2", "12.5")

	weight := decimal.NewNullDecimal(decimal.NewFromInt(99))
	res, err := f.service.Assign(ctx, batch.ID, byCode("CR-2"), assign.Defaults{Weight: weight}, testsupport.Admin)
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if res.Created {
		t.Fatal("expected existing crate to be reused")
	}
	if !res.Batch.TotalWeight.Equal(decimal.RequireFromString("12.5")) {
		t.Fatalf("expected registry weight in aggregate, got %s", res.Batch.TotalWeight)
	}
}

func TestAssignSameBatchIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	batch := testsupport.CreateBatch(t, f.store, "farm-1")

	if _, err := f.service.Assign(ctx, batch.ID, byCode("CR-3"), assign.Defaults{}, testsupport.Admin); err != nil {
		t.Fatalf("first Assign: %v", err)
	}
	res, err := f.service.Assign(ctx, batch.ID, byCode("CR-3"), assign.Defaults{}, testsupport.Admin)
	if err != nil {
		t.Fatalf("second Assign: %v", err)
	}
	if !res.Unchanged {
		t.Fatal("expected second assignment to be a no-op")
	}
	reloaded := testsupport.MustBatch(t, f.store, batch.ID)
	if reloaded.TotalCrates != 1 {
		t.Fatalf("expected aggregate unchanged, got %d", reloaded.TotalCrates)
	}
}

func TestAssignToOtherBatchNamesHolder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := testsupport.CreateBatch(t, f.store, "farm-1")
	second := testsupport.CreateBatch(t, f.store, "farm-1")

	if _, err := f.service.Assign(ctx, first.ID, byCode("CR-4"), assign.Defaults{}, testsupport.Admin); err != nil {
		t.Fatalf("Assign: %v", err)
	}
	_, err := f.service.Assign(ctx, second.ID, byCode("CR-4"), assign.Defaults{}, testsupport.Admin)
	if !ledger.IsKind(err, ledger.KindAlreadyAssigned) {
		t.Fatalf("expected already_assigned, got %v", err)
	}
	var typed *ledger.Error
	if !errors.As(err, &typed) || typed.ConflictBatchCode != first.Code {
		t.Fatalf("expected error to name %s, got %v", first.Code, err)
	}
	if got := testsupport.MustBatch(t, f.store, second.ID).TotalCrates; got != 0 {
		t.Fatalf("second batch aggregate changed: %d", got)
	}
}

func TestAssignRequiresOpenBatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	batch := testsupport.CreateBatch(t, f.store, "farm-1")
	if _, err := f.service.Assign(ctx, batch.ID, byCode("CR-5"), assign.Defaults{}, testsupport.Admin); err != nil {
		t.Fatalf("Assign: %v", err)
	}
	err := f.store.WithTx(ctx, func(tx *ledger.Tx) error {
		locked, err := tx.LockBatch(ctx, batch.ID)
		if err != nil {
			return err
		}
		_, err = tx.ApplyTransition(ctx, locked, ledger.StatusInTransit, testsupport.Admin)
		return err
	})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	_, err = f.service.Assign(ctx, batch.ID, byCode("CR-6"), assign.Defaults{}, testsupport.Admin)
	if !ledger.IsKind(err, ledger.KindInvalidState) {
		t.Fatalf("expected invalid_state, got %v", err)
	}
	if _, err := f.store.GetCrateByCode(ctx, "CR-6"); !ledger.IsKind(err, ledger.KindNotFound) {
		t.Fatalf("expected no crate created for refused assignment, got %v", err)
	}
}

func TestAssignValidatesInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	batch := testsupport.CreateBatch(t, f.store, "farm-1")

	cases := []struct {
		name     string
		ref      assign.CrateRef
		defaults assign.Defaults
		want     ledger.Kind
	}{
		{"blank code", byCode("  "), assign.Defaults{}, ledger.KindValidation},
		{"zero weight", byCode("CR-7"), assign.Defaults{Weight: decimal.NewNullDecimal(decimal.Zero)}, ledger.KindValidation},
		{"negative weight", byCode("CR-7"), assign.Defaults{Weight: decimal.NewNullDecimal(decimal.NewFromInt(-2))}, ledger.KindValidation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.service.Assign(ctx, batch.ID, tc.ref, tc.defaults, testsupport.Admin)
			if !ledger.IsKind(err, tc.want) {
				t.Fatalf("expected %s, got %v", tc.want, err)
			}
		})
	}
}

func TestConcurrentAssignmentsKeepExactAggregates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	batch := testsupport.CreateBatch(t, f.store, "farm-1")
	f.cache.Init(ctx, batch.ID, 0)

	const workers = 16
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := range workers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			weight := decimal.NewNullDecimal(decimal.RequireFromString("2.5"))
			_, err := f.service.Assign(ctx, batch.ID, byCode(fmt.Sprintf("CC-%02d", i)), assign.Defaults{Weight: weight}, testsupport.Admin)
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent Assign: %v", err)
		}
	}

	reloaded := testsupport.MustBatch(t, f.store, batch.ID)
	if reloaded.TotalCrates != workers {
		t.Fatalf("expected %d crates, got %d", workers, reloaded.TotalCrates)
	}
	if want := decimal.RequireFromString("40"); !reloaded.TotalWeight.Equal(want) {
		t.Fatalf("expected total weight %s, got %s", want, reloaded.TotalWeight)
	}
	crates, err := f.store.ListBatchCrates(ctx, batch.ID)
	if err != nil {
		t.Fatalf("ListBatchCrates: %v", err)
	}
	if len(crates) != workers {
		t.Fatalf("expected %d bound crates, got %d", workers, len(crates))
	}
	entry, err := f.cache.Status(ctx, batch.ID)
	if err != nil {
		t.Fatalf("cache Status: %v", err)
	}
	if entry.TotalCrates != workers {
		t.Fatalf("expected cache total %d, got %d", workers, entry.TotalCrates)
	}
}

func TestConcurrentAssignOfSameCodeBindsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	batch := testsupport.CreateBatch(t, f.store, "farm-1")

	const workers = 8
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.service.Assign(ctx, batch.ID, byCode("SAME-1"), assign.Defaults{}, testsupport.Admin); err != nil {
				t.Errorf("Assign: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := testsupport.MustBatch(t, f.store, batch.ID).TotalCrates; got != 1 {
		t.Fatalf("expected one crate counted, got %d", got)
	}
}

func TestUnassignReversesAggregates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	batch := testsupport.CreateBatch(t, f.store, "farm-1")
	other := testsupport.CreateBatch(t, f.store, "farm-1")
	testsupport.RegisterCrate(t, f.store, "CR-8", "4.25")
	testsupport.RegisterCrate(t, f.store, "CR-9", "3")

	for _, code := range []string{"CR-8", "CR-9"} {
		if _, err := f.service.Assign(ctx, batch.ID, byCode(code), assign.Defaults{}, testsupport.Admin); err != nil {
			t.Fatalf("Assign %s: %v", code, err)
		}
	}
	res, err := f.service.Unassign(ctx, batch.ID, byCode("CR-8"), testsupport.Admin)
	if err != nil {
		t.Fatalf("Unassign: %v", err)
	}
	if res.Crate.BatchID != nil {
		t.Fatal("expected crate to be released")
	}
	if res.Batch.TotalCrates != 1 || !res.Batch.TotalWeight.Equal(decimal.NewFromInt(3)) {
		t.Fatalf("unexpected aggregates after unassign: %d / %s", res.Batch.TotalCrates, res.Batch.TotalWeight)
	}

	_, err = f.service.Unassign(ctx, other.ID, byCode("CR-9"), testsupport.Admin)
	if !ledger.IsKind(err, ledger.KindConflict) {
		t.Fatalf("expected conflict for crate outside batch, got %v", err)
	}

	if _, err := f.service.Assign(ctx, other.ID, byCode("CR-8"), assign.Defaults{}, testsupport.Admin); err != nil {
		t.Fatalf("reassign after unassign: %v", err)
	}
}

func TestRegisterCrateChecksStrictDirectory(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Directory = config.Directory{
		Strict:    true,
		Farms:     []config.DirectoryEntry{{ID: "farm-1", Name: "North"}},
		Varieties: []config.DirectoryEntry{{ID: "variety-1", Name: "Alphonso"}},
	}
	store := testsupport.MustOpenLedger(t, cfg)
	svc := assign.New(store, assign.Options{Directory: directory.FromConfig(cfg)})
	ctx := context.Background()

	crate, err := svc.RegisterCrate(ctx, ledger.NewCrate{Code: "REG-1", FarmID: "farm-1", VarietyID: "variety-1"}, testsupport.Admin)
	if err != nil {
		t.Fatalf("RegisterCrate: %v", err)
	}
	if !crate.Weight.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("expected default weight, got %s", crate.Weight)
	}
	if crate.SupervisorID != testsupport.Admin.ID {
		t.Fatalf("expected registering actor as supervisor, got %q", crate.SupervisorID)
	}

	_, err = svc.RegisterCrate(ctx, ledger.NewCrate{Code: "REG-2", FarmID: "farm-404"}, testsupport.Admin)
	if !ledger.IsKind(err, ledger.KindValidation) {
		t.Fatalf("expected validation error for unknown farm, got %v", err)
	}
	_, err = svc.RegisterCrate(ctx, ledger.NewCrate{Code: "REG-1", FarmID: "farm-1"}, testsupport.Admin)
	if !ledger.IsKind(err, ledger.KindConflict) {
		t.Fatalf("expected conflict for duplicate code, got %v", err)
	}
}

func TestCreateBatchInitializesCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	batch, err := f.service.CreateBatch(ctx, ledger.NewBatch{
		OriginID:      "farm-1",
		DestinationID: "packhouse-1",
		Transport:     ledger.Transport{Mode: "truck"},
	}, testsupport.Admin)
	if err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}
	if batch.Status != ledger.StatusOpen || batch.CreatedBy != testsupport.Admin.ID {
		t.Fatalf("unexpected batch: %+v", batch)
	}
	entry, err := f.cache.Status(ctx, batch.ID)
	if err != nil {
		t.Fatalf("cache Status: %v", err)
	}
	if entry.TotalCrates != 0 || entry.Closed {
		t.Fatalf("unexpected cache entry: %+v", entry)
	}
}

func TestAccessControlRefusesAssign(t *testing.T) {
	f := newFixture(t, testsupport.WithAccessControl())
	ctx := context.Background()
	batch := testsupport.CreateBatch(t, f.store, "farm-1")

	harvester := ledger.Actor{ID: "user-h", Role: "harvester"}
	_, err := f.service.Assign(ctx, batch.ID, byCode("CR-10"), assign.Defaults{}, harvester)
	if !ledger.IsKind(err, ledger.KindForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if _, err := f.service.RegisterCrate(ctx, ledger.NewCrate{Code: "CR-10"}, harvester); err != nil {
		t.Fatalf("harvester should register crates: %v", err)
	}
	if _, err := f.service.Assign(ctx, batch.ID, byCode("CR-10"), assign.Defaults{}, testsupport.Admin); err != nil {
		t.Fatalf("admin Assign: %v", err)
	}
}

func TestRecountRepairsDrift(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	batch := testsupport.CreateBatch(t, f.store, "farm-1")
	if _, err := f.service.Assign(ctx, batch.ID, byCode("CR-11"), assign.Defaults{}, testsupport.Admin); err != nil {
		t.Fatalf("Assign: %v", err)
	}

	_, drifted, err := f.service.Recount(ctx, batch.ID, testsupport.Admin)
	if err != nil {
		t.Fatalf("Recount: %v", err)
	}
	if drifted {
		t.Fatal("expected consistent aggregates")
	}

	err = f.store.WithTx(ctx, func(tx *ledger.Tx) error {
		locked, err := tx.LockBatch(ctx, batch.ID)
		if err != nil {
			return err
		}
		_, err = tx.AdjustAggregates(ctx, locked, 3, decimal.NewFromInt(3))
		return err
	})
	if err != nil {
		t.Fatalf("corrupt aggregates: %v", err)
	}
	repaired, drifted, err := f.service.Recount(ctx, batch.ID, testsupport.Admin)
	if err != nil {
		t.Fatalf("Recount: %v", err)
	}
	if !drifted || repaired.TotalCrates != 1 || !repaired.TotalWeight.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("expected repair to 1 crate, got drifted=%v %+v", drifted, repaired)
	}
}

func TestUpdateCrateAdjustsOpenBatchWeight(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	batch := testsupport.CreateBatch(t, f.store, "farm-1")
	for _, code := range []string{"UP-1", "UP-2"} {
		if _, err := f.service.Assign(ctx, batch.ID, byCode(code), assign.Defaults{Weight: decimal.NewNullDecimal(decimal.NewFromInt(5))}, testsupport.Admin); err != nil {
			t.Fatalf("Assign %s: %v", code, err)
		}
	}

	weight := decimal.RequireFromString("3.5")
	grade := "B"
	res, err := f.service.UpdateCrate(ctx, byCode("UP-1"), ledger.CrateDetails{Weight: &weight, QualityGrade: &grade}, testsupport.Admin)
	if err != nil {
		t.Fatalf("UpdateCrate: %v", err)
	}
	if res.Crate.QualityGrade != "B" || !res.Batch.TotalWeight.Equal(decimal.RequireFromString("8.5")) || res.Batch.TotalCrates != 2 {
		t.Fatalf("unexpected result: crate %+v batch %d/%s", res.Crate, res.Batch.TotalCrates, res.Batch.TotalWeight)
	}

	// A grade-only edit leaves the aggregates untouched.
	grade = "A"
	res, err = f.service.UpdateCrate(ctx, byCode("UP-2"), ledger.CrateDetails{QualityGrade: &grade}, testsupport.Admin)
	if err != nil {
		t.Fatalf("UpdateCrate grade: %v", err)
	}
	if !res.Batch.TotalWeight.Equal(decimal.RequireFromString("8.5")) {
		t.Fatalf("grade edit changed total weight to %s", res.Batch.TotalWeight)
	}

	recounted, drifted, err := f.service.Recount(ctx, batch.ID, testsupport.Admin)
	if err != nil {
		t.Fatalf("Recount: %v", err)
	}
	if drifted || !recounted.TotalWeight.Equal(decimal.RequireFromString("8.5")) {
		t.Fatalf("edit left aggregates drifted: %s", recounted.TotalWeight)
	}
}

func TestUpdateCrateUnassignedAndValidation(t *testing.T) {
	f := newFixture(t, testsupport.WithAccessControl())
	ctx := context.Background()
	harvester := ledger.Actor{ID: "user-h", Role: "harvester"}
	if _, err := f.service.RegisterCrate(ctx, ledger.NewCrate{Code: "UV-1", Weight: decimal.NewFromInt(2)}, harvester); err != nil {
		t.Fatalf("RegisterCrate: %v", err)
	}

	notes := "cracked lid"
	res, err := f.service.UpdateCrate(ctx, byCode("UV-1"), ledger.CrateDetails{Notes: &notes}, harvester)
	if err != nil {
		t.Fatalf("harvester should edit unassigned crates: %v", err)
	}
	if res.Batch != nil || res.Crate.Notes != notes {
		t.Fatalf("unexpected result %+v", res)
	}

	batch := testsupport.CreateBatch(t, f.store, "farm-1")
	if _, err := f.service.Assign(ctx, batch.ID, byCode("UV-1"), assign.Defaults{}, testsupport.Admin); err != nil {
		t.Fatalf("Assign: %v", err)
	}
	weight := decimal.NewFromInt(4)
	if _, err := f.service.UpdateCrate(ctx, byCode("UV-1"), ledger.CrateDetails{Weight: &weight}, harvester); !ledger.IsKind(err, ledger.KindForbidden) {
		t.Fatalf("expected forbidden editing an assigned crate as harvester, got %v", err)
	}

	cases := []struct {
		name    string
		ref     assign.CrateRef
		details ledger.CrateDetails
		kind    ledger.Kind
	}{
		{"no ref", assign.CrateRef{}, ledger.CrateDetails{Notes: &notes}, ledger.KindValidation},
		{"empty edit", byCode("UV-1"), ledger.CrateDetails{}, ledger.KindValidation},
		{"unknown crate", byCode("UV-404"), ledger.CrateDetails{Notes: &notes}, ledger.KindNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := f.service.UpdateCrate(ctx, tc.ref, tc.details, testsupport.Admin); !ledger.IsKind(err, tc.kind) {
				t.Fatalf("expected %s, got %v", tc.kind, err)
			}
		})
	}
}
