package assign

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"cratetrail/internal/authz"
	"cratetrail/internal/directory"
	"cratetrail/internal/fastpath"
	"cratetrail/internal/ledger"
	"cratetrail/internal/logging"
)

// CrateRef identifies a crate by ID or by code. ID wins when both are set.
type CrateRef struct {
	ID   *uuid.UUID
	Code string
}

func (r CrateRef) String() string {
	if r.ID != nil {
		return r.ID.String()
	}
	return ledger.NormalizeCode(r.Code)
}

// Defaults fill a crate created on the minimal-data path. A zero Weight
// falls back to the configured default crate weight and a blank FarmID to
// the batch origin.
type Defaults struct {
	Weight       decimal.NullDecimal
	FarmID       string
	VarietyID    string
	QualityGrade string
	HarvestedAt  *time.Time
	Notes        string
}

// Result describes the outcome of Assign or Unassign.
type Result struct {
	Batch *ledger.Batch
	Crate *ledger.Crate
	// Created is set when Assign registered the crate on the fly.
	Created bool
	// Unchanged is set when the crate was already bound to this batch.
	Unchanged bool
}

// Options configures a Service.
type Options struct {
	Cache         *fastpath.Cache
	Directory     directory.Directory
	Authorizer    authz.Authorizer
	DefaultWeight decimal.Decimal
	Logger        *slog.Logger
}

// Service is the assignment service.
type Service struct {
	store         *ledger.Store
	cache         *fastpath.Cache
	dir           directory.Directory
	authz         authz.Authorizer
	defaultWeight decimal.Decimal
	logger        *slog.Logger
}

// New constructs a Service over store.
func New(store *ledger.Store, opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	auth := opts.Authorizer
	if auth == nil {
		auth = authz.AllowAll{}
	}
	dir := opts.Directory
	if dir == nil {
		dir = directory.Permissive{}
	}
	weight := opts.DefaultWeight
	if !weight.IsPositive() {
		weight = decimal.NewFromInt(1)
	}
	return &Service{
		store:         store,
		cache:         opts.Cache,
		dir:           dir,
		authz:         auth,
		defaultWeight: weight,
		logger:        logging.NewComponentLogger(logger, "assign"),
	}
}

// Assign binds a crate to an open batch, registering it first when the code
// is unknown. Re-assigning to the same batch is a no-op; a crate bound to a
// different batch yields KindAlreadyAssigned naming that batch.
func (s *Service) Assign(ctx context.Context, batchID uuid.UUID, ref CrateRef, defaults Defaults, actor ledger.Actor) (*Result, error) {
	const op = "assign.crate"
	if err := s.authz.Authorize(ctx, actor, authz.OpAssign); err != nil {
		return nil, err
	}
	if ref.ID == nil && ledger.NormalizeCode(ref.Code) == "" {
		return nil, ledger.Validation(op, "crate id or code is required")
	}
	if defaults.Weight.Valid && !defaults.Weight.Decimal.IsPositive() {
		return nil, ledger.Validation(op, "crate weight must be positive, got %s", defaults.Weight.Decimal)
	}
	if err := directory.Require(ctx, s.dir, directory.KindVariety, defaults.VarietyID, op); err != nil {
		return nil, err
	}
	if err := directory.Require(ctx, s.dir, directory.KindFarm, defaults.FarmID, op); err != nil {
		return nil, err
	}

	var res Result
	err := s.store.WithTx(ctx, func(tx *ledger.Tx) error {
		res = Result{}
		batch, err := tx.LockBatch(ctx, batchID)
		if err != nil {
			return err
		}
		if batch.Status != ledger.StatusOpen {
			return ledger.InvalidState(op, "batch %s is %s; crates can only be added while open", batch.Code, batch.Status)
		}

		crate, created, err := s.resolveCrate(ctx, tx, batch, ref, defaults)
		if err != nil {
			return err
		}
		res.Crate = crate
		res.Created = created

		if crate.BatchID != nil {
			if *crate.BatchID == batch.ID {
				res.Batch = batch
				res.Unchanged = true
				return nil
			}
			other, err := tx.GetBatch(ctx, *crate.BatchID)
			if err != nil {
				return err
			}
			return ledger.AlreadyAssigned(op, crate.Code, other.ID, other.Code)
		}

		bound, err := tx.BindCrate(ctx, crate.ID, batch.ID, batch.OriginID)
		if err != nil {
			return err
		}
		if !bound {
			return ledger.Retryable(ledger.Conflict(op, "crate %s was bound concurrently", crate.Code))
		}
		if res.Batch, err = tx.AdjustAggregates(ctx, batch, 1, crate.Weight); err != nil {
			return err
		}
		res.Crate, err = tx.GetCrate(ctx, crate.ID)
		return err
	})
	if err != nil {
		s.logFailure(ctx, op, batchID, ref, err)
		return nil, err
	}

	if !res.Unchanged {
		s.cache.UpdateTotalCrates(ctx, res.Batch.ID, res.Batch.TotalCrates)
	}
	logging.WithContext(ctx, s.logger).Info("crate assigned",
		logging.String(logging.FieldBatchCode, res.Batch.Code),
		logging.String(logging.FieldCrateCode, res.Crate.Code),
		logging.String(logging.FieldActorID, actor.ID),
		logging.Bool("created", res.Created),
		logging.Bool("unchanged", res.Unchanged),
		logging.Int("total_crates", res.Batch.TotalCrates),
		logging.String("total_weight", res.Batch.TotalWeight.String()),
	)
	return &res, nil
}

func (s *Service) resolveCrate(ctx context.Context, tx *ledger.Tx, batch *ledger.Batch, ref CrateRef, defaults Defaults) (*ledger.Crate, bool, error) {
	if ref.ID != nil {
		crate, err := tx.GetCrate(ctx, *ref.ID)
		return crate, false, err
	}
	crate, err := tx.GetCrateByCode(ctx, ref.Code)
	if err == nil {
		return crate, false, nil
	}
	if !ledger.IsKind(err, ledger.KindNotFound) {
		return nil, false, err
	}

	weight := s.defaultWeight
	if defaults.Weight.Valid {
		weight = defaults.Weight.Decimal
	}
	farm := strings.TrimSpace(defaults.FarmID)
	if farm == "" {
		farm = batch.OriginID
	}
	crate, err = tx.InsertCrate(ctx, ledger.NewCrate{
		Code:         ref.Code,
		Weight:       weight,
		FarmID:       farm,
		VarietyID:    defaults.VarietyID,
		QualityGrade: defaults.QualityGrade,
		HarvestedAt:  defaults.HarvestedAt,
		Notes:        defaults.Notes,
	})
	if ledger.IsKind(err, ledger.KindConflict) {
		// Registered concurrently; the retried unit finds it by code.
		return nil, false, ledger.Retryable(err)
	}
	if err != nil {
		return nil, false, err
	}
	return crate, true, nil
}

// Unassign removes a crate from an open batch and reverses its contribution
// to the aggregates.
func (s *Service) Unassign(ctx context.Context, batchID uuid.UUID, ref CrateRef, actor ledger.Actor) (*Result, error) {
	const op = "assign.unassign"
	if err := s.authz.Authorize(ctx, actor, authz.OpUnassign); err != nil {
		return nil, err
	}
	if ref.ID == nil && ledger.NormalizeCode(ref.Code) == "" {
		return nil, ledger.Validation(op, "crate id or code is required")
	}

	var res Result
	err := s.store.WithTx(ctx, func(tx *ledger.Tx) error {
		res = Result{}
		batch, err := tx.LockBatch(ctx, batchID)
		if err != nil {
			return err
		}
		if batch.Status != ledger.StatusOpen {
			return ledger.InvalidState(op, "batch %s is %s; crates can only be removed while open", batch.Code, batch.Status)
		}
		var crate *ledger.Crate
		if ref.ID != nil {
			crate, err = tx.GetCrate(ctx, *ref.ID)
		} else {
			crate, err = tx.GetCrateByCode(ctx, ref.Code)
		}
		if err != nil {
			return err
		}
		if !crate.InBatch(batch.ID) {
			return ledger.Conflict(op, "crate %s is not in batch %s", crate.Code, batch.Code)
		}
		unbound, err := tx.UnbindCrate(ctx, crate.ID, batch.ID)
		if err != nil {
			return err
		}
		if !unbound {
			return ledger.Retryable(ledger.Conflict(op, "crate %s was unbound concurrently", crate.Code))
		}
		if res.Batch, err = tx.AdjustAggregates(ctx, batch, -1, crate.Weight.Neg()); err != nil {
			return err
		}
		res.Crate, err = tx.GetCrate(ctx, crate.ID)
		return err
	})
	if err != nil {
		s.logFailure(ctx, op, batchID, ref, err)
		return nil, err
	}

	s.cache.UpdateTotalCrates(ctx, res.Batch.ID, res.Batch.TotalCrates)
	logging.WithContext(ctx, s.logger).Info("crate unassigned",
		logging.String(logging.FieldBatchCode, res.Batch.Code),
		logging.String(logging.FieldCrateCode, res.Crate.Code),
		logging.Int("total_crates", res.Batch.TotalCrates),
	)
	return &res, nil
}

// RegisterCrate adds an unassigned crate to the registry.
func (s *Service) RegisterCrate(ctx context.Context, input ledger.NewCrate, actor ledger.Actor) (*ledger.Crate, error) {
	const op = "assign.register_crate"
	if err := s.authz.Authorize(ctx, actor, authz.OpRegisterCrate); err != nil {
		return nil, err
	}
	if err := directory.Require(ctx, s.dir, directory.KindFarm, input.FarmID, op); err != nil {
		return nil, err
	}
	if err := directory.Require(ctx, s.dir, directory.KindVariety, input.VarietyID, op); err != nil {
		return nil, err
	}
	if input.Weight.IsZero() {
		input.Weight = s.defaultWeight
	}
	if strings.TrimSpace(input.SupervisorID) == "" {
		input.SupervisorID = actor.ID
	}

	var crate *ledger.Crate
	err := s.store.WithTx(ctx, func(tx *ledger.Tx) error {
		var err error
		crate, err = tx.InsertCrate(ctx, input)
		return err
	})
	if err != nil {
		return nil, err
	}
	logging.WithContext(ctx, s.logger).Info("crate registered",
		logging.String(logging.FieldCrateCode, crate.Code),
		logging.String("weight", crate.Weight.String()),
	)
	return crate, nil
}

// UpdateCrate edits a registered crate. An assigned crate is edited under
// its batch lock, only while the batch is not terminal, and any weight
// change is applied to the batch total in the same transaction. Recorded
// weigh-in differentials keep the declared weight they were taken against.
func (s *Service) UpdateCrate(ctx context.Context, ref CrateRef, details ledger.CrateDetails, actor ledger.Actor) (*Result, error) {
	const op = "assign.update_crate"
	if err := s.authz.Authorize(ctx, actor, authz.OpRegisterCrate); err != nil {
		return nil, err
	}
	if ref.ID == nil && ledger.NormalizeCode(ref.Code) == "" {
		return nil, ledger.Validation(op, "crate id or code is required")
	}
	if details.Empty() {
		return nil, ledger.Validation(op, "nothing to update")
	}
	if details.FarmID != nil {
		if err := directory.Require(ctx, s.dir, directory.KindFarm, *details.FarmID, op); err != nil {
			return nil, err
		}
	}
	if details.VarietyID != nil {
		if err := directory.Require(ctx, s.dir, directory.KindVariety, *details.VarietyID, op); err != nil {
			return nil, err
		}
	}

	var res Result
	err := s.store.WithTx(ctx, func(tx *ledger.Tx) error {
		res = Result{}
		var (
			crate *ledger.Crate
			err   error
		)
		if ref.ID != nil {
			crate, err = tx.GetCrate(ctx, *ref.ID)
		} else {
			crate, err = tx.GetCrateByCode(ctx, ref.Code)
		}
		if err != nil {
			return err
		}
		if crate.BatchID == nil {
			res.Crate, err = tx.UpdateCrate(ctx, crate.ID, details)
			return err
		}

		if err := s.authz.Authorize(ctx, actor, authz.OpAssign); err != nil {
			return err
		}
		batch, err := tx.LockBatch(ctx, *crate.BatchID)
		if err != nil {
			return err
		}
		if batch.Status.IsTerminal() {
			return ledger.InvalidState(op, "crate %s belongs to %s batch %s and can no longer be edited", crate.Code, batch.Status, batch.Code)
		}
		// Re-read under the lock: the crate may have moved since the first read.
		current, err := tx.GetCrate(ctx, crate.ID)
		if err != nil {
			return err
		}
		if !current.InBatch(batch.ID) {
			return ledger.Retryable(ledger.Conflict(op, "crate %s moved while being edited", crate.Code))
		}
		if res.Crate, err = tx.UpdateCrate(ctx, crate.ID, details); err != nil {
			return err
		}
		res.Batch = batch
		if delta := res.Crate.Weight.Sub(current.Weight); !delta.IsZero() {
			res.Batch, err = tx.AdjustAggregates(ctx, batch, 0, delta)
		}
		return err
	})
	if err != nil {
		s.logFailure(ctx, op, uuid.Nil, ref, err)
		return nil, err
	}

	attrs := []logging.Attr{
		logging.String(logging.FieldCrateCode, res.Crate.Code),
		logging.String("weight", res.Crate.Weight.String()),
	}
	if res.Batch != nil {
		attrs = append(attrs,
			logging.String(logging.FieldBatchCode, res.Batch.Code),
			logging.String("total_weight", res.Batch.TotalWeight.String()),
		)
	}
	logging.WithContext(ctx, s.logger).Info("crate updated", logging.Args(attrs...)...)
	return &res, nil
}

// CreateBatch opens a new batch.
func (s *Service) CreateBatch(ctx context.Context, input ledger.NewBatch, actor ledger.Actor) (*ledger.Batch, error) {
	const op = "assign.create_batch"
	if err := s.authz.Authorize(ctx, actor, authz.OpManageBatch); err != nil {
		return nil, err
	}
	if err := directory.Require(ctx, s.dir, directory.KindFarm, input.OriginID, op); err != nil {
		return nil, err
	}
	if err := directory.Require(ctx, s.dir, directory.KindPackhouse, input.DestinationID, op); err != nil {
		return nil, err
	}
	input.CreatedBy = actor

	var batch *ledger.Batch
	err := s.store.WithTx(ctx, func(tx *ledger.Tx) error {
		var err error
		batch, err = tx.CreateBatch(ctx, input)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.cache.Init(ctx, batch.ID, 0)
	logging.WithContext(ctx, s.logger).Info("batch created",
		logging.String(logging.FieldBatchCode, batch.Code),
		logging.String("origin_id", batch.OriginID),
	)
	return batch, nil
}

// UpdateBatchDetails edits destination, transport, ETA or notes of a
// non-terminal batch.
func (s *Service) UpdateBatchDetails(ctx context.Context, batchID uuid.UUID, details ledger.BatchDetails, actor ledger.Actor) (*ledger.Batch, error) {
	const op = "assign.update_batch"
	if err := s.authz.Authorize(ctx, actor, authz.OpManageBatch); err != nil {
		return nil, err
	}
	if details.DestinationID != nil {
		if err := directory.Require(ctx, s.dir, directory.KindPackhouse, *details.DestinationID, op); err != nil {
			return nil, err
		}
	}
	var batch *ledger.Batch
	err := s.store.WithTx(ctx, func(tx *ledger.Tx) error {
		var err error
		batch, err = tx.UpdateBatchDetails(ctx, batchID, details)
		return err
	})
	if err != nil {
		return nil, err
	}
	return batch, nil
}

// Recount recomputes a batch's aggregates from its crates and reports
// whether the stored values had drifted.
func (s *Service) Recount(ctx context.Context, batchID uuid.UUID, actor ledger.Actor) (*ledger.Batch, bool, error) {
	if err := s.authz.Authorize(ctx, actor, authz.OpManageBatch); err != nil {
		return nil, false, err
	}
	var (
		batch   *ledger.Batch
		drifted bool
	)
	err := s.store.WithTx(ctx, func(tx *ledger.Tx) error {
		current, err := tx.LockBatch(ctx, batchID)
		if err != nil {
			return err
		}
		beforeCount, beforeWeight := current.TotalCrates, current.TotalWeight
		batch, err = tx.RefreshAggregates(ctx, current)
		if err != nil {
			return err
		}
		drifted = beforeCount != batch.TotalCrates || !beforeWeight.Equal(batch.TotalWeight)
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if drifted {
		logging.WarnWithContext(s.logger, "batch aggregates drifted", "aggregate_drift",
			logging.String(logging.FieldBatchCode, batch.Code),
			logging.Int("total_crates", batch.TotalCrates),
			logging.String(logging.FieldErrorHint, "aggregates were rewritten from the crate table"),
		)
		s.cache.UpdateTotalCrates(ctx, batch.ID, batch.TotalCrates)
	}
	return batch, drifted, nil
}

func (s *Service) logFailure(ctx context.Context, op string, batchID uuid.UUID, ref CrateRef, err error) {
	level := slog.LevelInfo
	if ledger.IsKind(err, ledger.KindStorage) || ledger.KindOf(err) == "" {
		level = slog.LevelError
	}
	logging.WithContext(ctx, s.logger).Log(ctx, level, "assignment rejected",
		logging.String("op", op),
		logging.String(logging.FieldBatchID, batchID.String()),
		logging.String(logging.FieldCrateCode, ref.String()),
		logging.String("kind", string(ledger.KindOf(err))),
		logging.Error(err),
	)
}
