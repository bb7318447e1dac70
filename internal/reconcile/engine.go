package reconcile

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"cratetrail/internal/authz"
	"cratetrail/internal/config"
	"cratetrail/internal/directory"
	"cratetrail/internal/fastpath"
	"cratetrail/internal/ledger"
	"cratetrail/internal/logging"
)

// Options configures an Engine.
type Options struct {
	Cache      *fastpath.Cache
	Authorizer authz.Authorizer
	Directory  directory.Directory
	Policy     config.Policy
	Logger     *slog.Logger
	// Clock overrides time.Now for reporting windows.
	Clock func() time.Time
}

// Engine runs scans, weigh-ins and transitions against the ledger.
type Engine struct {
	store  *ledger.Store
	cache  *fastpath.Cache
	authz  authz.Authorizer
	dir    directory.Directory
	policy config.Policy
	logger *slog.Logger
	now    func() time.Time
}

// New constructs an Engine.
func New(store *ledger.Store, opts Options) *Engine {
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
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Engine{
		store:  store,
		cache:  opts.Cache,
		authz:  auth,
		dir:    dir,
		policy: opts.Policy,
		logger: logging.NewComponentLogger(logger, "reconcile"),
		now:    clock,
	}
}

// completenessTx derives progress from the ledger inside a transaction.
func completenessTx(ctx context.Context, tx *ledger.Tx, batchID uuid.UUID) (CompletenessReport, error) {
	total, err := tx.CountBatchCrates(ctx, batchID)
	if err != nil {
		return CompletenessReport{}, err
	}
	matched, err := tx.CountMatched(ctx, batchID)
	if err != nil {
		return CompletenessReport{}, err
	}
	return newCompleteness(batchID, total, matched, SourceLedger), nil
}

func (e *Engine) batchLogger(ctx context.Context, batch *ledger.Batch, actor ledger.Actor) *slog.Logger {
	ctx = logging.WithBatch(ctx, batch.ID.String(), batch.Code)
	ctx = logging.WithActor(ctx, actor.ID, actor.Role)
	return logging.WithContext(ctx, e.logger)
}
