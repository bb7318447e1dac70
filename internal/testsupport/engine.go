package testsupport

import (
	"testing"

	"github.com/shopspring/decimal"

	"cratetrail/internal/assign"
	"cratetrail/internal/authz"
	"cratetrail/internal/config"
	"cratetrail/internal/directory"
	"cratetrail/internal/fastpath"
	"cratetrail/internal/ledger"
	"cratetrail/internal/reconcile"
)

// Env bundles a wired ledger, cache, assignment service and engine.
type Env struct {
	Config *config.Config
	Store  *ledger.Store
	Cache  *fastpath.Cache
	Assign *assign.Service
	Engine *reconcile.Engine
}

// NewEngine wires every service over a fresh SQLite ledger and an
// in-memory cache.
func NewEngine(t testing.TB, opts ...ConfigOption) *Env {
	t.Helper()

	cfg := NewConfig(t, opts...)
	store := MustOpenLedger(t, cfg)
	cache := fastpath.NewMemory(fastpath.LedgerSource{Store: store}, nil)
	auth := authz.FromConfig(cfg)
	dir := directory.FromConfig(cfg)

	return &Env{
		Config: cfg,
		Store:  store,
		Cache:  cache,
		Assign: assign.New(store, assign.Options{
			Cache:         cache,
			Directory:     dir,
			Authorizer:    auth,
			DefaultWeight: decimal.NewFromFloat(cfg.Policy.DefaultCrateWeight),
		}),
		Engine: reconcile.New(store, reconcile.Options{
			Cache:      cache,
			Authorizer: auth,
			Directory:  dir,
			Policy:     cfg.Policy,
		}),
	}
}
