package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"cratetrail/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// The ledger is a SQLite file under the temp dir and the cache is in-memory.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Ledger.Driver = config.DriverSQLite
	cfgVal.Ledger.SQLitePath = filepath.Join(base, "data", "ledger.db")
	cfgVal.Ledger.PostgresDSN = ""
	cfgVal.Cache.Backend = config.CacheMemory
	cfgVal.Cache.BadgerDir = filepath.Join(base, "data", "fastpath")
	cfgVal.Cache.RedisAddr = ""

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithCacheBackend selects the fast-path cache backend.
func WithCacheBackend(backend string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Cache.Backend = backend
	}
}

// WithPolicy mutates the policy section in place.
func WithPolicy(mutate func(*config.Policy)) ConfigOption {
	return func(b *configBuilder) {
		mutate(&b.cfg.Policy)
	}
}

// WithAccessControl enables role gating with the default role lists.
func WithAccessControl() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Access.Enabled = true
	}
}

// WithPostgresFromEnv switches the ledger to Postgres when
// CRATETRAIL_TEST_POSTGRES_DSN is set and skips the test otherwise.
func WithPostgresFromEnv() ConfigOption {
	return func(b *configBuilder) {
		dsn := os.Getenv("CRATETRAIL_TEST_POSTGRES_DSN")
		if dsn == "" {
			b.t.Skip("CRATETRAIL_TEST_POSTGRES_DSN not set")
		}
		b.cfg.Ledger.Driver = config.DriverPostgres
		b.cfg.Ledger.PostgresDSN = dsn
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}
