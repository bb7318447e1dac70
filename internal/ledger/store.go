package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"path/filepath"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"cratetrail/internal/config"
	"cratetrail/internal/logging"
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// reader carries the read-side queries shared by Store and Tx.
type reader struct {
	q querier
	d dialect
}

func (r reader) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return r.q.ExecContext(ctx, r.d.rebind(query), args...)
}

func (r reader) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return r.q.QueryContext(ctx, r.d.rebind(query), args...)
}

func (r reader) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return r.q.QueryRowContext(ctx, r.d.rebind(query), args...)
}

// Store is the authoritative batch ledger backed by SQLite or Postgres.
type Store struct {
	reader
	db      *sql.DB
	pool    *pgxpool.Pool
	path    string
	retries int
	logger  *slog.Logger
	now     func() time.Time
}

// Tx is a single unit of work opened by Store.WithTx. All mutations go
// through a Tx so that multi-row invariants commit together.
type Tx struct {
	reader
	tx  *sql.Tx
	now time.Time
}

// Now is the timestamp shared by every write in the transaction.
func (t *Tx) Now() time.Time { return t.now }

// Open connects to the configured ledger backend and applies migrations.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Store, error) {
	if cfg == nil {
		return nil, errors.New("ledger: config is nil")
	}
	ctx = ensureContext(ctx)
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logging.NewComponentLogger(logger, "ledger")

	var (
		store *Store
		err   error
	)
	switch cfg.Ledger.Driver {
	case config.DriverPostgres:
		store, err = openPostgres(ctx, cfg)
	default:
		store, err = openSQLite(ctx, cfg)
	}
	if err != nil {
		return nil, err
	}
	store.retries = cfg.Ledger.ConflictRetries
	store.logger = logger
	store.now = func() time.Time { return time.Now().UTC() }

	if err := store.migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	logger.Debug("ledger opened",
		logging.String("driver", store.d.String()),
		logging.String("path", store.path),
	)
	return store, nil
}

func sqliteDSN(path string) string {
	params := url.Values{}
	params.Add("_pragma", "foreign_keys(1)")
	params.Add("_pragma", "busy_timeout(5000)")
	if path != ":memory:" {
		params.Add("_pragma", "journal_mode(WAL)")
	}
	params.Set("_txlock", "immediate")
	return "file:" + filepath.ToSlash(path) + "?" + params.Encode()
}

func openSQLite(ctx context.Context, cfg *config.Config) (*Store, error) {
	path := cfg.Ledger.SQLitePath
	if path == "" {
		path = filepath.Join(cfg.Paths.DataDir, "ledger.db")
	}
	if path != ":memory:" {
		if err := cfg.EnsureDirectories(); err != nil {
			return nil, fmt.Errorf("ensure directories: %w", err)
		}
	}

	db, err := sql.Open("sqlite", sqliteDSN(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if path == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	} else if cfg.Ledger.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.Ledger.MaxOpenConns)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	return &Store{reader: reader{q: db, d: dialectSQLite}, db: db, path: path}, nil
}

func openPostgres(ctx context.Context, cfg *config.Config) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.Ledger.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.Ledger.MaxOpenConns > 0 {
		poolCfg.MaxConns = int32(cfg.Ledger.MaxOpenConns)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	db := stdlib.OpenDBFromPool(pool)
	return &Store{
		reader: reader{q: db, d: dialectPostgres},
		db:     db,
		pool:   pool,
		path:   poolCfg.ConnConfig.Host + "/" + poolCfg.ConnConfig.Database,
	}, nil
}

// Close releases the database handle and, for Postgres, the pool.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	err := s.db.Close()
	if s.pool != nil {
		s.pool.Close()
	}
	return err
}

// Driver reports the backend in use.
func (s *Store) Driver() string { return s.d.String() }

// Ping verifies the backend is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ensureContext(ctx))
}

// WithTx runs fn inside a transaction and commits when it returns nil. Busy,
// serialization, and Retryable-marked failures rerun fn from scratch, so fn
// must not keep side effects outside the transaction.
func (s *Store) WithTx(ctx context.Context, fn func(*Tx) error) error {
	ctx = ensureContext(ctx)
	attempts, err := retryTx(ctx, s.retries, func() error {
		return s.runTx(ctx, fn)
	})
	if err == nil {
		return nil
	}
	if IsRetryable(err) {
		s.logger.Warn("ledger transaction retries exhausted",
			logging.Int("attempts", attempts),
			logging.Error(err),
			logging.String(logging.FieldEventType, "ledger_retry_exhausted"),
		)
		if isSQLiteBusy(err) {
			return &Error{Kind: KindStorage, Op: "ledger.tx", Message: "database busy", Cause: err}
		}
		return &Error{Kind: KindConflict, Op: "ledger.tx", Message: "concurrent update; retry the request", Cause: err}
	}
	return err
}

func (s *Store) runTx(ctx context.Context, fn func(*Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		if IsRetryable(err) {
			return err
		}
		return storageError("ledger.begin", err)
	}
	tx := &Tx{reader: reader{q: sqlTx, d: s.d}, tx: sqlTx, now: s.now()}
	if err := fn(tx); err != nil {
		_ = sqlTx.Rollback()
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		if IsRetryable(err) {
			return err
		}
		return storageError("ledger.commit", err)
	}
	return nil
}
