package ledger

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/flock"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"cratetrail/internal/logging"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrationFiles embed.FS

// MigrationLockPath is the advisory lock file guarding SQLite migrations.
func MigrationLockPath(dbPath string) string {
	return dbPath + ".migrate.lock"
}

func (s *Store) migrate(ctx context.Context) error {
	if s.d == dialectSQLite && s.path != ":memory:" {
		lock := flock.New(MigrationLockPath(s.path))
		locked, err := lock.TryLockContext(ctx, 50*time.Millisecond)
		if err != nil {
			return fmt.Errorf("acquire migration lock: %w", err)
		}
		if !locked {
			return errors.New("acquire migration lock: not acquired")
		}
		defer func() { _ = lock.Unlock() }()
	}

	var (
		driver database.Driver
		dir    string
		err    error
	)
	switch s.d {
	case dialectPostgres:
		driver, err = migratepgx.WithInstance(s.db, &migratepgx.Config{})
		dir = "migrations/postgres"
	default:
		driver, err = sqlite.WithInstance(s.db, &sqlite.Config{})
		dir = "migrations/sqlite"
	}
	if err != nil {
		return fmt.Errorf("initialise migrate driver: %w", err)
	}

	source, err := iofs.New(migrationFiles, dir)
	if err != nil {
		return fmt.Errorf("load embedded migrations: %w", err)
	}
	defer func() { _ = source.Close() }()

	// The migrator is not closed: its database driver would close s.db.
	migrator, err := migrate.NewWithInstance("iofs", source, s.d.String(), driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	if err := migrator.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	if version, dirty, verr := migrator.Version(); verr == nil {
		s.logger.Debug("ledger schema ready",
			logging.Int64("schema_version", int64(version)),
			logging.Bool("dirty", dirty),
		)
	}
	return nil
}

// SchemaVersion reports the applied migration version.
func (s *Store) SchemaVersion(ctx context.Context) (int64, error) {
	var version int64
	err := s.queryRow(ensureContext(ctx), `SELECT version FROM schema_migrations LIMIT 1`).Scan(&version)
	if err != nil {
		return 0, storageError("ledger.schema_version", err)
	}
	return version, nil
}
