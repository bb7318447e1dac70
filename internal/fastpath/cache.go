package fastpath

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"cratetrail/internal/config"
	"cratetrail/internal/logging"
)

// Source produces an authoritative snapshot of a batch's progress.
type Source interface {
	Snapshot(ctx context.Context, batchID uuid.UUID) (*Entry, error)
}

// Cache is the fast-path projection. A nil *Cache is valid and caches nothing.
type Cache struct {
	backend backend
	source  Source
	logger  *slog.Logger
	group   singleflight.Group
}

// Option customises a Cache built by Open.
type Option func(*options)

type options struct {
	badgerInMemory bool
	redisClient    redis.UniversalClient
}

// WithBadgerInMemory keeps the Badger backend off disk.
func WithBadgerInMemory() Option {
	return func(o *options) { o.badgerInMemory = true }
}

// WithRedisClient uses an existing client instead of dialing cache.redis_addr.
func WithRedisClient(client redis.UniversalClient) Option {
	return func(o *options) { o.redisClient = client }
}

// Open builds the cache selected by cfg.Cache.Backend.
func Open(ctx context.Context, cfg *config.Config, source Source, logger *slog.Logger, opts ...Option) (*Cache, error) {
	if cfg == nil {
		return nil, errors.New("fastpath: config is nil")
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	keys := keyspace{prefix: cfg.Cache.KeyPrefix}

	var b backend
	switch cfg.Cache.Backend {
	case config.CacheNone:
		b = noneBackend{}
	case config.CacheBadger:
		bb, err := openBadger(cfg.Cache.BadgerDir, o.badgerInMemory, keys)
		if err != nil {
			return nil, err
		}
		b = bb
	case config.CacheRedis:
		client := o.redisClient
		if client == nil {
			client = redis.NewClient(&redis.Options{
				Addr:     cfg.Cache.RedisAddr,
				Password: cfg.Cache.RedisPassword,
				DB:       cfg.Cache.RedisDB,
			})
			if err := client.Ping(ctx).Err(); err != nil {
				_ = client.Close()
				return nil, fmt.Errorf("ping redis %s: %w", cfg.Cache.RedisAddr, err)
			}
		}
		b = newRedisBackend(client, keys)
	default:
		b = newMemoryBackend()
	}
	return newCache(b, source, logger), nil
}

// NewMemory returns an in-process cache, mainly for tests and single-shot CLI use.
func NewMemory(source Source, logger *slog.Logger) *Cache {
	return newCache(newMemoryBackend(), source, logger)
}

func newCache(b backend, source Source, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Cache{
		backend: b,
		source:  source,
		logger:  logging.NewComponentLogger(logger, "fastpath").With(logging.String("backend", b.name())),
	}
}

// Backend names the storage in use.
func (c *Cache) Backend() string {
	if c == nil {
		return "none"
	}
	return c.backend.name()
}

// Close releases backend resources.
func (c *Cache) Close() error {
	if c == nil {
		return nil
	}
	return c.backend.close()
}

// Init stores a fresh entry with no markers.
func (c *Cache) Init(ctx context.Context, batchID uuid.UUID, totalCrates int) {
	if c == nil {
		return
	}
	entry := &Entry{BatchID: batchID, TotalCrates: totalCrates, Markers: map[string]Marker{}}
	c.writeFailed(c.backend.replace(ctx, entry), "init", batchID)
}

// RecordReconciled adds a marker for code. The marker is written even when
// the batch has no status blob yet, so a rebuild that snapshotted the ledger
// before this scan committed still picks it up when it writes back.
func (c *Cache) RecordReconciled(ctx context.Context, batchID uuid.UUID, code string, marker Marker) {
	if c == nil {
		return
	}
	if marker.At.IsZero() {
		marker.At = time.Now().UTC()
	}
	c.writeFailed(c.backend.putMarker(ctx, batchID, code, marker), "record_reconciled", batchID)
}

// UpdateTotalCrates overwrites the expected crate count.
func (c *Cache) UpdateTotalCrates(ctx context.Context, batchID uuid.UUID, total int) {
	if c == nil {
		return
	}
	c.mutateStatus(ctx, batchID, "update_total_crates", func(blob *statusBlob) {
		blob.TotalCrates = total
	})
}

// CloseBatch flags the entry closed.
func (c *Cache) CloseBatch(ctx context.Context, batchID uuid.UUID, at time.Time, by string) {
	if c == nil {
		return
	}
	c.mutateStatus(ctx, batchID, "close", func(blob *statusBlob) {
		closedAt := at.UTC()
		blob.Closed = true
		blob.ClosedAt = &closedAt
		blob.ClosedBy = by
	})
}

// Invalidate drops the entry and its markers so the next read rebuilds it.
func (c *Cache) Invalidate(ctx context.Context, batchID uuid.UUID) {
	if c == nil {
		return
	}
	c.writeFailed(c.backend.remove(ctx, batchID), "invalidate", batchID)
}

// Status returns the cached entry, rebuilding it from the Source on a miss.
// Backend failures fall back to a fresh Source snapshot; Source failures are
// returned.
func (c *Cache) Status(ctx context.Context, batchID uuid.UUID) (*Entry, error) {
	if c == nil {
		return nil, errors.New("fastpath: cache disabled")
	}
	blob, err := c.backend.loadStatus(ctx, batchID)
	if err == nil {
		markers, merr := c.backend.markers(ctx, batchID)
		if merr == nil {
			return entryFrom(batchID, blob, markers), nil
		}
		err = merr
	}
	if !errors.Is(err, errMiss) {
		logging.WarnWithContext(c.logger, "fastpath read failed; using ledger", "fastpath_read_failed",
			logging.String(logging.FieldBatchID, batchID.String()),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check cache backend connectivity"),
		)
		return c.snapshot(ctx, batchID)
	}
	return c.Rebuild(ctx, batchID)
}

// Rebuild writes a fresh Source snapshot over the entry. Markers already in
// the backend are kept, since reconciliation never reverts and a scan may
// have landed between the snapshot and the write. Concurrent rebuilds of one
// batch share a single snapshot.
func (c *Cache) Rebuild(ctx context.Context, batchID uuid.UUID) (*Entry, error) {
	if c == nil {
		return nil, errors.New("fastpath: cache disabled")
	}
	v, err, _ := c.group.Do(batchID.String(), func() (any, error) {
		entry, err := c.snapshot(ctx, batchID)
		if err != nil {
			return nil, err
		}
		if err := c.backend.replace(ctx, entry); err != nil {
			c.writeFailed(err, "rebuild", batchID)
		} else if stored, err := c.backend.markers(ctx, batchID); err == nil {
			for code, marker := range stored {
				if _, ok := entry.Markers[code]; !ok {
					entry.Markers[code] = marker
				}
			}
			entry.ReconciledCount = len(entry.Markers)
		}
		c.logger.Debug("fastpath entry rebuilt",
			logging.String(logging.FieldBatchID, batchID.String()),
			logging.Int("total_crates", entry.TotalCrates),
			logging.Int("reconciled_count", entry.ReconciledCount),
		)
		return entry, nil
	})
	if err != nil {
		return nil, err
	}
	return cloneEntry(v.(*Entry)), nil
}

func (c *Cache) snapshot(ctx context.Context, batchID uuid.UUID) (*Entry, error) {
	if c.source == nil {
		return nil, errors.New("fastpath: no source configured")
	}
	entry, err := c.source.Snapshot(ctx, batchID)
	if err != nil {
		return nil, err
	}
	entry.BatchID = batchID
	if entry.Markers == nil {
		entry.Markers = map[string]Marker{}
	}
	entry.ReconciledCount = len(entry.Markers)
	return entry, nil
}

func (c *Cache) mutateStatus(ctx context.Context, batchID uuid.UUID, op string, mutate func(*statusBlob)) {
	blob, err := c.backend.loadStatus(ctx, batchID)
	if errors.Is(err, errMiss) {
		return
	}
	if err != nil {
		c.writeFailed(err, op, batchID)
		return
	}
	mutate(&blob)
	c.writeFailed(c.backend.saveStatus(ctx, batchID, blob), op, batchID)
}

func (c *Cache) writeFailed(err error, op string, batchID uuid.UUID) {
	if err == nil {
		return
	}
	logging.WarnWithContext(c.logger, "fastpath write failed", "fastpath_write_failed",
		logging.String("op", op),
		logging.String(logging.FieldBatchID, batchID.String()),
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "cache will be rebuilt from the ledger on next read"),
		logging.String(logging.FieldImpact, "progress reads may hit the ledger"),
	)
}

func cloneEntry(e *Entry) *Entry {
	out := *e
	out.Markers = make(map[string]Marker, len(e.Markers))
	for k, v := range e.Markers {
		out.Markers[k] = v
	}
	return &out
}
