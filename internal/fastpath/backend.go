package fastpath

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// errMiss reports that a batch has no status blob in the backend.
var errMiss = errors.New("fastpath: entry not cached")

// backend stores status blobs and marker maps. Implementations must make
// putMarker merge-safe across concurrent writers.
type backend interface {
	name() string
	loadStatus(ctx context.Context, id uuid.UUID) (statusBlob, error)
	saveStatus(ctx context.Context, id uuid.UUID, blob statusBlob) error
	putMarker(ctx context.Context, id uuid.UUID, code string, marker Marker) error
	markers(ctx context.Context, id uuid.UUID) (map[string]Marker, error)
	replace(ctx context.Context, entry *Entry) error
	remove(ctx context.Context, id uuid.UUID) error
	close() error
}

// noneBackend caches nothing; every read falls through to the Source.
type noneBackend struct{}

func (noneBackend) name() string { return "none" }

func (noneBackend) loadStatus(context.Context, uuid.UUID) (statusBlob, error) {
	return statusBlob{}, errMiss
}

func (noneBackend) saveStatus(context.Context, uuid.UUID, statusBlob) error { return nil }

func (noneBackend) putMarker(context.Context, uuid.UUID, string, Marker) error { return nil }

func (noneBackend) markers(context.Context, uuid.UUID) (map[string]Marker, error) {
	return map[string]Marker{}, nil
}

func (noneBackend) replace(context.Context, *Entry) error { return nil }

func (noneBackend) remove(context.Context, uuid.UUID) error { return nil }

func (noneBackend) close() error { return nil }
