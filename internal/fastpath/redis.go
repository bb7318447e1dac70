package fastpath

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// redisBackend shares entries across processes. Markers live in a hash so
// HSET from concurrent writers merges field by field.
type redisBackend struct {
	client redis.UniversalClient
	keys   keyspace
}

func newRedisBackend(client redis.UniversalClient, keys keyspace) *redisBackend {
	return &redisBackend{client: client, keys: keys}
}

func (r *redisBackend) name() string { return "redis" }

func (r *redisBackend) loadStatus(ctx context.Context, id uuid.UUID) (statusBlob, error) {
	var blob statusBlob
	raw, err := r.client.Get(ctx, r.keys.status(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return blob, errMiss
		}
		return blob, err
	}
	if err := json.Unmarshal(raw, &blob); err != nil {
		return blob, fmt.Errorf("decode status blob: %w", err)
	}
	return blob, nil
}

func (r *redisBackend) saveStatus(ctx context.Context, id uuid.UUID, blob statusBlob) error {
	payload, err := json.Marshal(blob)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, r.keys.status(id), payload, 0).Err()
}

func (r *redisBackend) putMarker(ctx context.Context, id uuid.UUID, code string, marker Marker) error {
	payload, err := json.Marshal(marker)
	if err != nil {
		return err
	}
	return r.client.HSet(ctx, r.keys.crates(id), code, payload).Err()
}

func (r *redisBackend) markers(ctx context.Context, id uuid.UUID) (map[string]Marker, error) {
	fields, err := r.client.HGetAll(ctx, r.keys.crates(id)).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]Marker, len(fields))
	for code, raw := range fields {
		var marker Marker
		if err := json.Unmarshal([]byte(raw), &marker); err != nil {
			return nil, fmt.Errorf("decode marker %s: %w", code, err)
		}
		out[code] = marker
	}
	return out, nil
}

// replace merges the snapshot markers into the hash and overwrites the
// status key in one MULTI block.
func (r *redisBackend) replace(ctx context.Context, e *Entry) error {
	blob, err := json.Marshal(e.blob())
	if err != nil {
		return err
	}
	values := make([]any, 0, len(e.Markers)*2)
	for code, marker := range e.Markers {
		payload, err := json.Marshal(marker)
		if err != nil {
			return err
		}
		values = append(values, code, payload)
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if len(values) > 0 {
			pipe.HSet(ctx, r.keys.crates(e.BatchID), values...)
		}
		pipe.Set(ctx, r.keys.status(e.BatchID), blob, 0)
		return nil
	})
	return err
}

func (r *redisBackend) remove(ctx context.Context, id uuid.UUID) error {
	return r.client.Del(ctx, r.keys.status(id), r.keys.crates(id)).Err()
}

func (r *redisBackend) close() error {
	return r.client.Close()
}
