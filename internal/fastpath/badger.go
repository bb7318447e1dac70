package fastpath

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

// badgerBackend persists entries in an embedded Badger store. Markers are
// one key each under the crates key, so concurrent writers merge.
type badgerBackend struct {
	db   *badger.DB
	keys keyspace
}

func openBadger(dir string, inMemory bool, keys keyspace) (*badgerBackend, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if inMemory {
		opts = badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &badgerBackend{db: db, keys: keys}, nil
}

func (b *badgerBackend) name() string { return "badger" }

func (b *badgerBackend) loadStatus(_ context.Context, id uuid.UUID) (statusBlob, error) {
	var blob statusBlob
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(b.keys.status(id)))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return errMiss
			}
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &blob)
		})
	})
	return blob, err
}

func (b *badgerBackend) saveStatus(_ context.Context, id uuid.UUID, blob statusBlob) error {
	payload, err := json.Marshal(blob)
	if err != nil {
		return err
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(b.keys.status(id)), payload)
	})
}

func (b *badgerBackend) putMarker(_ context.Context, id uuid.UUID, code string, marker Marker) error {
	payload, err := json.Marshal(marker)
	if err != nil {
		return err
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(b.keys.crate(id, code)), payload)
	})
}

func (b *badgerBackend) markers(_ context.Context, id uuid.UUID) (map[string]Marker, error) {
	out := map[string]Marker{}
	prefix := b.keys.crates(id) + ":"
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			code := strings.TrimPrefix(string(item.Key()), prefix)
			var marker Marker
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &marker)
			}); err != nil {
				return err
			}
			out[code] = marker
		}
		return nil
	})
	return out, err
}

// replace overwrites the status key and sets every snapshot marker. Marker
// keys already present are left in place.
func (b *badgerBackend) replace(_ context.Context, e *Entry) error {
	wb := b.db.NewWriteBatch()
	defer wb.Cancel()
	for code, marker := range e.Markers {
		payload, err := json.Marshal(marker)
		if err != nil {
			return err
		}
		if err := wb.Set([]byte(b.keys.crate(e.BatchID, code)), payload); err != nil {
			return err
		}
	}
	payload, err := json.Marshal(e.blob())
	if err != nil {
		return err
	}
	// The status key goes last so readers never see a blob without its markers.
	if err := wb.Set([]byte(b.keys.status(e.BatchID)), payload); err != nil {
		return err
	}
	return wb.Flush()
}

func (b *badgerBackend) remove(_ context.Context, id uuid.UUID) error {
	return b.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete([]byte(b.keys.status(id))); err != nil {
			return err
		}
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(b.keys.crates(id) + ":")
		it := txn.NewIterator(opts)
		defer it.Close()
		var keys [][]byte
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		for _, key := range keys {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *badgerBackend) close() error {
	return b.db.Close()
}
