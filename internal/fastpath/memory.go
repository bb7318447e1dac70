package fastpath

import (
	"context"
	"maps"
	"sync"

	"github.com/google/uuid"
)

type memoryEntry struct {
	blob    statusBlob
	hasBlob bool
	markers map[string]Marker
}

// memoryBackend keeps entries in process memory.
type memoryBackend struct {
	mu      sync.RWMutex
	entries map[uuid.UUID]*memoryEntry
}

func newMemoryBackend() *memoryBackend {
	return &memoryBackend{entries: make(map[uuid.UUID]*memoryEntry)}
}

func (m *memoryBackend) name() string { return "memory" }

func (m *memoryBackend) loadStatus(_ context.Context, id uuid.UUID) (statusBlob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.entries[id]
	if !ok || !entry.hasBlob {
		return statusBlob{}, errMiss
	}
	blob := entry.blob
	blob.ReconciledCount = len(entry.markers)
	return blob, nil
}

func (m *memoryBackend) saveStatus(_ context.Context, id uuid.UUID, blob statusBlob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry := m.ensure(id)
	entry.blob = blob
	entry.hasBlob = true
	return nil
}

func (m *memoryBackend) putMarker(_ context.Context, id uuid.UUID, code string, marker Marker) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry := m.ensure(id)
	entry.markers[code] = marker
	entry.blob.ReconciledCount = len(entry.markers)
	return nil
}

func (m *memoryBackend) markers(_ context.Context, id uuid.UUID) (map[string]Marker, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.entries[id]
	if !ok {
		return map[string]Marker{}, nil
	}
	return maps.Clone(entry.markers), nil
}

func (m *memoryBackend) replace(_ context.Context, e *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry := m.ensure(e.BatchID)
	maps.Copy(entry.markers, e.Markers)
	entry.blob = e.blob()
	entry.blob.ReconciledCount = len(entry.markers)
	entry.hasBlob = true
	return nil
}

func (m *memoryBackend) remove(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, id)
	return nil
}

func (m *memoryBackend) close() error { return nil }

// ensure must be called with m.mu held for writing.
func (m *memoryBackend) ensure(id uuid.UUID) *memoryEntry {
	entry, ok := m.entries[id]
	if !ok {
		entry = &memoryEntry{markers: map[string]Marker{}}
		m.entries[id] = entry
	}
	return entry
}
