package history

import (
	"context"
	"sync"

	"github.com/mmeerrkkaa/openrouter-kit/pkg/orkit"
)

// MemoryStore is an in-process map-backed Store, suitable for tests and
// single-process deployments with no durability requirement.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]orkit.HistoryEntry
}

// NewMemoryStore constructs an empty in-memory history store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]orkit.HistoryEntry)}
}

// Load returns a copy of the entries saved under key, or an empty slice
// if key has never been saved.
func (s *MemoryStore) Load(ctx context.Context, key string) ([]orkit.HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries, ok := s.data[key]
	if !ok {
		return []orkit.HistoryEntry{}, nil
	}
	return orkit.CloneEntries(entries), nil
}

// Save replaces the entries stored under key with a copy of entries.
func (s *MemoryStore) Save(ctx context.Context, key string, entries []orkit.HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = orkit.CloneEntries(entries)
	return nil
}

// Delete removes key entirely.
func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

// ListKeys returns every key with saved entries.
func (s *MemoryStore) ListKeys(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	return keys, nil
}

// Close is a no-op for MemoryStore.
func (s *MemoryStore) Close() error { return nil }
