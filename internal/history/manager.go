package history

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mmeerrkkaa/openrouter-kit/pkg/orkit"
)

type cacheEntry struct {
	entries    []orkit.HistoryEntry
	lastAccess time.Time
	createdAt  time.Time
}

// ManagerConfig configures the unified history manager's cache behavior.
type ManagerConfig struct {
	// TTL is how long a cache entry may go unaccessed before it is
	// considered stale. Zero disables TTL eviction (cache forever).
	TTL time.Duration

	// CleanupInterval is how often the background sweep runs. The sweep
	// only starts if both TTL and CleanupInterval are positive.
	CleanupInterval time.Duration

	// MaxEntries truncates the oldest entries of a key's history once
	// exceeded, keeping the newest MaxEntries. Zero disables truncation.
	MaxEntries int
}

// Manager wraps a Store with a write-through in-memory cache keyed by
// history key, with optional TTL-based eviction.
type Manager struct {
	mu      sync.Mutex
	store   Store
	cfg     ManagerConfig
	cache   map[string]*cacheEntry
	logger  *slog.Logger
	stopCh  chan struct{}
	closed  bool
	wg      sync.WaitGroup
}

// NewManager constructs a Manager over store. A nil logger defaults to
// slog.Default(). If both cfg.TTL and cfg.CleanupInterval are positive, a
// background sweep goroutine starts immediately; stop it via Close.
func NewManager(store Store, cfg ManagerConfig, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		store:  store,
		cfg:    cfg,
		cache:  make(map[string]*cacheEntry),
		logger: logger,
		stopCh: make(chan struct{}),
	}
	if cfg.TTL > 0 && cfg.CleanupInterval > 0 {
		m.wg.Add(1)
		go m.sweepLoop()
	}
	return m
}

func (m *Manager) sweepLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

func (m *Manager) sweep() {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	for key, entry := range m.cache {
		if now.Sub(entry.lastAccess) > m.cfg.TTL {
			delete(m.cache, key)
		}
	}
}

func (m *Manager) fresh(entry *cacheEntry) bool {
	if m.cfg.TTL <= 0 {
		return true
	}
	return time.Since(entry.lastAccess) <= m.cfg.TTL
}

func (m *Manager) truncate(entries []orkit.HistoryEntry) []orkit.HistoryEntry {
	if m.cfg.MaxEntries <= 0 || len(entries) <= m.cfg.MaxEntries {
		return entries
	}
	excess := len(entries) - m.cfg.MaxEntries
	return entries[excess:]
}

// GetEntries returns a copy of the entries for key, loading from the
// store and populating the cache on a miss or stale hit.
func (m *Manager) GetEntries(ctx context.Context, key string) ([]orkit.HistoryEntry, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		m.logger.Warn("history manager used after close", "op", "GetEntries")
		return []orkit.HistoryEntry{}, nil
	}
	entry, ok := m.cache[key]
	if ok && m.fresh(entry) {
		entry.lastAccess = time.Now()
		out := orkit.CloneEntries(entry.entries)
		m.mu.Unlock()
		return out, nil
	}
	m.mu.Unlock()

	loaded, err := m.store.Load(ctx, key)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	m.mu.Lock()
	m.cache[key] = &cacheEntry{entries: loaded, lastAccess: now, createdAt: now}
	m.mu.Unlock()
	return orkit.CloneEntries(loaded), nil
}

// GetMessages projects GetEntries' result down to the bare messages.
func (m *Manager) GetMessages(ctx context.Context, key string) ([]orkit.Message, error) {
	entries, err := m.GetEntries(ctx, key)
	if err != nil {
		return nil, err
	}
	out := make([]orkit.Message, len(entries))
	for i, e := range entries {
		out[i] = e.Message
	}
	return out, nil
}

// AddEntries appends newEntries to key's history (loading+caching first
// if not already cached) and persists the full resulting list. On a
// store error, the cache still reflects the attempted append, but the
// error is returned to the caller.
func (m *Manager) AddEntries(ctx context.Context, key string, newEntries []orkit.HistoryEntry) error {
	existing, err := m.GetEntries(ctx, key)
	if err != nil {
		return err
	}
	merged := m.truncate(append(existing, orkit.CloneEntries(newEntries)...))

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		m.logger.Warn("history manager used after close", "op", "AddEntries")
		return nil
	}
	now := time.Now()
	m.cache[key] = &cacheEntry{entries: orkit.CloneEntries(merged), lastAccess: now, createdAt: now}
	m.mu.Unlock()

	return m.store.Save(ctx, key, merged)
}

// Clear resets key's history to empty in both cache and store.
func (m *Manager) Clear(ctx context.Context, key string) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.cache[key] = &cacheEntry{entries: []orkit.HistoryEntry{}, lastAccess: time.Now(), createdAt: time.Now()}
	m.mu.Unlock()
	return m.store.Save(ctx, key, []orkit.HistoryEntry{})
}

// Delete removes key from both cache and store.
func (m *Manager) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	delete(m.cache, key)
	m.mu.Unlock()
	return m.store.Delete(ctx, key)
}

// ListKeys delegates to the underlying store.
func (m *Manager) ListKeys(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return []string{}, nil
	}
	return m.store.ListKeys(ctx)
}

// Close stops the background sweep, clears the cache, and closes the
// underlying store. After Close, all operations fail silently (logging
// a warning) or return empty results.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.cache = make(map[string]*cacheEntry)
	m.mu.Unlock()

	close(m.stopCh)
	m.wg.Wait()
	return m.store.Close()
}
