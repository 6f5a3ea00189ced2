// Package history implements the pluggable history storage adapters
// (C3) and the write-through caching manager built on top of them (C4).
package history

import (
	"context"

	"github.com/mmeerrkkaa/openrouter-kit/pkg/orkit"
)

// Store persists the ordered history entries for a key. Implementations
// must treat the entry list passed to Save as authoritative (replace-all
// semantics), must return an empty (not nil-error) list for an absent
// key, and must never hand callers a slice backed by adapter-owned
// memory — always a copy.
type Store interface {
	Load(ctx context.Context, key string) ([]orkit.HistoryEntry, error)
	Save(ctx context.Context, key string, entries []orkit.HistoryEntry) error
	Delete(ctx context.Context, key string) error
	ListKeys(ctx context.Context) ([]string, error)
	Close() error
}
