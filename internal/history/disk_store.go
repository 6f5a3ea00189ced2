package history

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/mmeerrkkaa/openrouter-kit/pkg/orkit"
)

const diskFilePrefix = "orkit_history_"
const diskFileSuffix = ".json"

var unsafeKeyChars = regexp.MustCompile(`[^A-Za-z0-9_.\-:]`)

// sanitizeFileName replaces any character outside [A-Za-z0-9_.\-:] with
// "_". Exact recovery of the original key from the resulting filename is
// not guaranteed and not required.
func sanitizeFileName(key string) string {
	return unsafeKeyChars.ReplaceAllString(key, "_")
}

// DiskStore persists one JSON file per sanitized key under Dir, created
// lazily on first write.
type DiskStore struct {
	mu     sync.Mutex
	dir    string
	logger *slog.Logger
}

// NewDiskStore constructs a DiskStore rooted at dir. A nil logger
// defaults to slog.Default().
func NewDiskStore(dir string, logger *slog.Logger) *DiskStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &DiskStore{dir: dir, logger: logger}
}

func (s *DiskStore) pathFor(key string) string {
	return filepath.Join(s.dir, diskFilePrefix+sanitizeFileName(key)+diskFileSuffix)
}

// legacyMessage is the shape of a bare message array some on-disk files
// predate history entries with.
type legacyMessage struct {
	Role    orkit.Role `json:"role"`
	Content *string    `json:"content"`
}

func looksLikeLegacyShape(raw json.RawMessage) bool {
	var probe struct {
		Role    *string         `json:"role"`
		Message json.RawMessage `json:"message"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return false
	}
	return probe.Role != nil && probe.Message == nil
}

// Load reads the file for key, lifting a legacy bare-message array into
// entries with nil metadata when detected by shape. An absent file
// returns an empty list, not an error.
func (s *DiskStore) Load(ctx context.Context, key string) ([]orkit.HistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(s.pathFor(key))
	if err != nil {
		if os.IsNotExist(err) {
			return []orkit.HistoryEntry{}, nil
		}
		return nil, err
	}
	if len(raw) == 0 {
		return []orkit.HistoryEntry{}, nil
	}

	var probe []json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, err
	}

	entries := make([]orkit.HistoryEntry, 0, len(probe))
	legacyCount := 0
	for _, item := range probe {
		if looksLikeLegacyShape(item) {
			var msg legacyMessage
			if err := json.Unmarshal(item, &msg); err != nil {
				return nil, err
			}
			entries = append(entries, orkit.HistoryEntry{
				Message:  orkit.Message{Role: msg.Role, Content: msg.Content},
				Metadata: nil,
			})
			legacyCount++
			continue
		}
		var entry orkit.HistoryEntry
		if err := json.Unmarshal(item, &entry); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if legacyCount > 0 {
		s.logger.Warn("lifted legacy bare-message history file", "key", key, "count", legacyCount)
	}
	return entries, nil
}

// Save writes entries to the file for key via a temp-file-then-rename
// sequence so a reader never observes a partially written file.
func (s *DiskStore) Save(ctx context.Context, key string, entries []orkit.HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return err
	}
	payload, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	target := s.pathFor(key)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, target)
}

// Delete removes the file for key, if present.
func (s *DiskStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := os.Remove(s.pathFor(key))
	if err != nil && os.IsNotExist(err) {
		return nil
	}
	return err
}

// ListKeys cannot recover original keys from sanitized filenames, so it
// returns the sanitized stems instead.
func (s *DiskStore) ListKeys(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, err
	}
	var keys []string
	for _, e := range entries {
		name := e.Name()
		if len(name) > len(diskFilePrefix)+len(diskFileSuffix) &&
			name[:len(diskFilePrefix)] == diskFilePrefix {
			stem := name[len(diskFilePrefix) : len(name)-len(diskFileSuffix)]
			keys = append(keys, stem)
		}
	}
	return keys, nil
}

// Close is a no-op for DiskStore.
func (s *DiskStore) Close() error { return nil }
