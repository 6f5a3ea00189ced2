package history

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/mmeerrkkaa/openrouter-kit/pkg/orkit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiskStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := NewDiskStore(dir, nil)

	entries := []orkit.HistoryEntry{textEntry("hello")}
	require.NoError(t, store.Save(ctx, "user:weird key!", entries))

	loaded, err := store.Load(ctx, "user:weird key!")
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "hello", loaded[0].Message.Text())
}

func TestDiskStoreAbsentKeyReturnsEmpty(t *testing.T) {
	store := NewDiskStore(t.TempDir(), nil)
	entries, err := store.Load(context.Background(), "missing")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestDiskStoreLiftsLegacyBareMessages(t *testing.T) {
	dir := t.TempDir()
	text := "legacy"
	legacy := []legacyMessage{{Role: orkit.RoleUser, Content: &text}}
	payload, err := json.Marshal(legacy)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, diskFilePrefix+"k"+diskFileSuffix), payload, 0o600))

	store := NewDiskStore(dir, nil)
	entries, err := store.Load(context.Background(), "k")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Nil(t, entries[0].Metadata)
	assert.Equal(t, "legacy", entries[0].Message.Text())
}

func TestSanitizeFileName(t *testing.T) {
	assert.Equal(t, "user_weird_key_", sanitizeFileName("user weird key!"))
	assert.Equal(t, "user:123", sanitizeFileName("user:123"))
}
