package history

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/mmeerrkkaa/openrouter-kit/pkg/orkit"
)

// RemoteStore adapts a remote key-value HTTP service to the Store
// interface: GET/PUT/DELETE {BaseURL}/{key} with a JSON entry-array body,
// and GET {BaseURL} for a key listing.
type RemoteStore struct {
	BaseURL string
	HTTP    *http.Client
}

// NewRemoteStore constructs a RemoteStore. A nil client defaults to
// http.DefaultClient.
func NewRemoteStore(baseURL string, client *http.Client) *RemoteStore {
	if client == nil {
		client = http.DefaultClient
	}
	return &RemoteStore{BaseURL: baseURL, HTTP: client}
}

func (s *RemoteStore) keyURL(key string) string {
	return s.BaseURL + "/" + url.PathEscape(key)
}

// Load fetches entries for key. A 404 response is treated as an absent
// key and returns an empty list, not an error.
func (s *RemoteStore) Load(ctx context.Context, key string) ([]orkit.HistoryEntry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.keyURL(key), nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return []orkit.HistoryEntry{}, nil
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("remote history store: unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if len(body) == 0 {
		return []orkit.HistoryEntry{}, nil
	}
	var entries []orkit.HistoryEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// Save replaces the remote key's stored entries.
func (s *RemoteStore) Save(ctx context.Context, key string, entries []orkit.HistoryEntry) error {
	payload, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, s.keyURL(key), bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("remote history store: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// Delete removes the remote key.
func (s *RemoteStore) Delete(ctx context.Context, key string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, s.keyURL(key), nil)
	if err != nil {
		return err
	}
	resp, err := s.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("remote history store: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// ListKeys fetches the full key listing from the service root.
func (s *RemoteStore) ListKeys(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.BaseURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("remote history store: unexpected status %d", resp.StatusCode)
	}
	var keys []string
	if err := json.NewDecoder(resp.Body).Decode(&keys); err != nil {
		return nil, err
	}
	return keys, nil
}

// Close is a no-op for RemoteStore; the underlying *http.Client is
// caller-owned.
func (s *RemoteStore) Close() error { return nil }
