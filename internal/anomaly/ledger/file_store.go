package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	anomaly "solarwatch/internal/anomaly/domain"
)

// FileStore persists the ledger as a JSON file. Timestamps are stored as
// unix epoch seconds so the file stays readable and zone-independent.
type FileStore struct {
	path string
}

// NewFileStore constructs a file store.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, errors.New("ledger file store: empty path")
	}
	return &FileStore{path: path}, nil
}

type fileEntry struct {
	Plant     string  `json:"plant"`
	Scope     string  `json:"scope"`
	Kind      string  `json:"kind"`
	Timestamp float64 `json:"timestamp"`
	Details   string  `json:"details"`
	Message   string  `json:"message"`
}

// Load reads ledger state from disk. A missing file is an empty ledger,
// not an error.
func (s *FileStore) Load(_ context.Context) (map[anomaly.IssueKey]Entry, error) {
	if s == nil || s.path == "" {
		return nil, errors.New("ledger file store: empty path")
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return make(map[anomaly.IssueKey]Entry), nil
		}
		return nil, err
	}
	var stored []fileEntry
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, err
	}
	entries := make(map[anomaly.IssueKey]Entry, len(stored))
	for _, item := range stored {
		key := anomaly.IssueKey{Plant: item.Plant, Scope: item.Scope, Kind: anomaly.IssueKind(item.Kind)}
		if key.Validate() != nil {
			continue
		}
		seconds := int64(item.Timestamp)
		nanos := int64((item.Timestamp - float64(seconds)) * float64(time.Second))
		entries[key] = Entry{
			Key:        key,
			NotifiedAt: time.Unix(seconds, nanos).UTC(),
			Details:    item.Details,
			Message:    item.Message,
		}
	}
	return entries, nil
}

// Save writes ledger state to disk atomically via a temp file rename.
func (s *FileStore) Save(_ context.Context, entries map[anomaly.IssueKey]Entry) error {
	if s == nil || s.path == "" {
		return errors.New("ledger file store: empty path")
	}
	stored := make([]fileEntry, 0, len(entries))
	for key, entry := range entries {
		stored = append(stored, fileEntry{
			Plant:     key.Plant,
			Scope:     key.Scope,
			Kind:      string(key.Kind),
			Timestamp: float64(entry.NotifiedAt.UnixNano()) / float64(time.Second),
			Details:   entry.Details,
			Message:   entry.Message,
		})
	}
	data, err := json.Marshal(stored)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(s.path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
