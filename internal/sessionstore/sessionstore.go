// Package sessionstore is the durable, source-of-truth storage for session
// records referenced throughout spec.md §4.8 and §4.10 as "durable storage".
// Each session is one JSON file, named by its session id.
package sessionstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"eve.evalgo.org/memoryengine/internal/model"
)

// Store is a flat-file JSON store of SessionRecords.
type Store struct {
	dir string
}

// New creates a Store rooted at dir.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create session directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

func sanitize(sessionID string) string {
	replacer := strings.NewReplacer("/", "_", "\\", "_", "..", "_")
	return replacer.Replace(sessionID)
}

func (s *Store) path(sessionID string) string {
	return filepath.Join(s.dir, sanitize(sessionID)+".json")
}

// Save writes record to durable storage, overwriting any prior version.
func (s *Store) Save(record model.SessionRecord) error {
	raw, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session record: %w", err)
	}
	return os.WriteFile(s.path(record.SessionID), raw, 0644)
}

// Load reads a session record; ok is false if it does not exist.
func (s *Store) Load(sessionID string) (model.SessionRecord, bool, error) {
	raw, err := os.ReadFile(s.path(sessionID))
	if os.IsNotExist(err) {
		return model.SessionRecord{}, false, nil
	}
	if err != nil {
		return model.SessionRecord{}, false, err
	}
	var record model.SessionRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return model.SessionRecord{}, false, fmt.Errorf("parse session record %s: %w", sessionID, err)
	}
	return record, true, nil
}

// Path returns the on-disk path for sessionID, used by the worker queue
// entry (session-id, session-file path, enqueue instant).
func (s *Store) Path(sessionID string) string {
	return s.path(sessionID)
}
