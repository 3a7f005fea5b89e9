// Package transcripts implements the transcript store C5: compressed,
// deduplicated storage of raw conversation transcripts keyed by session id,
// plus the shared truncate-for-model helper used before handing transcript
// text to the model client. See spec.md §4.5.
package transcripts

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const truncationMarker = "\n\n...[truncated]...\n\n"

// DefaultMaxChars is the default truncate_for_model budget (spec.md §4.5).
const DefaultMaxChars = 120000

// Store is the transcript store C5, a directory of gzip-compressed files
// named "{session_id}_{yyyymmdd_hhmmss}.txt.gz".
type Store struct {
	dir string
	now func() time.Time
}

// New creates a Store rooted at dir, creating it if necessary.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create transcript directory: %w", err)
	}
	return &Store{dir: dir, now: time.Now}, nil
}

// StoreResult mirrors the {stored, action, size_kb, chars} response shape of
// spec.md §4.5.
type StoreResult struct {
	Stored  bool
	Action  string // "created", "updated", "skipped"
	SizeKB  float64
	Chars   int
}

func compress(text string) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write([]byte(text)); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompress(raw []byte) (string, error) {
	r, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return "", err
	}
	defer r.Close()
	text, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	return string(text), nil
}

// existingFile returns the path of the most recent transcript file for
// sessionID, if any, and its decompressed length in characters.
func (s *Store) existingFile(sessionID string) (path string, chars int, err error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return "", 0, err
	}
	prefix := sessionID + "_"
	var matches []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.HasPrefix(e.Name(), prefix) && strings.HasSuffix(e.Name(), ".txt.gz") {
			matches = append(matches, e.Name())
		}
	}
	if len(matches) == 0 {
		return "", 0, nil
	}
	sort.Strings(matches)
	latest := matches[len(matches)-1]
	full := filepath.Join(s.dir, latest)
	raw, err := os.ReadFile(full)
	if err != nil {
		return "", 0, err
	}
	text, err := decompress(raw)
	if err != nil {
		return "", 0, err
	}
	return full, len(text), nil
}

// Store persists text for sessionID. If an existing file for this session
// exists and text is no longer than it, the write is skipped (the
// conversation-continued heuristic of spec.md §4.5: shorter or equal content
// means a stale resend, not new material). Otherwise the previous file is
// replaced by a newly timestamped one.
func (s *Store) Store(sessionID, text string) (StoreResult, error) {
	existingPath, existingChars, err := s.existingFile(sessionID)
	if err != nil {
		return StoreResult{}, err
	}
	if existingPath != "" && len(text) <= existingChars {
		return StoreResult{Stored: false, Action: "skipped", Chars: len(text)}, nil
	}

	compressed, err := compress(text)
	if err != nil {
		return StoreResult{}, fmt.Errorf("compress transcript: %w", err)
	}

	filename := fmt.Sprintf("%s_%s.txt.gz", sessionID, s.now().UTC().Format("20060102_150405"))
	target := filepath.Join(s.dir, filename)
	if err := os.WriteFile(target, compressed, 0644); err != nil {
		return StoreResult{}, fmt.Errorf("write transcript: %w", err)
	}

	action := "created"
	if existingPath != "" {
		action = "updated"
		if existingPath != target {
			if err := os.Remove(existingPath); err != nil {
				return StoreResult{}, fmt.Errorf("remove stale transcript: %w", err)
			}
		}
	}

	return StoreResult{
		Stored: true,
		Action: action,
		SizeKB: float64(len(compressed)) / 1024,
		Chars:  len(text),
	}, nil
}

// Load decompresses and returns the latest stored transcript for sessionID.
func (s *Store) Load(sessionID string) (string, bool, error) {
	path, _, err := s.existingFile(sessionID)
	if err != nil {
		return "", false, err
	}
	if path == "" {
		return "", false, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", false, err
	}
	text, err := decompress(raw)
	if err != nil {
		return "", false, err
	}
	return text, true, nil
}

// TruncateForModel returns text unchanged if it is within maxChars, else
// returns the first half, a fixed marker, and the last half, each half sized
// maxChars/2 (spec.md §4.5).
func TruncateForModel(text string, maxChars int) string {
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	if len(text) <= maxChars {
		return text
	}
	half := maxChars / 2
	return text[:half] + truncationMarker + text[len(text)-half:]
}
