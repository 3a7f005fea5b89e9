// Package advisory implements the nudge/anomaly store C6: TTL'd,
// deduplicated persistence of proactive advisories, one JSON document per
// kind, capped and priority-ordered. See spec.md §3 ("Nudges and anomalies")
// and §4.6.
package advisory

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"eve.evalgo.org/memoryengine/internal/model"
)

const (
	nudgeCap   = 20
	anomalyCap = 30

	defaultNudgeTTLDays   = 7
	defaultAnomalyTTLDays = 14
)

var priorityRank = map[model.Priority]int{
	model.PriorityHigh:   3,
	model.PriorityMedium: 2,
	model.PriorityLow:    1,
}

var severityRank = map[model.Severity]int{
	model.SeverityCritical: 4,
	model.SeverityHigh:     3,
	model.SeverityMedium:   2,
	model.SeverityLow:      1,
}

// Store persists nudges and anomalies as two single JSON documents on disk.
type Store struct {
	dir string
	now func() time.Time
}

// New creates a Store rooted at dir.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create advisory directory: %w", err)
	}
	return &Store{dir: dir, now: time.Now}, nil
}

func (s *Store) nudgesPath() string   { return filepath.Join(s.dir, "nudges.json") }
func (s *Store) anomaliesPath() string { return filepath.Join(s.dir, "anomalies.json") }

func loadJSON[T any](path string) ([]T, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []T
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func saveJSON[T any](path string, items []T) error {
	if items == nil {
		items = []T{}
	}
	raw, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0644)
}

// tokenSet returns the lowercased whitespace-tokenized set of s.
func tokenSet(s string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, tok := range strings.Fields(strings.ToLower(s)) {
		out[tok] = struct{}{}
	}
	return out
}

// overlapRatio returns the fraction of tokens in b that also appear in a,
// matching spec.md §3's "shares >= 80% of tokens" rule.
func overlapRatio(a, b map[string]struct{}) float64 {
	if len(b) == 0 {
		return 0
	}
	shared := 0
	for tok := range b {
		if _, ok := a[tok]; ok {
			shared++
		}
	}
	return float64(shared) / float64(len(b))
}

// isDuplicate reports whether candidate duplicates existing per spec.md §3:
// identical case-insensitively, or >=80% token overlap in either direction.
func isDuplicate(existing, candidate string) bool {
	if strings.EqualFold(existing, candidate) {
		return true
	}
	a, b := tokenSet(existing), tokenSet(candidate)
	return overlapRatio(a, b) >= 0.8 || overlapRatio(b, a) >= 0.8
}

// StoreNudges applies the C6 store() pipeline to newItems: evict expired,
// drop duplicates of existing active nudges, append, sort high-priority
// first, truncate to cap.
func (s *Store) StoreNudges(sessionID string, newItems []model.Nudge) ([]model.Nudge, error) {
	existing, err := loadJSON[model.Nudge](s.nudgesPath())
	if err != nil {
		return nil, err
	}
	now := s.now()
	active := make([]model.Nudge, 0, len(existing))
	for _, n := range existing {
		if now.Before(n.ExpiresAt) {
			active = append(active, n)
		}
	}

	for _, candidate := range newItems {
		duplicate := false
		for _, existingItem := range active {
			if isDuplicate(existingItem.Message, candidate.Message) {
				duplicate = true
				break
			}
		}
		if duplicate {
			continue
		}
		if candidate.ID == "" {
			candidate.ID = uuid.NewString()
		}
		if candidate.CreatedAt.IsZero() {
			candidate.CreatedAt = now
		}
		if candidate.ExpiresAt.IsZero() {
			candidate.ExpiresAt = now.AddDate(0, 0, defaultNudgeTTLDays)
		}
		active = append(active, candidate)
	}

	sort.SliceStable(active, func(i, j int) bool {
		return priorityRank[active[i].Priority] > priorityRank[active[j].Priority]
	})
	if len(active) > nudgeCap {
		active = active[:nudgeCap]
	}

	if err := saveJSON(s.nudgesPath(), active); err != nil {
		return nil, err
	}
	return active, nil
}

// StoreAnomalies is StoreNudges's counterpart for anomalies.
func (s *Store) StoreAnomalies(sessionID string, newItems []model.Anomaly) ([]model.Anomaly, error) {
	existing, err := loadJSON[model.Anomaly](s.anomaliesPath())
	if err != nil {
		return nil, err
	}
	now := s.now()
	active := make([]model.Anomaly, 0, len(existing))
	for _, a := range existing {
		if now.Before(a.ExpiresAt) {
			active = append(active, a)
		}
	}

	for _, candidate := range newItems {
		duplicate := false
		for _, existingItem := range active {
			if isDuplicate(existingItem.Description, candidate.Description) {
				duplicate = true
				break
			}
		}
		if duplicate {
			continue
		}
		if candidate.ID == "" {
			candidate.ID = uuid.NewString()
		}
		if candidate.CreatedAt.IsZero() {
			candidate.CreatedAt = now
		}
		if candidate.ExpiresAt.IsZero() {
			candidate.ExpiresAt = now.AddDate(0, 0, defaultAnomalyTTLDays)
		}
		active = append(active, candidate)
	}

	sort.SliceStable(active, func(i, j int) bool {
		return severityRank[active[i].Severity] > severityRank[active[j].Severity]
	})
	if len(active) > anomalyCap {
		active = active[:anomalyCap]
	}

	if err := saveJSON(s.anomaliesPath(), active); err != nil {
		return nil, err
	}
	return active, nil
}

// ActiveNudges returns non-expired, non-dismissed nudges.
func (s *Store) ActiveNudges() ([]model.Nudge, error) {
	all, err := loadJSON[model.Nudge](s.nudgesPath())
	if err != nil {
		return nil, err
	}
	now := s.now()
	out := make([]model.Nudge, 0, len(all))
	for _, n := range all {
		if !n.Dismissed && now.Before(n.ExpiresAt) {
			out = append(out, n)
		}
	}
	return out, nil
}

// ActiveAnomalies returns non-expired, non-dismissed anomalies.
func (s *Store) ActiveAnomalies() ([]model.Anomaly, error) {
	all, err := loadJSON[model.Anomaly](s.anomaliesPath())
	if err != nil {
		return nil, err
	}
	now := s.now()
	out := make([]model.Anomaly, 0, len(all))
	for _, a := range all {
		if !a.Dismissed && now.Before(a.ExpiresAt) {
			out = append(out, a)
		}
	}
	return out, nil
}

// DismissNudge marks every nudge whose message contains substr
// (case-insensitive) as dismissed.
func (s *Store) DismissNudge(substr string) (int, error) {
	items, err := loadJSON[model.Nudge](s.nudgesPath())
	if err != nil {
		return 0, err
	}
	needle := strings.ToLower(substr)
	count := 0
	for i := range items {
		if strings.Contains(strings.ToLower(items[i].Message), needle) {
			items[i].Dismissed = true
			count++
		}
	}
	return count, saveJSON(s.nudgesPath(), items)
}

// DismissAnomaly marks every anomaly whose description contains substr
// (case-insensitive) as dismissed.
func (s *Store) DismissAnomaly(substr string) (int, error) {
	items, err := loadJSON[model.Anomaly](s.anomaliesPath())
	if err != nil {
		return 0, err
	}
	needle := strings.ToLower(substr)
	count := 0
	for i := range items {
		if strings.Contains(strings.ToLower(items[i].Description), needle) {
			items[i].Dismissed = true
			count++
		}
	}
	return count, saveJSON(s.anomaliesPath(), items)
}
