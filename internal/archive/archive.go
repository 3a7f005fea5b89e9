// Package archive implements the vector archive C3: CRUD and similarity
// search over the eight named collections, pre-write snapshotting, metadata
// cleaning, and retention pruning. See spec.md §4.3.
//
// The actual nearest-neighbor engine is an external collaborator (spec.md
// §1); this package defines a small Backend interface and ships two
// implementations: an HTTPBackend adapter for a real vector database, and a
// boltBackend brute-force fallback (used in tests and single-node
// deployments without an external vector store), following the teacher's
// generic http.Client wrapper (http/client.go) and bbolt helper
// (db/bolt/bolt.go) patterns.
package archive

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"eve.evalgo.org/memoryengine/internal/degradation"
	"eve.evalgo.org/memoryengine/internal/model"
	"eve.evalgo.org/memoryengine/pkg/schema"
)

// Relevance thresholds callers compare distance against (spec.md §4.3).
const (
	ThresholdLoadArchive     = 1.5
	ThresholdFailureWarning  = 1.2
	ThresholdUserSearch      = 1.8
)

// Default retention periods in days, 0 = never prune (spec.md §4.3).
var DefaultRetentionDays = map[string]int{
	schema.CollectionSessions:       180,
	schema.CollectionProjectArchive: 365,
	schema.CollectionDecisions:      365,
	schema.CollectionFailures:       365,
	schema.CollectionEntities:       0,
	schema.CollectionPatterns:       365,
	schema.CollectionSnapshots:      30,
	schema.CollectionAnomalies:      180,
}

// Backend is the minimal nearest-neighbor store interface. Implementations
// must be safe for concurrent use.
type Backend interface {
	Add(ctx context.Context, collection, id, text string, metadata map[string]string) error
	Upsert(ctx context.Context, collection, id, text string, metadata map[string]string) error
	Search(ctx context.Context, collection, query string, n int) ([]model.SearchHit, error)
	Get(ctx context.Context, collection, id string) (model.ArchiveDocument, bool, error)
	Delete(ctx context.Context, collection, id string) error
	List(ctx context.Context, collection string) ([]model.ArchiveDocument, error)
	Count(ctx context.Context, collection string) (int, error)
}

// Store is the vector archive C3, wrapping a Backend with snapshot,
// get-recent, and prune semantics plus degradation-manager notifications.
type Store struct {
	log     *logrus.Logger
	backend Backend
	degrade *degradation.Manager
	now     func() time.Time
}

// New creates a Store over the given Backend.
func New(log *logrus.Logger, backend Backend, degrade *degradation.Manager) *Store {
	return &Store{log: log, backend: backend, degrade: degrade, now: time.Now}
}

// CleanMetadata normalizes arbitrary metadata values to strings per the
// metadata-cleaning contract in spec.md §4.3: primitives pass through
// (after string conversion), arrays serialize to comma-joined text, nil
// becomes empty string, everything else is stringified.
func CleanMetadata(raw map[string]any) map[string]string {
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		out[k] = cleanValue(v)
	}
	return out
}

func cleanValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case []string:
		return strings.Join(t, ",")
	case []any:
		parts := make([]string, len(t))
		for i, e := range t {
			parts[i] = cleanValue(e)
		}
		return strings.Join(parts, ",")
	default:
		return fmt.Sprintf("%v", t)
	}
}

func (s *Store) notifyResult(err error) {
	if err != nil {
		s.degrade.MarkUnhealthy(degradation.DepVectorStore, err)
		return
	}
	s.degrade.MarkHealthy(degradation.DepVectorStore)
}

// Snapshot copies the current document (collection, id) into the snapshots
// collection, using id "{collection}:{doc_id}:{yyyymmddhhmmss}" (spec.md
// §4.3). It is a no-op (not an error) if the document does not exist yet —
// callers snapshot defensively before first writes.
func (s *Store) Snapshot(ctx context.Context, collection, id string) error {
	doc, ok, err := s.backend.Get(ctx, collection, id)
	if err != nil {
		s.notifyResult(err)
		return err
	}
	if !ok {
		s.notifyResult(nil)
		return nil
	}
	snapshotID := fmt.Sprintf("%s:%s:%s", collection, id, s.now().UTC().Format("20060102150405"))
	meta := map[string]string{
		"created_at":        s.now().UTC().Format(time.RFC3339),
		"source_collection": collection,
		"source_id":         id,
		"snapshot_at":       s.now().UTC().Format(time.RFC3339),
	}
	for k, v := range doc.Metadata {
		if _, exists := meta[k]; !exists {
			meta["orig_"+k] = v
		}
	}
	err = s.backend.Add(ctx, schema.CollectionSnapshots, snapshotID, doc.Text, meta)
	s.notifyResult(err)
	return err
}

// Add inserts a new document. If overwrite is intended, callers must call
// Snapshot first (invariant I1 — every overwrite of a non-snapshots entry
// is preceded by a snapshot row).
func (s *Store) Add(ctx context.Context, collection, id, text string, metadata map[string]string) error {
	metadata = withCreatedAt(metadata, s.now())
	err := s.backend.Add(ctx, collection, id, text, metadata)
	s.notifyResult(err)
	return err
}

// Upsert snapshots the existing document (if any, and collection is not
// snapshots itself) then writes the new content.
func (s *Store) Upsert(ctx context.Context, collection, id, text string, metadata map[string]string) error {
	if collection != schema.CollectionSnapshots {
		if err := s.Snapshot(ctx, collection, id); err != nil {
			s.log.WithError(err).Warn("snapshot before upsert failed, proceeding")
		}
	}
	metadata = withCreatedAt(metadata, s.now())
	err := s.backend.Upsert(ctx, collection, id, text, metadata)
	s.notifyResult(err)
	return err
}

func withCreatedAt(metadata map[string]string, now time.Time) map[string]string {
	if metadata == nil {
		metadata = map[string]string{}
	}
	if _, ok := metadata["created_at"]; !ok {
		metadata["created_at"] = now.UTC().Format(time.RFC3339)
	}
	return metadata
}

// Search runs nearest-neighbor search and reports health to the degradation
// manager. Callers are responsible for filtering by a relevance threshold.
func (s *Store) Search(ctx context.Context, collection, query string, n int) ([]model.SearchHit, error) {
	hits, err := s.backend.Search(ctx, collection, query, n)
	s.notifyResult(err)
	if err != nil {
		return nil, err
	}
	return hits, nil
}

// SearchThreshold runs Search and retains only hits with distance < threshold.
func (s *Store) SearchThreshold(ctx context.Context, collection, query string, n int, threshold float64) ([]model.SearchHit, error) {
	hits, err := s.Search(ctx, collection, query, n)
	if err != nil {
		return nil, err
	}
	out := hits[:0]
	for _, h := range hits {
		if h.Distance < threshold {
			out = append(out, h)
		}
	}
	return out, nil
}

// GetRecent lists the whole collection, sorts it by metadata created_at
// descending, and returns the first n (spec.md §4.3).
func (s *Store) GetRecent(ctx context.Context, collection string, n int) ([]model.ArchiveDocument, error) {
	if collection == "" {
		collection = schema.CollectionSessions
	}
	all, err := s.backend.List(ctx, collection)
	s.notifyResult(err)
	if err != nil {
		return nil, err
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].Metadata["created_at"] > all[j].Metadata["created_at"]
	})
	fetch := 2 * n
	if fetch > len(all) {
		fetch = len(all)
	}
	candidates := all[:fetch]
	if n < len(candidates) {
		candidates = candidates[:n]
	}
	return candidates, nil
}

// All returns every document in collection, for full-collection dumps
// (e.g. the backup component). Unlike GetRecent it is not bounded or sorted.
func (s *Store) All(ctx context.Context, collection string) ([]model.ArchiveDocument, error) {
	docs, err := s.backend.List(ctx, collection)
	s.notifyResult(err)
	return docs, err
}

// Count returns the number of documents in collection.
func (s *Store) Count(ctx context.Context, collection string) (int, error) {
	n, err := s.backend.Count(ctx, collection)
	s.notifyResult(err)
	return n, err
}

const (
	pruneReadBatchSize   = 500
	pruneDeleteBatchSize = 100
	pruneBatchPause      = 50 * time.Millisecond
)

// Prune deletes documents whose created_at/timestamp/updated_at metadata
// (first present wins) is older than now-days. days == 0 skips the
// collection entirely. The Backend interface only exposes a whole-collection
// List, so the listing itself can't be paginated against the store, but
// deletion is: work proceeds in chunks of <=500 listed documents, issuing
// at most 100 deletes before yielding with a real pause, so a large prune
// never floods the backend in one uninterrupted burst (spec.md §4.3).
func (s *Store) Prune(ctx context.Context, collection string, days int) (int, error) {
	if days == 0 {
		return 0, nil
	}
	docs, err := s.backend.List(ctx, collection)
	s.notifyResult(err)
	if err != nil {
		return 0, err
	}
	cutoff := s.now().UTC().Add(-time.Duration(days) * 24 * time.Hour)

	deleted := 0
	deleteBatch := 0
	for readStart := 0; readStart < len(docs); readStart += pruneReadBatchSize {
		readEnd := readStart + pruneReadBatchSize
		if readEnd > len(docs) {
			readEnd = len(docs)
		}

		for _, doc := range docs[readStart:readEnd] {
			ts, ok := firstTimestamp(doc.Metadata)
			if !ok || !ts.Before(cutoff) {
				continue
			}
			if err := s.backend.Delete(ctx, collection, doc.ID); err != nil {
				s.notifyResult(err)
				return deleted, err
			}
			deleted++
			deleteBatch++
			if deleteBatch >= pruneDeleteBatchSize {
				deleteBatch = 0
				if err := pauseOrDone(ctx, pruneBatchPause); err != nil {
					return deleted, err
				}
			}
		}

		if readEnd < len(docs) {
			if err := pauseOrDone(ctx, pruneBatchPause); err != nil {
				return deleted, err
			}
		}
	}
	return deleted, nil
}

// pauseOrDone sleeps for d, returning early with ctx's error if it's
// cancelled first.
func pauseOrDone(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CountOlderThan reports how many documents Prune would delete, without
// deleting them. Used by the retention component's dry-run mode.
func (s *Store) CountOlderThan(ctx context.Context, collection string, days int) (int, error) {
	if days == 0 {
		return 0, nil
	}
	docs, err := s.backend.List(ctx, collection)
	s.notifyResult(err)
	if err != nil {
		return 0, err
	}
	cutoff := s.now().UTC().Add(-time.Duration(days) * 24 * time.Hour)

	count := 0
	for _, doc := range docs {
		if ts, ok := firstTimestamp(doc.Metadata); ok && ts.Before(cutoff) {
			count++
		}
	}
	return count, nil
}

func firstTimestamp(meta map[string]string) (time.Time, bool) {
	for _, key := range []string{"created_at", "timestamp", "updated_at"} {
		if v, ok := meta[key]; ok && v != "" {
			if t, err := time.Parse(time.RFC3339, v); err == nil {
				return t, true
			}
		}
	}
	return time.Time{}, false
}
