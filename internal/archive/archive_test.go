package archive

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"eve.evalgo.org/memoryengine/internal/degradation"
	"eve.evalgo.org/memoryengine/pkg/schema"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "archive.db")
	backend, err := NewBoltBackend(path, schema.AllCollections)
	require.NoError(t, err)
	t.Cleanup(func() { backend.(*boltBackend).Close() })
	m := degradation.New(nil)
	return New(nil, backend, m)
}

func TestAddThenSearchFindsDocument(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, schema.CollectionSessions, "s1", "restarted postgres after a hung query", nil))
	require.NoError(t, s.Add(ctx, schema.CollectionSessions, "s2", "deployed the frontend to staging", nil))

	hits, err := s.Search(ctx, schema.CollectionSessions, "postgres query hung", 5)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	require.Equal(t, "s1", hits[0].ID)
}

func TestUpsertSnapshotsPreviousVersion(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, schema.CollectionDecisions, "d1", "use postgres", nil))
	require.NoError(t, s.Upsert(ctx, schema.CollectionDecisions, "d1", "use postgres with read replicas", nil))

	snapshots, err := s.backend.List(ctx, schema.CollectionSnapshots)
	require.NoError(t, err)
	require.Len(t, snapshots, 1)
	require.Equal(t, "use postgres", snapshots[0].Text)
	require.Equal(t, schema.CollectionDecisions, snapshots[0].Metadata["source_collection"])
	require.Equal(t, "d1", snapshots[0].Metadata["source_id"])
}

func TestGetRecentSortsDescendingByCreatedAt(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"a", "b", "c"} {
		s.now = func() time.Time { return base.Add(time.Duration(i) * time.Hour) }
		require.NoError(t, s.Add(ctx, schema.CollectionSessions, id, "session "+id, nil))
	}

	recent, err := s.GetRecent(ctx, schema.CollectionSessions, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	require.Equal(t, "c", recent[0].ID)
	require.Equal(t, "b", recent[1].ID)
}

func TestPruneRemovesOnlyOlderThanCutoff(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	s.now = func() time.Time { return base }
	require.NoError(t, s.Add(ctx, schema.CollectionFailures, "old", "old failure", nil))

	s.now = func() time.Time { return base.Add(300 * 24 * time.Hour) }
	require.NoError(t, s.Add(ctx, schema.CollectionFailures, "new", "new failure", nil))

	deleted, err := s.Prune(ctx, schema.CollectionFailures, 200)
	require.NoError(t, err)
	require.Equal(t, 1, deleted)

	remaining, err := s.backend.List(ctx, schema.CollectionFailures)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	require.Equal(t, "new", remaining[0].ID)
}

func TestPruneSkipsWhenDaysIsZero(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Add(ctx, schema.CollectionEntities, "e1", "alice", nil))

	deleted, err := s.Prune(ctx, schema.CollectionEntities, 0)
	require.NoError(t, err)
	require.Equal(t, 0, deleted)
}

func TestCleanMetadataNormalizesValues(t *testing.T) {
	out := CleanMetadata(map[string]any{
		"name":    "alice",
		"count":   3,
		"active":  true,
		"tags":    []any{"a", "b"},
		"missing": nil,
	})
	require.Equal(t, "alice", out["name"])
	require.Equal(t, "3", out["count"])
	require.Equal(t, "true", out["active"])
	require.Equal(t, "a,b", out["tags"])
	require.Equal(t, "", out["missing"])
}
