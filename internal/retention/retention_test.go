package retention

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"eve.evalgo.org/memoryengine/internal/advisory"
	"eve.evalgo.org/memoryengine/internal/archive"
	"eve.evalgo.org/memoryengine/internal/contextstore"
	"eve.evalgo.org/memoryengine/internal/degradation"
	"eve.evalgo.org/memoryengine/pkg/schema"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	m := degradation.New(nil)
	backend, err := archive.NewBoltBackend(t.TempDir()+"/archive.db", schema.AllCollections)
	require.NoError(t, err)
	archiveStore := archive.New(nil, backend, m)

	ctxStore, err := contextstore.New(nil, m, t.TempDir(), "", true)
	require.NoError(t, err)

	advisoryStore, err := advisory.New(t.TempDir())
	require.NoError(t, err)

	backup := &BackupSource{Context: ctxStore, Advisory: advisoryStore}
	return New(nil, archiveStore, backup, nil, t.TempDir(), 2)
}

func TestSweepDryRunCountsWithoutDeleting(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	require.NoError(t, svc.Archive.Add(ctx, schema.CollectionSnapshots, "s1", "old snapshot", map[string]string{
		"created_at": "2000-01-01T00:00:00Z",
	}))

	counts, err := svc.Sweep(ctx, nil, true)
	require.NoError(t, err)
	require.Equal(t, 1, counts[schema.CollectionSnapshots])

	n, err := svc.Archive.Count(ctx, schema.CollectionSnapshots)
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestSweepLiveDeletesOlderThanWindow(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	require.NoError(t, svc.Archive.Add(ctx, schema.CollectionSnapshots, "s1", "old snapshot", map[string]string{
		"created_at": "2000-01-01T00:00:00Z",
	}))

	counts, err := svc.Sweep(ctx, nil, false)
	require.NoError(t, err)
	require.Equal(t, 1, counts[schema.CollectionSnapshots])

	n, err := svc.Archive.Count(ctx, schema.CollectionSnapshots)
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestRunBackupWritesMasterContextAndCollections(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	require.NoError(t, svc.Backup.Context.Write(ctx, "# Master\nsome content"))
	require.NoError(t, svc.Archive.Add(ctx, schema.CollectionDecisions, "d1", "use postgres", nil))

	require.NoError(t, svc.RunBackup(ctx))

	entries, err := os.ReadDir(svc.BackupDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	dir := filepath.Join(svc.BackupDir, entries[0].Name())
	master, err := os.ReadFile(filepath.Join(dir, "master-context.md"))
	require.NoError(t, err)
	require.Contains(t, string(master), "some content")

	decisions, err := os.ReadFile(filepath.Join(dir, schema.CollectionDecisions+".json"))
	require.NoError(t, err)
	require.Contains(t, string(decisions), "use postgres")

	var meta backupMetadata
	raw, err := os.ReadFile(filepath.Join(dir, "metadata.json"))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &meta))
	require.Contains(t, meta.Components, schema.CollectionDecisions)
}

func TestPruneLocalBackupsKeepsOnlyMostRecent(t *testing.T) {
	svc := newTestService(t)
	for _, name := range []string{"2026-01-01_000000", "2026-01-02_000000", "2026-01-03_000000"} {
		require.NoError(t, os.MkdirAll(filepath.Join(svc.BackupDir, name), 0o755))
	}

	require.NoError(t, svc.pruneLocalBackups())

	entries, err := os.ReadDir(svc.BackupDir)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "2026-01-02_000000", entries[0].Name())
	require.Equal(t, "2026-01-03_000000", entries[1].Name())
}

func TestRunRetentionSatisfiesIdleHooksSignature(t *testing.T) {
	svc := newTestService(t)
	require.NoError(t, svc.RunRetention(context.Background()))
}
