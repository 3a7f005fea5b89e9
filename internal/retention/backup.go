package retention

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"eve.evalgo.org/memoryengine/internal/advisory"
	"eve.evalgo.org/memoryengine/internal/contextstore"
	"eve.evalgo.org/memoryengine/pkg/schema"
)

// BackupSource bundles the collaborators a backup needs to read from.
type BackupSource struct {
	Context  *contextstore.Store
	Advisory *advisory.Store
}

type backupMetadata struct {
	Timestamp  time.Time `json:"timestamp"`
	Components []string  `json:"components"`
	TotalBytes int64     `json:"total_bytes"`
}

// createBackup writes current master markdown, nudge/anomaly files, and a
// JSON dump of each non-empty collection into a fresh timestamped directory.
func (s *Service) createBackup(ctx context.Context) (string, error) {
	stamp := s.now().UTC().Format("2006-01-02_150405")
	dir := filepath.Join(s.BackupDir, stamp)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create backup dir: %w", err)
	}

	var components []string
	var totalBytes int64

	if s.Backup != nil && s.Backup.Context != nil {
		master, _ := s.Backup.Context.Read(ctx)
		path := filepath.Join(dir, "master-context.md")
		if err := os.WriteFile(path, []byte(master.Markdown), 0o644); err == nil {
			components = append(components, "master-context")
			totalBytes += int64(len(master.Markdown))
		}
	}

	if s.Backup != nil && s.Backup.Advisory != nil {
		if n, err := dumpAdvisory(dir, s.Backup.Advisory); err == nil {
			components = append(components, "nudges", "anomalies")
			totalBytes += n
		}
	}

	for _, collection := range schema.AllCollections {
		docs, err := s.Archive.All(ctx, collection)
		if err != nil || len(docs) == 0 {
			continue
		}
		raw, err := json.MarshalIndent(docs, "", "  ")
		if err != nil {
			continue
		}
		path := filepath.Join(dir, collection+".json")
		if err := os.WriteFile(path, raw, 0o644); err != nil {
			continue
		}
		components = append(components, collection)
		totalBytes += int64(len(raw))
	}

	meta := backupMetadata{Timestamp: s.now().UTC(), Components: components, TotalBytes: totalBytes}
	rawMeta, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return dir, fmt.Errorf("marshal backup metadata: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "metadata.json"), rawMeta, 0o644); err != nil {
		return dir, fmt.Errorf("write backup metadata: %w", err)
	}
	return dir, nil
}

func dumpAdvisory(dir string, store *advisory.Store) (int64, error) {
	nudges, err := store.ActiveNudges()
	if err != nil {
		return 0, err
	}
	anomalies, err := store.ActiveAnomalies()
	if err != nil {
		return 0, err
	}
	var total int64
	if raw, err := json.MarshalIndent(nudges, "", "  "); err == nil {
		if err := os.WriteFile(filepath.Join(dir, "nudges.json"), raw, 0o644); err == nil {
			total += int64(len(raw))
		}
	}
	if raw, err := json.MarshalIndent(anomalies, "", "  "); err == nil {
		if err := os.WriteFile(filepath.Join(dir, "anomalies.json"), raw, 0o644); err == nil {
			total += int64(len(raw))
		}
	}
	return total, nil
}

// pruneLocalBackups keeps only the KeepLocal most recent timestamp-named
// backup directories, deleting the rest.
func (s *Service) pruneLocalBackups() error {
	entries, err := os.ReadDir(s.BackupDir)
	if err != nil {
		return err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	if len(names) <= s.KeepLocal {
		return nil
	}
	toRemove := names[:len(names)-s.KeepLocal]
	for _, n := range toRemove {
		if err := os.RemoveAll(filepath.Join(s.BackupDir, n)); err != nil && s.Log != nil {
			s.Log.WithError(err).WithField("backup", n).Warn("failed to prune old local backup")
		}
	}
	return nil
}

// RestoreBackup re-upserts every collection dump found in the named local
// backup directory. The master-context file is not restored automatically:
// callers that want it back write master-context.md through Backup.Context
// themselves, since overwriting the live hot context is a separate,
// deliberate decision from restoring cold-storage collections.
func (s *Service) RestoreBackup(ctx context.Context, name string) (map[string]int, error) {
	dir := filepath.Join(s.BackupDir, name)
	result := make(map[string]int)
	for _, collection := range schema.AllCollections {
		raw, err := os.ReadFile(filepath.Join(dir, collection+".json"))
		if err != nil {
			continue
		}
		var docs []restoreDoc
		if err := json.Unmarshal(raw, &docs); err != nil {
			continue
		}
		n := 0
		for _, doc := range docs {
			if err := s.Archive.Upsert(ctx, collection, doc.ID, doc.Text, doc.Metadata); err == nil {
				n++
			}
		}
		result[collection] = n
	}
	return result, nil
}

type restoreDoc struct {
	ID       string            `json:"id"`
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata"`
}

// uploadBackup ships every file in dir to the configured object store under
// a same-named prefix.
func (s *Service) uploadBackup(ctx context.Context, dir string) error {
	prefix := filepath.Base(dir)
	return filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		key := prefix + "/" + strings.ReplaceAll(rel, string(os.PathSeparator), "/")
		return s.Uploader.Upload(ctx, key, path)
	})
}
