// Package retention implements the retention & backup component C11: a
// per-collection prune sweep (with a dry-run mode) and a timestamped local
// backup directory, optionally uploaded to an S3-compatible object store.
// Grounded on the teacher's storage package's upload orchestration, scoped
// down to the single-uploader case this component needs.
package retention

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"eve.evalgo.org/memoryengine/internal/archive"
	"eve.evalgo.org/memoryengine/pkg/schema"
)

// Service is the retention & backup component C11.
type Service struct {
	Log     *logrus.Logger
	Archive *archive.Store
	Backup  *BackupSource
	Uploader ObjectStoreUploader // optional; nil disables remote upload

	BackupDir  string
	KeepLocal  int
	now        func() time.Time
}

// New creates a Service. keepLocal defaults to 10 (spec.md §4.11) when <= 0.
func New(log *logrus.Logger, archiveStore *archive.Store, backup *BackupSource, uploader ObjectStoreUploader, backupDir string, keepLocal int) *Service {
	if keepLocal <= 0 {
		keepLocal = 10
	}
	return &Service{
		Log:       log,
		Archive:   archiveStore,
		Backup:    backup,
		Uploader:  uploader,
		BackupDir: backupDir,
		KeepLocal: keepLocal,
		now:       time.Now,
	}
}

// Sweep iterates the eight named collections, pruning each to its
// configured (or overridden) retention window. In dry-run mode it only
// counts what would be pruned. This is the operator-facing entry point
// (e.g. POST /api/retention/run); RunRetention below is the zero-argument
// worker.IdleHooks variant that always runs a live sweep with defaults.
func (s *Service) Sweep(ctx context.Context, overrides map[string]int, dryRun bool) (map[string]int, error) {
	result := make(map[string]int, len(schema.AllCollections))
	for _, collection := range schema.AllCollections {
		days, ok := overrides[collection]
		if !ok {
			days = archive.DefaultRetentionDays[collection]
		}
		var (
			n   int
			err error
		)
		if dryRun {
			n, err = s.Archive.CountOlderThan(ctx, collection, days)
		} else {
			n, err = s.Archive.Prune(ctx, collection, days)
		}
		if err != nil {
			if s.Log != nil {
				s.Log.WithError(err).WithField("collection", collection).Warn("retention sweep failed, continuing")
			}
			continue
		}
		result[collection] = n
	}
	return result, nil
}

// RunBackup creates a timestamped backup, prunes old local backups, and
// uploads the new one when an uploader is configured; remote copies are not
// pruned (spec.md §4.11). It satisfies worker.IdleHooks.
func (s *Service) RunBackup(ctx context.Context) error {
	dir, err := s.createBackup(ctx)
	if err != nil {
		return err
	}
	if err := s.pruneLocalBackups(); err != nil && s.Log != nil {
		s.Log.WithError(err).Warn("local backup retention failed")
	}
	if s.Uploader != nil {
		if err := s.uploadBackup(ctx, dir); err != nil && s.Log != nil {
			s.Log.WithError(err).Warn("backup upload failed")
		}
	}
	return nil
}

// RunRetention satisfies worker.IdleHooks: the idle path always sweeps with
// default per-collection windows and never dry-runs.
func (s *Service) RunRetention(ctx context.Context) error {
	_, err := s.Sweep(ctx, nil, false)
	return err
}
