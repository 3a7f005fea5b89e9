package watcher

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// CheckpointEmitter receives a checkpoint once a dropped transcript file has
// settled (no further writes for the settle delay).
type CheckpointEmitter interface {
	EmitCheckpoint(transcriptPath string) error
}

// DropZoneWatcher watches a single directory for newly created files and,
// once each one has stopped changing for settleDelay, emits a checkpoint.
// File-creation-only: modifications to pre-existing files are ignored.
type DropZoneWatcher struct {
	log         *logrus.Logger
	dir         string
	settleDelay time.Duration
	emitter     CheckpointEmitter

	mu      sync.Mutex
	timers  map[string]*time.Timer
}

// NewDropZoneWatcher creates a DropZoneWatcher over dir with a 2s settle
// delay (spec.md §4.9's transcript drop-zone default).
func NewDropZoneWatcher(log *logrus.Logger, dir string, emitter CheckpointEmitter) *DropZoneWatcher {
	return &DropZoneWatcher{
		log:         log,
		dir:         dir,
		settleDelay: 2 * time.Second,
		emitter:     emitter,
		timers:      make(map[string]*time.Timer),
	}
}

// Run watches dir (non-recursively) until stop is closed.
func (d *DropZoneWatcher) Run(stop <-chan struct{}) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsw.Close()

	if err := fsw.Add(d.dir); err != nil {
		return err
	}

	for {
		select {
		case <-stop:
			return nil
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if event.Op&fsnotify.Create != fsnotify.Create {
				if event.Op&fsnotify.Write == fsnotify.Write {
					d.mu.Lock()
					if t, pending := d.timers[event.Name]; pending && t.Stop() {
						t.Reset(d.settleDelay)
					}
					d.mu.Unlock()
				}
				continue
			}
			if info, err := os.Stat(event.Name); err != nil || info.IsDir() {
				continue
			}
			d.armSettle(event.Name)
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			if d.log != nil {
				d.log.WithError(err).Warn("drop zone watcher error")
			}
		}
	}
}

func (d *DropZoneWatcher) armSettle(path string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if t, ok := d.timers[path]; ok {
		t.Stop()
	}
	d.timers[path] = time.AfterFunc(d.settleDelay, func() {
		d.mu.Lock()
		delete(d.timers, path)
		d.mu.Unlock()
		if d.emitter != nil {
			if err := d.emitter.EmitCheckpoint(path); err != nil && d.log != nil {
				d.log.WithError(err).WithField("path", filepath.Base(path)).Warn("checkpoint emission failed")
			}
		}
	})
}
