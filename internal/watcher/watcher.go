// Package watcher implements the file watcher & infra detector C9: recursive
// fsnotify watching with a debounce timer, git commit of the working tree,
// compose-file and credential scanning, and a separate transcript drop-zone
// watcher. See spec.md §4.9.
package watcher

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// ignoredDirNames are never descended into or reported on.
var ignoredDirNames = map[string]struct{}{
	".git": {}, "node_modules": {}, "vendor": {}, "__pycache__": {},
	".venv": {}, "venv": {}, ".cache": {}, "data": {}, ".tox": {}, ".mypy_cache": {},
}

// ignoredExtensions are build/runtime artifacts never treated as a change.
var ignoredExtensions = map[string]struct{}{
	".o": {}, ".so": {}, ".pyc": {}, ".swp": {}, ".swo": {}, ".tmp": {},
	".log": {}, ".db": {}, ".class": {}, ".exe": {},
}

func ignoredName(name string) bool {
	return strings.HasPrefix(name, "#") || strings.HasPrefix(name, ".#")
}

// SessionEmitter is the worker-facing callback: infra changes are emitted as
// sessions and pushed onto C8's queue.
type SessionEmitter interface {
	EmitInfraSession(summary string, significance string, tags []string) error
}

// Alerter sends a message through the external alert channel.
type Alerter interface {
	Send(message string) error
}

// Watcher is the file watcher & infra detector C9.
type Watcher struct {
	log           *logrus.Logger
	root          string
	watchDirs     []string
	debounce      time.Duration
	emitter       SessionEmitter
	alerter       Alerter
	changelogPath string

	mu      sync.Mutex
	pending map[string]struct{}
	timer   *time.Timer
}

// New creates a Watcher rooted at root (the git working tree), watching the
// given subdirectories.
func New(log *logrus.Logger, root string, watchDirs []string, debounce time.Duration, emitter SessionEmitter, alerter Alerter) *Watcher {
	return &Watcher{
		log:           log,
		root:          root,
		watchDirs:     watchDirs,
		debounce:      debounce,
		emitter:       emitter,
		alerter:       alerter,
		pending:       make(map[string]struct{}),
		changelogPath: filepath.Join(root, "infrastructure", "auto-detected-changes.md"),
	}
}

// Run watches recursively until stop is closed.
func (w *Watcher) Run(stop <-chan struct{}) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	defer fsw.Close()

	for _, dir := range w.watchDirs {
		if err := w.addRecursive(fsw, dir); err != nil {
			return err
		}
	}

	for {
		select {
		case <-stop:
			return nil
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			w.handleEvent(fsw, event)
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			if w.log != nil {
				w.log.WithError(err).Warn("fsnotify error")
			}
		}
	}
}

func (w *Watcher) addRecursive(fsw *fsnotify.Watcher, root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if !info.IsDir() {
			return nil
		}
		if _, ignored := ignoredDirNames[info.Name()]; ignored && path != root {
			return filepath.SkipDir
		}
		return fsw.Add(path)
	})
}

func (w *Watcher) handleEvent(fsw *fsnotify.Watcher, event fsnotify.Event) {
	base := filepath.Base(event.Name)
	if ignoredName(base) {
		return
	}
	if ext := filepath.Ext(base); ext != "" {
		if _, ignored := ignoredExtensions[ext]; ignored {
			return
		}
	}

	if event.Op&fsnotify.Create == fsnotify.Create {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if _, ignored := ignoredDirNames[base]; !ignored {
				_ = w.addRecursive(fsw, event.Name)
			}
		}
	}

	rel, err := filepath.Rel(w.root, event.Name)
	if err != nil {
		rel = event.Name
	}

	w.mu.Lock()
	w.pending[rel] = struct{}{}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.flush)
	w.mu.Unlock()
}

func (w *Watcher) flush() {
	w.mu.Lock()
	paths := make([]string, 0, len(w.pending))
	for p := range w.pending {
		paths = append(paths, p)
	}
	w.pending = make(map[string]struct{})
	w.mu.Unlock()

	if len(paths) == 0 {
		return
	}
	sort.Strings(paths)

	if err := w.stageAndCommit(paths); err != nil {
		if w.log != nil {
			w.log.WithError(err).Warn("working tree commit failed, aborting batch")
		}
		return
	}

	result := w.analyzeBatch(paths)
	if err := w.writeChangelog(result); err != nil && w.log != nil {
		w.log.WithError(err).Warn("changelog write failed")
	}

	significance := "low"
	tags := []string{"infra-watcher"}
	if len(result.ComposeChanges) > 0 {
		significance = "medium"
		tags = append(tags, "compose-change")
	}
	if len(result.NewDirectories) > 0 {
		significance = "medium"
		tags = append(tags, "new-service")
	}
	if len(result.Credentials) > 0 {
		significance = "medium"
		tags = append(tags, "credential-detected")
	}
	tags = append(tags, result.AffectedStacks...)

	summary := summarize(result, paths)
	if w.emitter != nil {
		if err := w.emitter.EmitInfraSession(summary, significance, tags); err != nil && w.log != nil {
			w.log.WithError(err).Warn("failed to emit infra session")
		}
	}

	if len(result.Credentials) > 0 && w.alerter != nil {
		for _, c := range result.Credentials {
			_ = w.alerter.Send(fmt.Sprintf("credential detected in %s: %s", c.File, c.Masked))
		}
	}
}

func commitMessage(paths []string) string {
	if len(paths) <= 3 {
		return "auto: " + strings.Join(paths, ", ")
	}
	tops := map[string]struct{}{}
	var order []string
	for _, p := range paths {
		top := strings.SplitN(p, string(filepath.Separator), 2)[0]
		if _, ok := tops[top]; !ok {
			tops[top] = struct{}{}
			order = append(order, top)
		}
	}
	if len(order) > 2 {
		order = order[:2]
	}
	return fmt.Sprintf("auto: %d file(s) in %s", len(paths), strings.Join(order, ", "))
}

// diffAddedLines returns only the lines added by the most recent commit to
// path, so credential scanning on non-sensitive-named files stays diff-only
// rather than re-scanning the whole file on every touch.
func (w *Watcher) diffAddedLines(relPath string) string {
	cmd := exec.Command("git", "-C", w.root, "show", "HEAD", "--", relPath)
	out, err := cmd.Output()
	if err != nil {
		return ""
	}
	var added []string
	for _, line := range strings.Split(string(out), "\n") {
		if strings.HasPrefix(line, "+++") || !strings.HasPrefix(line, "+") {
			continue
		}
		added = append(added, strings.TrimPrefix(line, "+"))
	}
	return strings.Join(added, "\n")
}

func (w *Watcher) stageAndCommit(paths []string) error {
	addArgs := append([]string{"-C", w.root, "add"}, paths...)
	if err := exec.Command("git", addArgs...).Run(); err != nil {
		return fmt.Errorf("git add: %w", err)
	}

	diffCmd := exec.Command("git", "-C", w.root, "diff", "--cached", "--name-only")
	out, err := diffCmd.Output()
	if err != nil || strings.TrimSpace(string(out)) == "" {
		return fmt.Errorf("nothing staged, aborting")
	}

	message := commitMessage(paths)
	cmd := exec.Command("git", "-C", w.root, "commit", "-m", message, "--quiet")
	return cmd.Run()
}
