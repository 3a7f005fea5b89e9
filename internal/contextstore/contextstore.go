// Package contextstore implements the context store C4: read/write of the
// single master-context markdown document with a local-plus-optional-remote
// write-through policy and versioned commits. See spec.md §4.4.
package contextstore

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"eve.evalgo.org/memoryengine/internal/degradation"
	"eve.evalgo.org/memoryengine/internal/model"
)

const masterContextFilename = "master_context.md"

// placeholderMarkdown is substituted when no read target succeeds.
const placeholderMarkdown = "# Master Context\n\n_No prior context available; starting fresh._\n"

// Store is the context store C4.
type Store struct {
	log          *logrus.Logger
	degrade      *degradation.Manager
	localDir     string
	externalDir  string // empty when no external mount is configured
	standalone   bool
	gitCommits   bool
	now          func() time.Time
}

// New creates a Store rooted at localDir, with an optional externalDir mount
// used as the write-through/first-read target. When standalone is true the
// external target is never consulted, matching spec.md §4.4's "not in
// standalone mode" read-priority condition.
func New(log *logrus.Logger, degrade *degradation.Manager, localDir, externalDir string, standalone bool) (*Store, error) {
	if err := os.MkdirAll(localDir, 0755); err != nil {
		return nil, fmt.Errorf("create local context directory: %w", err)
	}
	gitCommits := false
	if externalDir != "" {
		if err := os.MkdirAll(externalDir, 0755); err != nil {
			return nil, fmt.Errorf("create external context directory: %w", err)
		}
		gitCommits = isGitWorkTree(externalDir)
	}
	return &Store{
		log:         log,
		degrade:     degrade,
		localDir:    localDir,
		externalDir: externalDir,
		standalone:  standalone,
		gitCommits:  gitCommits,
		now:         time.Now,
	}, nil
}

func isGitWorkTree(dir string) bool {
	cmd := exec.Command("git", "-C", dir, "rev-parse", "--is-inside-work-tree")
	out, err := cmd.Output()
	return err == nil && strings.TrimSpace(string(out)) == "true"
}

// safeJoin resolves name under baseDir and rejects any path that would
// escape baseDir via traversal, per spec.md §4.4's canonical-path
// containment check. name must be a plain filename or relative path
// component, never an absolute path.
func safeJoin(baseDir, name string) (string, error) {
	if filepath.IsAbs(name) {
		return "", fmt.Errorf("path traversal rejected: %q is absolute", name)
	}
	base, err := filepath.Abs(baseDir)
	if err != nil {
		return "", err
	}
	candidate := filepath.Join(base, name)
	rel, err := filepath.Rel(base, candidate)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal rejected: %q escapes %q", name, baseDir)
	}
	return candidate, nil
}

func (s *Store) externalReachable() bool {
	if s.standalone || s.externalDir == "" {
		return false
	}
	info, err := os.Stat(s.externalDir)
	return err == nil && info.IsDir()
}

// Read loads the current master context, preferring the external mount, then
// the local file, then the degradation manager's last-known-good cache. On
// any successful read it refreshes that cache. If every source is empty, a
// placeholder document is returned and the caller should treat the result as
// degraded.
func (s *Store) Read(ctx context.Context) (model.MasterContext, bool) {
	if s.externalReachable() {
		path, err := safeJoin(s.externalDir, masterContextFilename)
		if err == nil {
			if content, readErr := os.ReadFile(path); readErr == nil {
				s.degrade.MarkHealthy(degradation.DepContextStore)
				s.degrade.UpdateCache(string(content), "external")
				return model.MasterContext{Markdown: string(content), UpdatedAt: s.now(), Source: "external"}, true
			}
		}
	}

	path, err := safeJoin(s.localDir, masterContextFilename)
	if err == nil {
		if content, readErr := os.ReadFile(path); readErr == nil {
			s.degrade.MarkHealthy(degradation.DepContextStore)
			s.degrade.UpdateCache(string(content), "local")
			return model.MasterContext{Markdown: string(content), UpdatedAt: s.now(), Source: "local"}, true
		}
	}

	if content, source, _, ok := s.degrade.GetCachedContext(); ok {
		s.degrade.MarkUnhealthy(degradation.DepContextStore, fmt.Errorf("no local or external master context, using %s cache", source))
		return model.MasterContext{Markdown: content, UpdatedAt: s.now(), Source: "cache"}, true
	}

	s.degrade.MarkUnhealthy(degradation.DepContextStore, fmt.Errorf("no master context available on any target"))
	return model.MasterContext{Markdown: placeholderMarkdown, UpdatedAt: s.now(), Source: "placeholder"}, false
}

// Write always writes the local file; if the external mount is reachable it
// is also written and, when it is a git working tree, committed with an
// auto-generated message. The context-store dependency is marked healthy in
// C1 if any target succeeds, unhealthy only when every attempted target fails.
func (s *Store) Write(ctx context.Context, markdown string) error {
	var errs []error
	wroteAny := false

	localPath, err := safeJoin(s.localDir, masterContextFilename)
	if err != nil {
		errs = append(errs, err)
	} else if err := os.WriteFile(localPath, []byte(markdown), 0644); err != nil {
		errs = append(errs, fmt.Errorf("write local master context: %w", err))
	} else {
		wroteAny = true
	}

	if s.externalReachable() {
		externalPath, err := safeJoin(s.externalDir, masterContextFilename)
		if err != nil {
			errs = append(errs, err)
		} else if err := os.WriteFile(externalPath, []byte(markdown), 0644); err != nil {
			errs = append(errs, fmt.Errorf("write external master context: %w", err))
		} else {
			wroteAny = true
			if s.gitCommits {
				if err := s.commit(); err != nil {
					if s.log != nil {
						s.log.WithError(err).Warn("master context git commit failed")
					}
				}
			}
		}
	}

	if wroteAny {
		s.degrade.MarkHealthy(degradation.DepContextStore)
		return nil
	}
	err = combineErrors(errs)
	s.degrade.MarkUnhealthy(degradation.DepContextStore, err)
	return err
}

func (s *Store) commit() error {
	message := fmt.Sprintf("update master context %s", s.now().UTC().Format(time.RFC3339))
	if err := exec.Command("git", "-C", s.externalDir, "add", masterContextFilename).Run(); err != nil {
		return fmt.Errorf("git add: %w", err)
	}
	cmd := exec.Command("git", "-C", s.externalDir, "commit", "-m", message, "--allow-empty-message", "--quiet")
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("git commit: %w", err)
	}
	return nil
}

func combineErrors(errs []error) error {
	if len(errs) == 0 {
		return fmt.Errorf("no write targets configured")
	}
	parts := make([]string, len(errs))
	for i, e := range errs {
		parts[i] = e.Error()
	}
	return fmt.Errorf("all context store writes failed: %s", strings.Join(parts, "; "))
}
