package watcher

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func initGitRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", append([]string{"-C", dir}, args...)...)
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, string(out))
	}
	run("init", "--quiet")
	run("config", "user.email", "watcher@example.com")
	run("config", "user.name", "watcher")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("seed\n"), 0o644))
	run("add", "README.md")
	run("commit", "-m", "seed", "--quiet")
	return dir
}

type recordingEmitter struct {
	summaries []string
	tags      [][]string
}

func (r *recordingEmitter) EmitInfraSession(summary string, significance string, tags []string) error {
	r.summaries = append(r.summaries, summary)
	r.tags = append(r.tags, tags)
	return nil
}

type recordingAlerter struct {
	messages []string
}

func (r *recordingAlerter) Send(message string) error {
	r.messages = append(r.messages, message)
	return nil
}

func TestStageAndCommitCreatesCommit(t *testing.T) {
	dir := initGitRepo(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "new.txt"), []byte("hello\n"), 0o644))

	w := New(nil, dir, []string{dir}, 10*time.Second, nil, nil)
	require.NoError(t, w.stageAndCommit([]string{"new.txt"}))

	out, err := exec.Command("git", "-C", dir, "log", "-1", "--pretty=%s").Output()
	require.NoError(t, err)
	require.Contains(t, string(out), "auto: new.txt")
}

func TestStageAndCommitErrorsWhenNothingStaged(t *testing.T) {
	dir := initGitRepo(t)
	w := New(nil, dir, []string{dir}, 10*time.Second, nil, nil)
	require.Error(t, w.stageAndCommit([]string{"README.md"}))
}

func TestFlushEmitsSessionAndAlertsOnCredential(t *testing.T) {
	dir := initGitRepo(t)
	envPath := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envPath, []byte("API_KEY=abcd1234efgh5678\n"), 0o644))

	emitter := &recordingEmitter{}
	alerter := &recordingAlerter{}
	w := New(nil, dir, []string{dir}, 10*time.Second, emitter, alerter)

	w.mu.Lock()
	w.pending[".env"] = struct{}{}
	w.mu.Unlock()

	w.flush()

	require.Len(t, emitter.summaries, 1)
	require.Contains(t, emitter.tags[0], "credential-detected")
	require.NotEmpty(t, alerter.messages)
}

func TestWriteChangelogCreatesFileAndCommits(t *testing.T) {
	dir := initGitRepo(t)
	w := New(nil, dir, []string{dir}, 10*time.Second, nil, nil)

	result := BatchResult{NewDirectories: []string{"services/foo"}}
	require.NoError(t, w.writeChangelog(result))

	raw, err := os.ReadFile(filepath.Join(dir, "infrastructure", "auto-detected-changes.md"))
	require.NoError(t, err)
	require.Contains(t, string(raw), "services/foo")

	out, err := exec.Command("git", "-C", dir, "log", "-1", "--pretty=%s").Output()
	require.NoError(t, err)
	require.Contains(t, string(out), "auto-detected-changes.md")
}
