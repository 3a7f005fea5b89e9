package watcher

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseComposeExtractsServiceFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "docker-compose.yml")
	content := `
services:
  web:
    image: nginx:latest
    ports:
      - "8080:80"
    networks:
      - frontend
    volumes:
      - ./data:/var/www
    environment:
      - API_KEY=shouldnotleak
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	services, err := parseCompose(path)
	require.NoError(t, err)
	require.Len(t, services, 1)
	require.Equal(t, "web", services[0].Name)
	require.Equal(t, "nginx:latest", services[0].Image)
	require.Equal(t, []string{"8080:80"}, services[0].Ports)
	require.Equal(t, []string{"./data"}, services[0].Volumes)
	require.Equal(t, []string{"API_KEY"}, services[0].EnvVars)
}

func TestScanCredentialsMasksValues(t *testing.T) {
	text := "password: supersecretvalue123\nother: fine"
	found := scanCredentials(text)
	require.Len(t, found, 1)
	require.Contains(t, found[0], "...")
	require.NotContains(t, found[0], "supersecretvalue123")
}

func TestScanCredentialsIgnoresNonMatchingLines(t *testing.T) {
	text := "port: 8080\nimage: nginx:latest"
	require.Empty(t, scanCredentials(text))
}

func TestDetectNewDirectoriesUsesGitHistoryDepth(t *testing.T) {
	dir := initGitRepo(t)
	w := New(nil, dir, []string{dir}, 10*time.Second, nil, nil)

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "services", "newthing"), 0o755))
	mainPath := filepath.Join(dir, "services", "newthing", "main.go")
	require.NoError(t, os.WriteFile(mainPath, []byte("package main\n"), 0o644))
	commit := func(args ...string) {
		out, err := exec.Command("git", append([]string{"-C", dir}, args...)...).CombinedOutput()
		require.NoError(t, err, string(out))
	}
	commit("add", "services/newthing/main.go")
	commit("commit", "-m", "add newthing", "--quiet")

	single := []string{"services/newthing/main.go"}
	require.Equal(t, []string{"services/newthing"}, w.detectNewDirectories(single))

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "services", "existing"), 0o755))
	aPath := filepath.Join(dir, "services", "existing", "a.go")
	bPath := filepath.Join(dir, "services", "existing", "b.go")
	require.NoError(t, os.WriteFile(aPath, []byte("package existing\n"), 0o644))
	commit("add", "services/existing/a.go")
	commit("commit", "-m", "add existing a", "--quiet")
	require.NoError(t, os.WriteFile(bPath, []byte("package existing\n\n// more\n"), 0o644))
	commit("add", "services/existing/b.go")
	commit("commit", "-m", "add existing b", "--quiet")

	multiple := []string{"services/existing/a.go", "services/existing/b.go"}
	require.Empty(t, w.detectNewDirectories(multiple))
}

func TestCommitMessageSummarizesManyPaths(t *testing.T) {
	paths := []string{"a/1.go", "a/2.go", "b/3.go", "c/4.go"}
	msg := commitMessage(paths)
	require.Contains(t, msg, "4 file(s) in")
}

func TestCommitMessageListsFewPaths(t *testing.T) {
	paths := []string{"a/1.go", "b/2.go"}
	require.Equal(t, "auto: a/1.go, b/2.go", commitMessage(paths))
}

func TestTrimSectionsKeepsOnlyNewest(t *testing.T) {
	content := "## one\n\nbody1\n\n## two\n\nbody2\n\n## three\n\nbody3\n\n"
	trimmed := trimSections(content, 2)
	require.NotContains(t, trimmed, "## one")
	require.Contains(t, trimmed, "## two")
	require.Contains(t, trimmed, "## three")
}
