package contextstore

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"eve.evalgo.org/memoryengine/internal/degradation"
)

func TestWriteThenReadRoundTripsLocalOnly(t *testing.T) {
	dir := t.TempDir()
	m := degradation.New(nil)
	s, err := New(nil, m, dir, "", false)
	require.NoError(t, err)

	require.NoError(t, s.Write(context.Background(), "# hello"))
	mc, ok := s.Read(context.Background())
	require.True(t, ok)
	require.Equal(t, "# hello", mc.Markdown)
	require.Equal(t, "local", mc.Source)
}

func TestReadPrefersExternalOverLocal(t *testing.T) {
	localDir := t.TempDir()
	externalDir := t.TempDir()
	m := degradation.New(nil)
	s, err := New(nil, m, localDir, externalDir, false)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(localDir, masterContextFilename), []byte("local version"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(externalDir, masterContextFilename), []byte("external version"), 0644))

	mc, ok := s.Read(context.Background())
	require.True(t, ok)
	require.Equal(t, "external version", mc.Markdown)
	require.Equal(t, "external", mc.Source)
}

func TestReadFallsBackToCacheThenPlaceholder(t *testing.T) {
	dir := t.TempDir()
	m := degradation.New(nil)
	s, err := New(nil, m, dir, "", false)
	require.NoError(t, err)

	_, ok := s.Read(context.Background())
	require.False(t, ok, "no content on disk and no cache yet: degraded placeholder")

	m.UpdateCache(strings.Repeat("x", 60), "local")
	mc, ok := s.Read(context.Background())
	require.True(t, ok)
	require.Equal(t, "cache", mc.Source)
}

func TestSafeJoinRejectsTraversal(t *testing.T) {
	dir := t.TempDir()
	_, err := safeJoin(dir, "../../etc/passwd")
	require.Error(t, err)

	_, err = safeJoin(dir, "subdir/../../escape.md")
	require.Error(t, err)

	p, err := safeJoin(dir, masterContextFilename)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, masterContextFilename), p)
}
