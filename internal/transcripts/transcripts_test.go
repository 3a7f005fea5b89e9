package transcripts

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStoreCreatesThenSkipsShorterResend(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	res, err := s.Store("sess-1", "the full conversation transcript text")
	require.NoError(t, err)
	require.True(t, res.Stored)
	require.Equal(t, "created", res.Action)

	res, err = s.Store("sess-1", "short")
	require.NoError(t, err)
	require.False(t, res.Stored)
	require.Equal(t, "skipped", res.Action)

	loaded, ok, err := s.Load("sess-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "the full conversation transcript text", loaded)
}

func TestStoreReplacesWithLongerContent(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	_, err = s.Store("sess-2", "short text")
	require.NoError(t, err)

	res, err := s.Store("sess-2", "a much longer piece of transcript text than before")
	require.NoError(t, err)
	require.True(t, res.Stored)
	require.Equal(t, "updated", res.Action)

	loaded, ok, err := s.Load("sess-2")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "a much longer piece of transcript text than before", loaded)
}

func TestTruncateForModelLeavesShortTextAlone(t *testing.T) {
	require.Equal(t, "short", TruncateForModel("short", 100))
}

func TestTruncateForModelSplitsAtHalves(t *testing.T) {
	text := strings.Repeat("a", 50) + strings.Repeat("b", 50)
	out := TruncateForModel(text, 20)
	require.True(t, strings.HasPrefix(out, strings.Repeat("a", 10)))
	require.True(t, strings.HasSuffix(out, strings.Repeat("b", 10)))
	require.Contains(t, out, "truncated")
}
