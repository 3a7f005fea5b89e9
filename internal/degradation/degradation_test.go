package degradation

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager() *Manager {
	return New(nil)
}

func TestCircuitBreakerOpensAfterThreshold(t *testing.T) {
	m := newTestManager()
	require.True(t, m.CanCall(DepOpenRouter))

	for i := 0; i < 3; i++ {
		m.MarkUnhealthy(DepOpenRouter, errors.New("boom"))
	}

	assert.False(t, m.CanCall(DepOpenRouter))
}

func TestCircuitBreakerHalfOpenAfterRecovery(t *testing.T) {
	m := newTestManager()
	base := time.Now()
	m.now = func() time.Time { return base }

	for i := 0; i < 3; i++ {
		m.MarkUnhealthy(DepOpenRouter, errors.New("boom"))
	}
	require.False(t, m.CanCall(DepOpenRouter))

	// Not yet past recovery timeout.
	m.now = func() time.Time { return base.Add(10 * time.Second) }
	assert.False(t, m.CanCall(DepOpenRouter))

	// Past recovery timeout: exactly one call let through.
	m.now = func() time.Time { return base.Add(121 * time.Second) }
	assert.True(t, m.CanCall(DepOpenRouter))
	assert.False(t, m.CanCall(DepOpenRouter), "second concurrent call in half-open must be refused")

	m.MarkHealthy(DepOpenRouter)
	assert.True(t, m.CanCall(DepOpenRouter))
}

func TestCacheRejectsShortContent(t *testing.T) {
	m := newTestManager()
	m.UpdateCache("short", "live")
	_, _, _, ok := m.GetCachedContext()
	assert.False(t, ok)

	long := make([]byte, 60)
	for i := range long {
		long[i] = 'a'
	}
	m.UpdateCache(string(long), "live")
	content, source, _, ok := m.GetCachedContext()
	assert.True(t, ok)
	assert.Equal(t, string(long), content)
	assert.Equal(t, "live", source)
}

func TestLevelDerivation(t *testing.T) {
	m := newTestManager()

	assert.Equal(t, LevelFull, m.Level())

	m.MarkUnhealthy(DepVectorStore, errors.New("x"))
	m.MarkUnhealthy(DepVectorStore, errors.New("x"))
	m.MarkUnhealthy(DepVectorStore, errors.New("x"))
	m.MarkUnhealthy(DepVectorStore, errors.New("x"))
	m.MarkUnhealthy(DepVectorStore, errors.New("x"))
	assert.Equal(t, LevelPartial, m.Level())

	for i := 0; i < 3; i++ {
		m.MarkUnhealthy(DepContextStore, errors.New("x"))
	}
	assert.Equal(t, LevelOffline, m.Level())

	long := make([]byte, 60)
	for i := range long {
		long[i] = 'b'
	}
	m.UpdateCache(string(long), "cache")
	assert.Equal(t, LevelMinimal, m.Level())
}
