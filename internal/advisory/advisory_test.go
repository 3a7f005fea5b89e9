package advisory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"eve.evalgo.org/memoryengine/internal/model"
)

func TestStoreNudgesDedupsCaseInsensitiveAndOverlap(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	_, err = s.StoreNudges("sess-1", []model.Nudge{
		{Message: "Follow up on loki migration", Type: model.NudgeFollowup, Priority: model.PriorityMedium},
	})
	require.NoError(t, err)

	active, err := s.StoreNudges("sess-1", []model.Nudge{
		{Message: "follow up on Loki migration", Type: model.NudgeFollowup, Priority: model.PriorityMedium},
	})
	require.NoError(t, err)
	require.Len(t, active, 1)
}

func TestStoreNudgesEnforcesCapHighPriorityFirst(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }

	var batch []model.Nudge
	for i := 0; i < nudgeCap+5; i++ {
		batch = append(batch, model.Nudge{
			Message:  msgFor(i),
			Type:     model.NudgeReminder,
			Priority: model.PriorityLow,
		})
	}
	batch[0].Priority = model.PriorityHigh

	active, err := s.StoreNudges("sess-1", batch)
	require.NoError(t, err)
	require.Len(t, active, nudgeCap)
	require.Equal(t, model.PriorityHigh, active[0].Priority)
}

func msgFor(i int) string {
	letters := "abcdefghijklmnopqrstuvwxyz"
	return "distinct message " + string(letters[i%26]) + string(rune('0'+i/26))
}

func TestDismissNudgeMarksMatchingSubstring(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	_, err = s.StoreNudges("sess-1", []model.Nudge{
		{Message: "Check in on the Loki rollout", Type: model.NudgeFollowup, Priority: model.PriorityMedium},
	})
	require.NoError(t, err)

	count, err := s.DismissNudge("loki")
	require.NoError(t, err)
	require.Equal(t, 1, count)

	active, err := s.ActiveNudges()
	require.NoError(t, err)
	require.Empty(t, active)
}

func TestStoreAnomaliesSortsSeverityHighFirst(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	active, err := s.StoreAnomalies("sess-1", []model.Anomaly{
		{Description: "low severity drift in config", Type: model.AnomalyDrift, Severity: model.SeverityLow},
		{Description: "critical contradiction in plan", Type: model.AnomalyContradiction, Severity: model.SeverityCritical},
	})
	require.NoError(t, err)
	require.Len(t, active, 2)
	require.Equal(t, model.SeverityCritical, active[0].Severity)
}
