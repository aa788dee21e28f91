package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/mkoppmann/backsched/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_AppendAndLoadRoundTrip(t *testing.T) {
	s := openTestStore(t)
	start := time.Date(2024, 3, 1, 21, 0, 0, 0, time.UTC)

	require.NoError(t, s.AppendRun("workstation", models.RunRecord{
		Level:     models.LevelFull,
		StartTime: start,
		Duration:  2 * time.Hour,
		Outcome:   models.OutcomeSuccess,
	}))
	require.NoError(t, s.AppendRun("workstation", models.RunRecord{
		Level:     models.LevelIncr,
		StartTime: start.Add(24 * time.Hour),
		Duration:  10 * time.Minute,
		Outcome:   models.OutcomeFailure,
	}))

	records, err := s.History("workstation")

	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, models.LevelFull, records[0].Level)
	assert.Equal(t, start, records[0].StartTime)
	assert.Equal(t, 2*time.Hour, records[0].Duration)
	assert.Equal(t, models.OutcomeSuccess, records[0].Outcome)
	assert.Equal(t, models.OutcomeFailure, records[1].Outcome)
}

func TestStore_HistoryOrderedByStartTime(t *testing.T) {
	s := openTestStore(t)
	start := time.Date(2024, 3, 1, 21, 0, 0, 0, time.UTC)

	// Inserted newest first; loading must still come back ordered.
	require.NoError(t, s.AppendRun("srv", models.RunRecord{
		Level: models.LevelDiff, StartTime: start.Add(48 * time.Hour), Duration: time.Minute, Outcome: models.OutcomeSuccess,
	}))
	require.NoError(t, s.AppendRun("srv", models.RunRecord{
		Level: models.LevelFull, StartTime: start, Duration: time.Hour, Outcome: models.OutcomeSuccess,
	}))

	records, err := s.History("srv")

	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.True(t, records[0].StartTime.Before(records[1].StartTime))
}

func TestStore_HistorySeparatesTargets(t *testing.T) {
	s := openTestStore(t)
	start := time.Date(2024, 3, 1, 21, 0, 0, 0, time.UTC)

	require.NoError(t, s.AppendRun("a", models.RunRecord{
		Level: models.LevelFull, StartTime: start, Duration: time.Hour, Outcome: models.OutcomeSuccess,
	}))

	records, err := s.History("b")
	require.NoError(t, err)
	assert.Empty(t, records)

	targets, err := s.Targets()
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, targets)
}
