package schedule

import (
	"time"

	"github.com/mkoppmann/backsched/internal/history"
	"github.com/mkoppmann/backsched/internal/models"
)

// PlannedRun is one projected backup run in a simulated schedule.
type PlannedRun struct {
	Level models.BackupLevel
	Start time.Time
}

// Safety cap for degenerate configurations (very short intervals over a
// long horizon).
const maxPlannedRuns = 1000

// Simulate projects the runs a target would perform between from and
// until, assuming every run starts exactly when it becomes due and
// succeeds after its estimated duration. The target's real history is not
// modified.
func Simulate(e *Engine, t *Target, from, until time.Time) ([]PlannedRun, error) {
	log, err := history.FromRecords(t.History.Records())
	if err != nil {
		return nil, err
	}
	sim := &Target{
		Name:            t.Name,
		Intervals:       t.Intervals,
		DefaultDuration: t.DefaultDuration,
		History:         log,
	}

	var planned []PlannedRun
	now := from

	for !now.After(until) && len(planned) < maxPlannedRuns {
		verdict, err := e.Evaluate(sim, now)
		if err != nil {
			return nil, err
		}

		if verdict.DueLevel != models.LevelNone {
			duration := sim.DefaultDuration
			if est := e.estimator.Estimate(sim.History, verdict.DueLevel); est.SampleCount > 0 {
				duration = est.Expected
			}
			planned = append(planned, PlannedRun{Level: verdict.DueLevel, Start: now})
			if err := sim.History.Append(models.RunRecord{
				Level:     verdict.DueLevel,
				StartTime: now,
				Duration:  duration,
				Outcome:   models.OutcomeSuccess,
			}); err != nil {
				return nil, err
			}
			continue
		}

		// Jump to the earliest moment any level becomes due.
		next := time.Time{}
		for _, lv := range verdict.Levels {
			if lv.State != models.StatePending || lv.DueAt.IsZero() {
				continue
			}
			if next.IsZero() || lv.DueAt.Before(next) {
				next = lv.DueAt
			}
		}
		if next.IsZero() || !next.After(now) {
			break
		}
		now = next
	}

	return planned, nil
}
