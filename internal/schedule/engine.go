// Package schedule decides when and at which level a backup target must
// run, given its interval configuration and its run history.
package schedule

import (
	"errors"
	"fmt"
	"time"

	"github.com/mkoppmann/backsched/internal/estimate"
	"github.com/mkoppmann/backsched/internal/history"
	"github.com/mkoppmann/backsched/internal/models"
)

// ErrConfiguration is returned when a target's interval configuration makes
// the due computation undefined (a negative interval). A zero interval is
// not an error; it disables the level.
var ErrConfiguration = errors.New("invalid interval configuration")

// Target is one named backup definition: its staleness budgets and its run
// history.
type Target struct {
	Name            string
	Intervals       models.IntervalConfig
	DefaultDuration time.Duration
	History         *history.Log
}

// NewTarget builds a target from its configuration with an empty history.
func NewTarget(cfg models.TargetConfig) *Target {
	return &Target{
		Name:            cfg.Name,
		Intervals:       cfg.Intervals,
		DefaultDuration: cfg.DefaultDuration,
		History:         history.New(),
	}
}

// Engine computes schedule verdicts. It is a pure, synchronous computation
// over a snapshot of history and configuration; given the same inputs and
// the same clock it always produces the same verdict.
type Engine struct {
	estimator *estimate.Estimator
}

// NewEngine creates an engine using the given duration estimator.
func NewEngine(estimator *estimate.Estimator) *Engine {
	return &Engine{estimator: estimator}
}

// Evaluate answers, for one target at the given instant: which level (if
// any) is due now, when one becomes due, and the latest safe start time to
// still finish inside the budget.
//
// Levels are examined coarsest first and the coarsest due level wins:
// running a full resets the diff and incr clocks as well, so scheduling a
// finer level alongside a due coarser one would be redundant. The engine
// never escalates on overrun; substituting a full for a badly overdue diff
// is the invoker's call.
func (e *Engine) Evaluate(t *Target, now time.Time) (models.ScheduleVerdict, error) {
	for _, level := range models.Levels {
		if iv := t.Intervals.IntervalFor(level); iv < 0 {
			return models.ScheduleVerdict{}, fmt.Errorf(
				"%w: %s interval %s is negative", ErrConfiguration, level, iv)
		}
	}

	verdict := models.ScheduleVerdict{DueLevel: models.LevelNone}
	verdict.Levels[models.LevelFull] = e.evaluateFull(t, now)
	verdict.Levels[models.LevelDiff] = e.evaluateDiff(t, now)
	verdict.Levels[models.LevelIncr] = e.evaluateIncr(t, now)

	// Coarsest due level pre-empts the finer ones.
	for _, lv := range verdict.Levels {
		if lv.State == models.StateDue {
			verdict.DueLevel = lv.Level
			verdict.DueAt = lv.DueAt
			break
		}
	}

	// Nothing due: the verdict's due time is the next point at which
	// re-evaluation will yield an action. Prefer the coarser level on a
	// tie.
	if verdict.DueLevel == models.LevelNone {
		next := models.LevelNone
		for _, lv := range verdict.Levels {
			if lv.State != models.StatePending {
				continue
			}
			if verdict.DueAt.IsZero() || lv.DueAt.Before(verdict.DueAt) {
				verdict.DueAt = lv.DueAt
				next = lv.Level
			}
		}
		if next == models.LevelNone {
			// All levels disabled or blocked; the target never becomes due.
			verdict.Urgency = models.UrgencyNever
			return verdict, nil
		}
		verdict.LatestSafeStart = e.latestSafeStart(t, next, verdict.DueAt, now)
		verdict.Urgency = verdict.LatestSafeStart.Sub(now)
		return verdict, nil
	}

	verdict.LatestSafeStart = e.latestSafeStart(t, verdict.DueLevel, verdict.DueAt, now)
	verdict.Urgency = verdict.LatestSafeStart.Sub(now)
	return verdict, nil
}

// evaluateFull scores the full level. A target with no successful full is
// immediately due for one regardless of the configured interval, because a
// diff/incr chain cannot be established on nothing.
func (e *Engine) evaluateFull(t *Target, now time.Time) models.LevelVerdict {
	lv := models.LevelVerdict{Level: models.LevelFull, BlockedOn: models.LevelNone}

	interval := t.Intervals.IntervalFor(models.LevelFull)
	if interval == 0 {
		lv.State = models.StateDisabled
		return lv
	}

	anchor, ok := t.History.LastSuccessful(models.LevelFull)
	if !ok {
		lv.State = models.StateDue
		lv.DueAt = now
		return lv
	}

	lv.DueAt = anchor.StartTime.Add(interval)
	lv.State = dueState(lv.DueAt, now)
	return lv
}

// evaluateDiff scores the diff level. Without a successful full the level
// is blocked: there is nothing to diff against. Its clock anchors on the
// most recent successful run at diff or coarser, so both a fresh diff and a
// fresh full reset it.
func (e *Engine) evaluateDiff(t *Target, now time.Time) models.LevelVerdict {
	lv := models.LevelVerdict{Level: models.LevelDiff, BlockedOn: models.LevelNone}

	interval := t.Intervals.IntervalFor(models.LevelDiff)
	if interval == 0 {
		lv.State = models.StateDisabled
		return lv
	}

	if _, ok := t.History.LastSuccessfulAtOrAbove(models.LevelFull); !ok {
		// Cannot diff against a non-existent full.
		lv.State = models.StateBlocked
		lv.BlockedOn = models.LevelFull
		return lv
	}

	anchor, _ := t.History.LastSuccessfulAtOrAbove(models.LevelDiff)
	lv.DueAt = anchor.StartTime.Add(interval)
	lv.State = dueState(lv.DueAt, now)
	return lv
}

// evaluateIncr scores the incr level. It is blocked until the diff/full
// chain it extends exists: while the diff layer is enabled but has never
// run the level stays blocked on diff, and with the diff layer disabled it
// chains directly off fulls. Its clock anchors on the most recent
// successful run of any level, since an incr captures changes since the
// previous backup.
func (e *Engine) evaluateIncr(t *Target, now time.Time) models.LevelVerdict {
	lv := models.LevelVerdict{Level: models.LevelIncr, BlockedOn: models.LevelNone}

	interval := t.Intervals.IntervalFor(models.LevelIncr)
	if interval == 0 {
		lv.State = models.StateDisabled
		return lv
	}

	if _, ok := t.History.LastSuccessfulAtOrAbove(models.LevelDiff); !ok {
		lv.State = models.StateBlocked
		lv.BlockedOn = models.LevelDiff
		return lv
	}
	if t.Intervals.IntervalFor(models.LevelDiff) != 0 {
		if _, ok := t.History.LastSuccessful(models.LevelDiff); !ok {
			lv.State = models.StateBlocked
			lv.BlockedOn = models.LevelDiff
			return lv
		}
	}

	anchor, _ := t.History.LastSuccessfulAtOrAbove(models.LevelIncr)
	lv.DueAt = anchor.StartTime.Add(interval)
	lv.State = dueState(lv.DueAt, now)
	return lv
}

// latestSafeStart shifts a deadline back by the expected run duration: a
// run starting exactly at its deadline is already late if it takes any time
// at all. With no estimate and no configured default, the target requires
// immediate attention; the latest safe start is then the deadline itself or
// now, whichever is earlier, never a silent zero-duration assumption for a
// future deadline.
func (e *Engine) latestSafeStart(t *Target, level models.BackupLevel, dueAt, now time.Time) time.Time {
	est := e.estimator.Estimate(t.History, level)

	expected := est.Expected
	if est.Confidence == estimate.ConfidenceNone {
		expected = t.DefaultDuration
	}
	if expected <= 0 {
		if dueAt.Before(now) {
			return dueAt
		}
		return now
	}
	return dueAt.Add(-expected)
}

func dueState(dueAt, now time.Time) models.LevelState {
	if now.Before(dueAt) {
		return models.StatePending
	}
	return models.StateDue
}
