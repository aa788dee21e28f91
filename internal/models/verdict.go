package models

import (
	"math"
	"time"
)

// UrgencyNever is the urgency reported for a target that can never become
// due (all levels disabled or permanently blocked). It sorts after every
// real urgency.
const UrgencyNever = time.Duration(math.MaxInt64)

// LevelState classifies one backup level inside a verdict.
type LevelState int

const (
	// StateDisabled means no interval is configured for the level; it
	// never becomes due.
	StateDisabled LevelState = iota

	// StateBlocked means the level cannot be scheduled because a coarser
	// prerequisite has never successfully run.
	StateBlocked

	// StatePending means the level has an anchor and becomes due at DueAt,
	// which lies in the future.
	StatePending

	// StateDue means the level is due now.
	StateDue
)

// String implements fmt.Stringer.
func (s LevelState) String() string {
	switch s {
	case StateDisabled:
		return "disabled"
	case StateBlocked:
		return "blocked"
	case StatePending:
		return "pending"
	case StateDue:
		return "due"
	default:
		return "unknown"
	}
}

// LevelVerdict is the per-level detail inside a ScheduleVerdict.
type LevelVerdict struct {
	Level     BackupLevel
	State     LevelState
	BlockedOn BackupLevel // prerequisite that is missing, when State is StateBlocked
	DueAt     time.Time   // zero when disabled or blocked
}

// ScheduleVerdict is the engine's answer for one target: which level (if
// any) must run, when it falls due, and how much lead time remains before
// the run has to start to still finish inside its budget.
type ScheduleVerdict struct {
	// DueLevel is the level that must run now, or LevelNone if nothing is
	// currently due. Coarser levels pre-empt finer ones: a due full always
	// wins, since running it resets the diff and incr clocks too.
	DueLevel BackupLevel

	// DueAt is the deadline of DueLevel, or, when DueLevel is LevelNone,
	// the earliest future due time across the schedulable levels. The zero
	// time means "never".
	DueAt time.Time

	// LatestSafeStart is DueAt minus the estimated run duration: the last
	// moment a run can start and still finish in budget.
	LatestSafeStart time.Time

	// Urgency is LatestSafeStart minus the evaluation time. Negative means
	// the target is already overdue to start.
	Urgency time.Duration

	// Levels holds the per-level detail, coarsest first.
	Levels [3]LevelVerdict
}

// Overdue reports whether the latest safe start has already passed.
func (v ScheduleVerdict) Overdue() bool {
	return v.DueLevel != LevelNone && v.Urgency < 0
}

// Never reports whether the target can never become due.
func (v ScheduleVerdict) Never() bool {
	return v.DueLevel == LevelNone && v.DueAt.IsZero()
}

// TargetVerdict pairs a target name with its verdict or, when the target's
// configuration made evaluation impossible, the error that excluded it.
// One broken target never aborts evaluation of the others.
type TargetVerdict struct {
	Target  string
	Verdict ScheduleVerdict
	Err     error
}
