package models

import "time"

// Outcome classifies a finished backup run.
type Outcome int

const (
	// OutcomeSuccess marks a run that produced a usable archive.
	OutcomeSuccess Outcome = iota

	// OutcomeFailure marks a run that did not. Failed runs stay in the
	// history for diagnostics but never anchor due dates or feed duration
	// estimates.
	OutcomeFailure
)

// String implements fmt.Stringer.
func (o Outcome) String() string {
	if o == OutcomeSuccess {
		return "success"
	}
	return "failure"
}

// RunRecord is one past backup attempt. Records are immutable facts; the
// history only ever appends them.
type RunRecord struct {
	Level     BackupLevel
	StartTime time.Time
	Duration  time.Duration
	Outcome   Outcome
}

// Succeeded reports whether the run produced a usable archive.
func (r RunRecord) Succeeded() bool {
	return r.Outcome == OutcomeSuccess
}
