// Package history keeps the append-only log of past backup runs for one
// target.
package history

import (
	"errors"
	"fmt"
	"time"

	"github.com/mkoppmann/backsched/internal/models"
)

// ErrInvalidRecord is returned when an appended record is malformed or
// would break the log's start-time ordering. Out-of-order insertion signals
// a caller bug and is rejected rather than silently reordered.
var ErrInvalidRecord = errors.New("invalid run record")

// Log is an ordered, append-only sequence of run records. Records are never
// mutated or removed; reads never change state.
type Log struct {
	records []models.RunRecord
}

// New creates an empty log.
func New() *Log {
	return &Log{}
}

// FromRecords builds a log by appending each record in order, so the input
// must already be sorted by start time.
func FromRecords(records []models.RunRecord) (*Log, error) {
	l := New()
	for _, rec := range records {
		if err := l.Append(rec); err != nil {
			return nil, err
		}
	}
	return l, nil
}

// Append adds a record to the log. The record must have a start time, a
// non-negative duration, a known level, and must not precede the last
// appended record.
func (l *Log) Append(rec models.RunRecord) error {
	if rec.StartTime.IsZero() {
		return fmt.Errorf("%w: missing start time", ErrInvalidRecord)
	}
	if rec.Duration < 0 {
		return fmt.Errorf("%w: negative duration %s", ErrInvalidRecord, rec.Duration)
	}
	switch rec.Level {
	case models.LevelFull, models.LevelDiff, models.LevelIncr:
	default:
		return fmt.Errorf("%w: unknown level %s", ErrInvalidRecord, rec.Level)
	}
	if n := len(l.records); n > 0 && rec.StartTime.Before(l.records[n-1].StartTime) {
		return fmt.Errorf("%w: start time %s precedes last record at %s",
			ErrInvalidRecord,
			rec.StartTime.Format(time.RFC3339),
			l.records[n-1].StartTime.Format(time.RFC3339))
	}
	l.records = append(l.records, rec)
	return nil
}

// Len returns the number of records in the log.
func (l *Log) Len() int {
	return len(l.records)
}

// Records returns a copy of all records in start-time order.
func (l *Log) Records() []models.RunRecord {
	out := make([]models.RunRecord, len(l.records))
	copy(out, l.records)
	return out
}

// LastSuccessful returns the most recent successful run at exactly the
// given level.
func (l *Log) LastSuccessful(level models.BackupLevel) (models.RunRecord, bool) {
	for i := len(l.records) - 1; i >= 0; i-- {
		rec := l.records[i]
		if rec.Level == level && rec.Succeeded() {
			return rec, true
		}
	}
	return models.RunRecord{}, false
}

// LastSuccessfulAtOrAbove returns the most recent successful run at the
// given level or any coarser one. A fresh full resets the clock for diff
// and incr too, so this is what a finer level anchors on.
func (l *Log) LastSuccessfulAtOrAbove(level models.BackupLevel) (models.RunRecord, bool) {
	for i := len(l.records) - 1; i >= 0; i-- {
		rec := l.records[i]
		if rec.Succeeded() && (rec.Level == level || rec.Level.Coarser(level)) {
			return rec, true
		}
	}
	return models.RunRecord{}, false
}

// SuccessfulSamples returns the durations of successful runs at exactly the
// given level, most recent first. Runs with an unknown (zero) duration, as
// reconstructed from on-disk catalogs, carry no timing information and are
// skipped.
func (l *Log) SuccessfulSamples(level models.BackupLevel) []time.Duration {
	var samples []time.Duration
	for i := len(l.records) - 1; i >= 0; i-- {
		rec := l.records[i]
		if rec.Level == level && rec.Succeeded() && rec.Duration > 0 {
			samples = append(samples, rec.Duration)
		}
	}
	return samples
}
