// Package store persists the run log so evaluations survive process
// restarts. The scheduling core never touches it; the runner loads
// histories from here at startup and appends outcomes after each run.
package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // CGo-free SQLite driver

	"github.com/mkoppmann/backsched/internal/models"
)

// Store is a SQLite-backed run log.
type Store struct {
	db *sql.DB
}

// Open opens (and if necessary creates) the run log database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening run log: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("opening run log: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	const stmt = `
	CREATE TABLE IF NOT EXISTS runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		target TEXT NOT NULL,
		level TEXT NOT NULL,
		start_time INTEGER NOT NULL,
		duration_ns INTEGER NOT NULL,
		outcome TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_runs_target_start ON runs(target, start_time);
	`
	if _, err := s.db.Exec(stmt); err != nil {
		return fmt.Errorf("migrating run log schema: %w", err)
	}
	return nil
}

// AppendRun persists one finished run for a target.
func (s *Store) AppendRun(target string, rec models.RunRecord) error {
	_, err := s.db.Exec(
		`INSERT INTO runs (target, level, start_time, duration_ns, outcome) VALUES (?, ?, ?, ?, ?)`,
		target, rec.Level.Suffix(), rec.StartTime.UnixNano(), int64(rec.Duration), rec.Outcome.String(),
	)
	if err != nil {
		return fmt.Errorf("persisting run for target %q: %w", target, err)
	}
	return nil
}

// History returns all persisted runs for a target in start-time order,
// ready to be appended into a history log.
func (s *Store) History(target string) ([]models.RunRecord, error) {
	rows, err := s.db.Query(
		`SELECT level, start_time, duration_ns, outcome FROM runs WHERE target = ? ORDER BY start_time, id`,
		target,
	)
	if err != nil {
		return nil, fmt.Errorf("loading history for target %q: %w", target, err)
	}
	defer rows.Close()

	var records []models.RunRecord
	for rows.Next() {
		var (
			levelStr   string
			startNanos int64
			durationNs int64
			outcomeStr string
		)
		if err := rows.Scan(&levelStr, &startNanos, &durationNs, &outcomeStr); err != nil {
			return nil, fmt.Errorf("scanning run for target %q: %w", target, err)
		}
		level, err := models.ParseLevel(levelStr)
		if err != nil {
			return nil, fmt.Errorf("loading history for target %q: %w", target, err)
		}
		rec := models.RunRecord{
			Level:     level,
			StartTime: time.Unix(0, startNanos).UTC(),
			Duration:  time.Duration(durationNs),
			Outcome:   models.OutcomeSuccess,
		}
		if outcomeStr == models.OutcomeFailure.String() {
			rec.Outcome = models.OutcomeFailure
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("loading history for target %q: %w", target, err)
	}
	return records, nil
}

// Targets returns the names of all targets with persisted runs.
func (s *Store) Targets() ([]string, error) {
	rows, err := s.db.Query(`SELECT DISTINCT target FROM runs ORDER BY target`)
	if err != nil {
		return nil, fmt.Errorf("listing targets: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("listing targets: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}
