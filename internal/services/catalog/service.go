// Package catalog discovers existing backup archives on disk and
// reconstructs run records from them, so a fresh process knows what already
// exists before its own run log has any entries.
package catalog

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"

	"github.com/mkoppmann/backsched/internal/models"
	"github.com/rs/zerolog"
)

// TimestampFormat is the layout of the timestamp embedded in archive
// directory names, e.g. "2024-03-01_2100-incr".
const TimestampFormat = "2006-01-02_1504"

var archivePattern = regexp.MustCompile(`^([0-9]{4}-[0-9]{2}-[0-9]{2}_[0-9]{4})-(full|diff|incr)$`)

// ArchiveName returns the directory name for an archive started at the
// given time.
func ArchiveName(level models.BackupLevel, start time.Time) string {
	return fmt.Sprintf("%s-%s", start.Format(TimestampFormat), level.Suffix())
}

// CatalogName returns the name of the catalog file inside an archive
// directory. An archive directory without a readable catalog is treated as
// incomplete and ignored.
func CatalogName(start time.Time) string {
	return fmt.Sprintf("%s-catalog.01.dar", start.Format(TimestampFormat))
}

// Service defines the interface for archive discovery and retention.
type Service interface {
	Scan(dir string) ([]models.RunRecord, error)
	Prune(dir string, level models.BackupLevel) ([]string, error)
}

// Impl implements the catalog Service interface.
type Impl struct {
	logger zerolog.Logger
}

// New creates a new catalog service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{logger: logger}
}

// Scan walks the archive directory and returns one successful run record
// per valid archive, ordered by start time. Only the start time and level
// can be recovered from disk; durations are unknown and left zero, so these
// records anchor due dates but never feed duration estimates.
func (s *Impl) Scan(dir string) ([]models.RunRecord, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("scanning archive directory %q: %w", dir, err)
	}

	var records []models.RunRecord
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		m := archivePattern.FindStringSubmatch(entry.Name())
		if m == nil {
			continue
		}

		// Archive names are written from the local wall clock, so they must
		// be read back in the same zone or every discovered run shifts by
		// the UTC offset.
		start, err := time.ParseInLocation(TimestampFormat, m[1], time.Local)
		if err != nil {
			s.logger.Warn().Str("archive", entry.Name()).Msg("unparseable archive timestamp, skipping")
			continue
		}
		level, err := models.ParseLevel(m[2])
		if err != nil {
			continue
		}

		catalogPath := filepath.Join(dir, entry.Name(), CatalogName(start))
		if _, err := os.Stat(catalogPath); err != nil {
			s.logger.Debug().
				Str("archive", entry.Name()).
				Msg("archive has no readable catalog, ignoring")
			continue
		}

		records = append(records, models.RunRecord{
			Level:     level,
			StartTime: start,
			Outcome:   models.OutcomeSuccess,
		})
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].StartTime.Before(records[j].StartTime)
	})

	s.logger.Debug().
		Str("dir", dir).
		Int("archives", len(records)).
		Msg("archive scan complete")

	return records, nil
}

// Prune removes archives made obsolete by a just-finished run of the given
// level and returns the names of the removed archive directories. A new full
// obsoletes every diff and incr older than the previous full, and every incr
// older than the newest remaining diff. A new diff obsoletes every incr older
// than the previous diff. Full archives are never removed, and an incr run
// obsoletes nothing.
func (s *Impl) Prune(dir string, level models.BackupLevel) ([]string, error) {
	if level == models.LevelIncr {
		return nil, nil
	}

	records, err := s.Scan(dir)
	if err != nil {
		return nil, err
	}

	byLevel := func(l models.BackupLevel) []models.RunRecord {
		var out []models.RunRecord
		for _, rec := range records {
			if rec.Level == l {
				out = append(out, rec)
			}
		}
		return out
	}

	var removed []string
	gone := map[string]bool{}
	remove := func(rec models.RunRecord) error {
		name := ArchiveName(rec.Level, rec.StartTime)
		if gone[name] {
			return nil
		}
		if err := s.removeArchive(filepath.Join(dir, name)); err != nil {
			return err
		}
		gone[name] = true
		removed = append(removed, name)
		return nil
	}
	removeBefore := func(l models.BackupLevel, cutoff time.Time) error {
		for _, rec := range byLevel(l) {
			if rec.StartTime.Before(cutoff) {
				if err := remove(rec); err != nil {
					return err
				}
			}
		}
		return nil
	}

	sameLevel := byLevel(level)
	if len(sameLevel) < 2 {
		return nil, nil
	}
	previous := sameLevel[len(sameLevel)-2].StartTime

	switch level {
	case models.LevelFull:
		if err := removeBefore(models.LevelIncr, previous); err != nil {
			return removed, err
		}
		if err := removeBefore(models.LevelDiff, previous); err != nil {
			return removed, err
		}
		// Incrs between the previous full and the newest surviving diff
		// are covered by that diff.
		var lastDiff time.Time
		for _, rec := range byLevel(models.LevelDiff) {
			if !rec.StartTime.Before(previous) {
				lastDiff = rec.StartTime
			}
		}
		if !lastDiff.IsZero() {
			if err := removeBefore(models.LevelIncr, lastDiff); err != nil {
				return removed, err
			}
		}
	case models.LevelDiff:
		if err := removeBefore(models.LevelIncr, previous); err != nil {
			return removed, err
		}
	}

	if len(removed) > 0 {
		s.logger.Info().
			Str("dir", dir).
			Strs("archives", removed).
			Msg("pruned obsolete archives")
	}
	return removed, nil
}

// removeArchive deletes the backup slices and checksum files inside an
// archive directory, then the directory itself once it is empty. Unrelated
// files keep the directory in place.
func (s *Impl) removeArchive(path string) error {
	for _, pattern := range []string{"*.dar", "*.dar.md5"} {
		matches, err := filepath.Glob(filepath.Join(path, pattern))
		if err != nil {
			return fmt.Errorf("pruning archive %q: %w", path, err)
		}
		for _, match := range matches {
			if err := os.Remove(match); err != nil {
				return fmt.Errorf("pruning archive %q: %w", path, err)
			}
		}
	}
	if err := os.Remove(path); err != nil {
		s.logger.Warn().Str("archive", path).Err(err).Msg("archive directory not removed")
	}
	return nil
}
