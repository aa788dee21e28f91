package models

import "fmt"

// BackupLevel identifies one layer of the backup chain. Levels are totally
// ordered by dependency: a diff is taken relative to a full, an incr
// relative to the most recent diff or full.
type BackupLevel int

const (
	// LevelNone is the sentinel for "no level", used in verdicts when
	// nothing is currently due.
	LevelNone BackupLevel = iota - 1

	// LevelFull is a complete, self-sufficient snapshot.
	LevelFull

	// LevelDiff captures changes since the last full.
	LevelDiff

	// LevelIncr captures changes since the last diff (or full, if no diff
	// exists yet).
	LevelIncr
)

// Levels lists the real backup levels, coarsest first.
var Levels = [3]BackupLevel{LevelFull, LevelDiff, LevelIncr}

// Coarser reports whether l depends on fewer prior backups than other.
func (l BackupLevel) Coarser(other BackupLevel) bool {
	return l < other
}

// Prerequisite returns the level a backup of level l is taken relative to.
// A full has no prerequisite and returns LevelNone.
func (l BackupLevel) Prerequisite() BackupLevel {
	switch l {
	case LevelDiff:
		return LevelFull
	case LevelIncr:
		return LevelDiff
	default:
		return LevelNone
	}
}

// Suffix returns the archive name suffix for the level.
func (l BackupLevel) Suffix() string {
	switch l {
	case LevelFull:
		return "full"
	case LevelDiff:
		return "diff"
	case LevelIncr:
		return "incr"
	default:
		return "none"
	}
}

// String implements fmt.Stringer.
func (l BackupLevel) String() string {
	switch l {
	case LevelFull:
		return "full"
	case LevelDiff:
		return "diff"
	case LevelIncr:
		return "incr"
	case LevelNone:
		return "none"
	default:
		return fmt.Sprintf("level(%d)", int(l))
	}
}

// ParseLevel converts an archive suffix back into a BackupLevel.
func ParseLevel(s string) (BackupLevel, error) {
	switch s {
	case "full":
		return LevelFull, nil
	case "diff":
		return LevelDiff, nil
	case "incr":
		return LevelIncr, nil
	default:
		return LevelNone, fmt.Errorf("unknown backup level %q", s)
	}
}
