// Package models contains the data structures used throughout backsched.
package models

import "time"

// Config holds the complete configuration for the scheduler process.
type Config struct {
	DatabasePath string // run log database; empty disables persistence
	Estimator    EstimatorConfig
	Targets      []TargetConfig
}

// EstimatorConfig tunes the duration estimator.
type EstimatorConfig struct {
	// Alpha is the EWMA smoothing factor in (0,1). Zero selects the
	// default, chosen so the most recent handful of runs dominates.
	Alpha float64
}

// IntervalConfig holds one target's staleness budgets per level. A zero
// duration disables the level: it never becomes due. A negative duration is
// a misconfiguration surfaced at evaluation time, not a crash.
type IntervalConfig struct {
	Full time.Duration
	Diff time.Duration
	Incr time.Duration
}

// IntervalFor returns the configured interval for the level; zero means the
// level is disabled.
func (c IntervalConfig) IntervalFor(level BackupLevel) time.Duration {
	switch level {
	case LevelFull:
		return c.Full
	case LevelDiff:
		return c.Diff
	case LevelIncr:
		return c.Incr
	default:
		return 0
	}
}

// TargetConfig is one named backup definition.
type TargetConfig struct {
	Name      string
	Intervals IntervalConfig

	// DefaultDuration is the fallback run-duration estimate used while the
	// target has no successful runs to estimate from. Zero means none; the
	// engine then treats the target as requiring immediate attention once
	// something is due.
	DefaultDuration time.Duration

	// ArchiveDir is where this target's archives and catalogs live. Opaque
	// to the scheduling core; consumed by the archiver and catalog
	// services.
	ArchiveDir string

	Archiver ArchiverConfig
	Wake     *WakeConfig     // nil if not configured
	Hooks    *HookConfig     // nil if not configured
	Telegram *TelegramConfig // nil if not configured
}

// ArchiverConfig describes how to invoke the external archiver for a
// target.
type ArchiverConfig struct {
	Command string   // archiver binary, e.g. "dar"
	Options []string // extra command line options passed through verbatim
}

// ArchiveResult holds the outcome of one archiver invocation.
type ArchiveResult struct {
	ArchiveName string // basename of the created archive directory
	Output      string // combined archiver output, for diagnostics
	Duration    time.Duration
	Error       error
}
