// Package archiver invokes the external archiver process for one backup
// run. The scheduling core never calls this directly; the runner does,
// acting on a verdict.
package archiver

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/mkoppmann/backsched/internal/models"
	"github.com/mkoppmann/backsched/internal/services/catalog"
	"github.com/rs/zerolog"
)

// DefaultCommand is used when a target does not name an archiver binary.
const DefaultCommand = "dar"

// Service defines the interface for archiver invocations.
type Service interface {
	Backup(ctx context.Context, cfg models.TargetConfig, level models.BackupLevel, ref string, start time.Time) (*models.ArchiveResult, error)
}

// CommandExecutor allows mocking exec.Command in tests.
type CommandExecutor interface {
	Execute(ctx context.Context, name string, args ...string) ([]byte, error)
}

// DefaultExecutor is the default command executor using os/exec.
type DefaultExecutor struct{}

// Execute runs a command and returns its combined output.
func (e *DefaultExecutor) Execute(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	return cmd.CombinedOutput()
}

// Impl implements the archiver Service interface.
type Impl struct {
	executor CommandExecutor
	logger   zerolog.Logger
}

// New creates a new archiver service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		executor: &DefaultExecutor{},
		logger:   logger,
	}
}

// NewWithExecutor creates a new archiver service with a custom executor
// (for testing).
func NewWithExecutor(logger zerolog.Logger, executor CommandExecutor) *Impl {
	return &Impl{
		executor: executor,
		logger:   logger,
	}
}

// Backup creates one archive at the given level. For diff and incr runs,
// ref names the archive directory the run is taken relative to; its catalog
// becomes the archiver's reference. After a successful run the archive's
// own catalog is isolated next to it, which is what later discovery scans
// look for.
func (s *Impl) Backup(ctx context.Context, cfg models.TargetConfig, level models.BackupLevel, ref string, start time.Time) (*models.ArchiveResult, error) {
	result := &models.ArchiveResult{
		ArchiveName: catalog.ArchiveName(level, start),
	}
	began := time.Now()

	if level != models.LevelFull && ref == "" {
		result.Error = fmt.Errorf("%s backup requires a reference archive", level)
		return result, nil
	}

	archiveDir := filepath.Join(cfg.ArchiveDir, result.ArchiveName)
	if err := os.MkdirAll(archiveDir, 0o755); err != nil {
		result.Error = fmt.Errorf("creating archive directory: %w", err)
		return result, nil
	}

	command := cfg.Archiver.Command
	if command == "" {
		command = DefaultCommand
	}

	stamp := start.Format(catalog.TimestampFormat)
	base := filepath.Join(archiveDir, stamp)

	args := []string{"-c", base}
	if ref != "" {
		refStamp := ref[:len(catalog.TimestampFormat)]
		refCatalog := filepath.Join(cfg.ArchiveDir, ref, refStamp+"-catalog")
		args = append(args, "--ref", refCatalog)
	}
	args = append(args, cfg.Archiver.Options...)

	s.logger.Info().
		Str("target", cfg.Name).
		Str("level", level.String()).
		Str("archive", result.ArchiveName).
		Str("ref", ref).
		Msg("starting archiver")

	output, err := s.executor.Execute(ctx, command, args...)
	result.Output = string(output)
	if err != nil {
		result.Duration = time.Since(began)
		result.Error = fmt.Errorf("archiver failed: %w", err)
		return result, nil //nolint:nilerr // error is stored in result struct by design
	}

	// Isolate the catalog so discovery can recognise the archive later.
	catalogBase := filepath.Join(archiveDir, stamp+"-catalog")
	output, err = s.executor.Execute(ctx, command, "-C", catalogBase, "-A", base)
	if err != nil {
		result.Output += string(output)
		result.Duration = time.Since(began)
		result.Error = fmt.Errorf("catalog isolation failed: %w", err)
		return result, nil //nolint:nilerr // error is stored in result struct by design
	}

	result.Duration = time.Since(began)

	s.logger.Info().
		Str("target", cfg.Name).
		Str("archive", result.ArchiveName).
		Dur("duration", result.Duration).
		Msg("archiver finished")

	return result, nil
}
