// Package runner orchestrates the scheduling loop: it feeds histories into
// the coordinator, acts on due verdicts by invoking the archiver, and
// records outcomes so the next evaluation sees them.
package runner

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/mkoppmann/backsched/internal/estimate"
	"github.com/mkoppmann/backsched/internal/models"
	"github.com/mkoppmann/backsched/internal/schedule"
	"github.com/mkoppmann/backsched/internal/services/archiver"
	"github.com/mkoppmann/backsched/internal/services/catalog"
	"github.com/mkoppmann/backsched/internal/services/notify"
	"github.com/mkoppmann/backsched/internal/services/remote"
	"github.com/mkoppmann/backsched/internal/services/wake"
)

// Loop bounds: never spin faster than minSleep, never sleep blindly past
// maxSleep even when nothing is due for days.
const (
	minSleep = 30 * time.Second
	maxSleep = 15 * time.Minute
)

// RunStore persists run outcomes across restarts. A nil store disables
// persistence; discovery of on-disk archives still seeds the history.
type RunStore interface {
	AppendRun(target string, rec models.RunRecord) error
	History(target string) ([]models.RunRecord, error)
}

// Impl wires the scheduling core to its collaborators.
type Impl struct {
	cfg         models.Config
	coordinator *schedule.Coordinator
	store       RunStore
	catalogSvc  catalog.Service
	archiverSvc archiver.Service
	wakeSvc     wake.Service
	hookSvc     remote.Service
	notifySvc   notify.Service
	logger      zerolog.Logger
	clock       func() time.Time

	targetCfgs map[string]models.TargetConfig
}

// New creates a runner with default service implementations and loads each
// target's history from the store and from on-disk archive discovery.
func New(logger zerolog.Logger, cfg models.Config, store RunStore) (*Impl, error) {
	r := &Impl{
		cfg:         cfg,
		store:       store,
		catalogSvc:  catalog.New(logger),
		archiverSvc: archiver.New(logger),
		wakeSvc:     wake.New(logger),
		hookSvc:     remote.New(logger),
		notifySvc:   notify.New(logger),
		logger:      logger,
		clock:       time.Now,
	}
	if err := r.init(); err != nil {
		return nil, err
	}
	return r, nil
}

// NewWithServices creates a runner with custom collaborators (for testing).
func NewWithServices(
	logger zerolog.Logger,
	cfg models.Config,
	store RunStore,
	catalogSvc catalog.Service,
	archiverSvc archiver.Service,
	wakeSvc wake.Service,
	hookSvc remote.Service,
	notifySvc notify.Service,
	clock func() time.Time,
) (*Impl, error) {
	r := &Impl{
		cfg:         cfg,
		store:       store,
		catalogSvc:  catalogSvc,
		archiverSvc: archiverSvc,
		wakeSvc:     wakeSvc,
		hookSvc:     hookSvc,
		notifySvc:   notifySvc,
		logger:      logger,
		clock:       clock,
	}
	if err := r.init(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Impl) init() error {
	engine := schedule.NewEngine(estimate.New(r.cfg.Estimator.Alpha))
	r.coordinator = schedule.NewCoordinator(engine)
	r.targetCfgs = make(map[string]models.TargetConfig, len(r.cfg.Targets))

	for _, tc := range r.cfg.Targets {
		target := schedule.NewTarget(tc)
		records, err := r.loadHistory(tc)
		if err != nil {
			return fmt.Errorf("target %q: %w", tc.Name, err)
		}
		for _, rec := range records {
			if err := target.History.Append(rec); err != nil {
				return fmt.Errorf("target %q: %w", tc.Name, err)
			}
		}
		if err := r.coordinator.Add(target); err != nil {
			return err
		}
		r.targetCfgs[tc.Name] = tc

		r.logger.Debug().
			Str("target", tc.Name).
			Int("runs", target.History.Len()).
			Msg("target history loaded")
	}
	return nil
}

// loadHistory merges the persisted run log with archives discovered on
// disk. Discovery fills gaps the log does not know about (archives created
// before persistence existed); persisted records win because they carry
// durations and failures.
func (r *Impl) loadHistory(tc models.TargetConfig) ([]models.RunRecord, error) {
	var persisted []models.RunRecord
	if r.store != nil {
		var err error
		persisted, err = r.store.History(tc.Name)
		if err != nil {
			return nil, err
		}
	}

	// Archive names carry only minute precision, so a persisted record and
	// its own discovered archive match on the truncated instant, never on
	// the exact time.Time (which also differs by zone representation).
	type key struct {
		level models.BackupLevel
		start int64
	}
	mergeKey := func(rec models.RunRecord) key {
		return key{rec.Level, rec.StartTime.Truncate(time.Minute).Unix()}
	}

	known := make(map[key]bool, len(persisted))
	for _, rec := range persisted {
		known[mergeKey(rec)] = true
	}

	merged := persisted
	if tc.ArchiveDir != "" {
		discovered, err := r.catalogSvc.Scan(tc.ArchiveDir)
		if err != nil {
			// A missing archive directory is normal before the first run.
			r.logger.Debug().Err(err).Str("target", tc.Name).Msg("archive discovery skipped")
		}
		for _, rec := range discovered {
			if !known[mergeKey(rec)] {
				merged = append(merged, rec)
			}
		}
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].StartTime.Before(merged[j].StartTime)
	})
	return merged, nil
}

// Coordinator exposes the evaluation entry point, e.g. for status output.
func (r *Impl) Coordinator() *schedule.Coordinator {
	return r.coordinator
}

// RunDue evaluates all targets and runs every one with a due level, most
// urgent first. It returns the number of backups attempted; per-target
// failures are logged and reported, never abort the sweep.
func (r *Impl) RunDue(ctx context.Context) (int, error) {
	now := r.clock()
	attempted := 0
	var firstErr error

	for _, tv := range r.coordinator.Evaluate(now) {
		if tv.Err != nil {
			r.logger.Error().Err(tv.Err).Str("target", tv.Target).Msg("target misconfigured, skipping")
			r.alert(ctx, tv.Target, fmt.Sprintf("target %s is misconfigured: %v", tv.Target, tv.Err))
			continue
		}
		if tv.Verdict.DueLevel == models.LevelNone {
			continue
		}
		if err := ctx.Err(); err != nil {
			return attempted, err
		}

		attempted++
		if err := r.RunTarget(ctx, tv.Target, tv.Verdict.DueLevel, tv.Verdict); err != nil {
			r.logger.Error().Err(err).Str("target", tv.Target).Msg("backup run failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return attempted, firstErr
}

// ForceRun runs a backup for one target right now, at the due level if one
// exists, otherwise at the finest level whose prerequisites are satisfied.
func (r *Impl) ForceRun(ctx context.Context, name string) error {
	if _, ok := r.coordinator.Target(name); !ok {
		return fmt.Errorf("unknown target %q", name)
	}

	var tv models.TargetVerdict
	for _, v := range r.coordinator.Evaluate(r.clock()) {
		if v.Target == name {
			tv = v
			break
		}
	}
	if tv.Err != nil {
		return tv.Err
	}

	level := tv.Verdict.DueLevel
	if level == models.LevelNone {
		// Finest schedulable level: an extra incr is cheap, an extra full
		// is not.
		for i := len(tv.Verdict.Levels) - 1; i >= 0; i-- {
			lv := tv.Verdict.Levels[i]
			if lv.State == models.StatePending || lv.State == models.StateDue {
				level = lv.Level
				break
			}
		}
	}
	if level == models.LevelNone {
		// Nothing pending or due; the chain has to start somewhere.
		level = models.LevelFull
	}

	return r.RunTarget(ctx, name, level, tv.Verdict)
}

// RunTarget executes one backup run for a target at the given level: wake
// the client, run the pre-run hook, invoke the archiver, record the
// outcome, run the post-run hook, and report.
func (r *Impl) RunTarget(ctx context.Context, name string, level models.BackupLevel, verdict models.ScheduleVerdict) error {
	target, ok := r.coordinator.Target(name)
	if !ok {
		return fmt.Errorf("unknown target %q", name)
	}
	tc, ok := r.targetCfgs[name]
	if !ok {
		return fmt.Errorf("no configuration for target %q", name)
	}

	start := r.clock()
	r.logger.Info().
		Str("target", name).
		Str("level", level.String()).
		Time("latest_safe_start", verdict.LatestSafeStart).
		Msg("starting backup run")

	var failedStep string
	var runErr error
	var archiveName string

	defer func() {
		if tc.Telegram != nil {
			r.sendRunReport(ctx, tc, level, start, verdict, archiveName, failedStep, runErr)
		}
	}()

	if tc.Wake != nil {
		failedStep = "wake"
		result, err := r.wakeSvc.Wake(ctx, *tc.Wake)
		if err != nil {
			runErr = err
			return err
		}
		if result.Error != nil {
			runErr = fmt.Errorf("waking client: %w", result.Error)
			return runErr
		}
		if tc.Wake.PollURL != "" && !result.ClientReady {
			runErr = fmt.Errorf("client did not become ready after wake")
			return runErr
		}
	}

	if tc.Hooks != nil && tc.Hooks.PreRun != "" {
		failedStep = "pre_run"
		result, err := r.hookSvc.Run(ctx, *tc.Hooks, tc.Hooks.PreRun)
		if err != nil {
			runErr = err
			return err
		}
		if result.Error != nil {
			runErr = fmt.Errorf("pre-run hook: %w", result.Error)
			return runErr
		}
	}

	failedStep = "archiver"
	ref := r.referenceArchive(target, level)
	result, err := r.archiverSvc.Backup(ctx, tc, level, ref, start)
	if err != nil {
		runErr = err
		return err
	}

	outcome := models.OutcomeSuccess
	if result.Error != nil {
		outcome = models.OutcomeFailure
		runErr = result.Error
	}
	archiveName = result.ArchiveName

	// Failures are recorded too; they never anchor a level clock but they
	// are part of the target's history.
	rec := models.RunRecord{
		Level:     level,
		StartTime: start,
		Duration:  result.Duration,
		Outcome:   outcome,
	}
	if err := r.recordOutcome(name, rec); err != nil {
		r.logger.Error().Err(err).Str("target", name).Msg("failed to record run outcome")
	}

	if outcome == models.OutcomeSuccess && tc.ArchiveDir != "" {
		// A fresh full or diff makes older dependent archives restorable
		// from nothing; reclaim their space. A failed prune never fails
		// the backup.
		if _, err := r.catalogSvc.Prune(tc.ArchiveDir, level); err != nil {
			r.logger.Warn().Err(err).Str("target", name).Msg("archive pruning failed")
		}
	}

	if tc.Hooks != nil && tc.Hooks.PostRun != "" {
		// A failed post-run hook must not turn a good backup into a bad
		// one; log and move on.
		if hres, err := r.hookSvc.Run(ctx, *tc.Hooks, tc.Hooks.PostRun); err != nil {
			r.logger.Warn().Err(err).Str("target", name).Msg("post-run hook failed")
		} else if hres.Error != nil {
			r.logger.Warn().Err(hres.Error).Str("target", name).Msg("post-run hook failed")
		}
	}

	if runErr != nil {
		return fmt.Errorf("archiver run for target %q: %w", name, runErr)
	}

	failedStep = ""
	r.logger.Info().
		Str("target", name).
		Str("archive", result.ArchiveName).
		Dur("duration", result.Duration).
		Msg("backup run completed")
	return nil
}

// referenceArchive names the archive a diff or incr run is taken relative
// to: the last successful full for a diff, the most recent successful run
// of any level for an incr.
func (r *Impl) referenceArchive(target *schedule.Target, level models.BackupLevel) string {
	var anchor models.RunRecord
	var ok bool
	switch level {
	case models.LevelDiff:
		anchor, ok = target.History.LastSuccessfulAtOrAbove(models.LevelFull)
	case models.LevelIncr:
		anchor, ok = target.History.LastSuccessfulAtOrAbove(models.LevelIncr)
	default:
		return ""
	}
	if !ok {
		return ""
	}
	return catalog.ArchiveName(anchor.Level, anchor.StartTime)
}

func (r *Impl) recordOutcome(name string, rec models.RunRecord) error {
	if err := r.coordinator.RecordRun(name, rec); err != nil {
		return err
	}
	if r.store != nil {
		return r.store.AppendRun(name, rec)
	}
	return nil
}

// Loop runs the evaluate-act cycle until the context is cancelled, sleeping
// until the earliest latest-safe-start across all targets so it does not
// poll needlessly.
func (r *Impl) Loop(ctx context.Context) error {
	for {
		if _, err := r.RunDue(ctx); err != nil && ctx.Err() != nil {
			return ctx.Err()
		}

		sleep := r.nextWake()
		r.logger.Debug().Dur("sleep", sleep).Msg("scheduler sleeping")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}
	}
}

// nextWake computes how long the loop may sleep: until the smallest
// positive urgency, clamped into [minSleep, maxSleep].
func (r *Impl) nextWake() time.Duration {
	now := r.clock()
	sleep := maxSleep
	for _, tv := range r.coordinator.Evaluate(now) {
		if tv.Err != nil || tv.Verdict.Never() {
			continue
		}
		if u := tv.Verdict.Urgency; u > 0 && u < sleep {
			sleep = u
		}
	}
	if sleep < minSleep {
		sleep = minSleep
	}
	return sleep
}

func (r *Impl) sendRunReport(
	ctx context.Context,
	tc models.TargetConfig,
	level models.BackupLevel,
	start time.Time,
	verdict models.ScheduleVerdict,
	archiveName string,
	failedStep string,
	runErr error,
) {
	msg := models.TelegramMessage{
		Success:     runErr == nil,
		Target:      tc.Name,
		Level:       level,
		StartTime:   start,
		Duration:    r.clock().Sub(start),
		ArchiveName: archiveName,
	}
	if !verdict.LatestSafeStart.IsZero() && start.After(verdict.LatestSafeStart) {
		msg.Overdue = start.Sub(verdict.LatestSafeStart)
	}
	if runErr != nil {
		msg.FailedStep = failedStep
		msg.ErrorMessage = runErr.Error()
	}

	result, err := r.notifySvc.SendRunReport(ctx, *tc.Telegram, msg)
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to send run report")
		return
	}
	if result.Error != nil {
		r.logger.Error().Err(result.Error).Msg("failed to send run report")
	}
}

func (r *Impl) alert(ctx context.Context, targetName, text string) {
	tc, ok := r.targetCfgs[targetName]
	if !ok || tc.Telegram == nil {
		return
	}
	if result, err := r.notifySvc.SendAlert(ctx, *tc.Telegram, text); err != nil {
		r.logger.Error().Err(err).Msg("failed to send alert")
	} else if result.Error != nil {
		r.logger.Error().Err(result.Error).Msg("failed to send alert")
	}
}
