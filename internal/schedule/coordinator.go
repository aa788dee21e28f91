package schedule

import (
	"fmt"
	"sort"
	"time"

	"github.com/mkoppmann/backsched/internal/models"
)

// Coordinator applies the engine to every configured target independently
// and orders the results by urgency. It performs no I/O; its sorted output
// is the entire contract exposed to the invoking layer.
type Coordinator struct {
	engine  *Engine
	targets map[string]*Target
}

// NewCoordinator creates a coordinator over the given engine.
func NewCoordinator(engine *Engine) *Coordinator {
	return &Coordinator{
		engine:  engine,
		targets: make(map[string]*Target),
	}
}

// Add registers a target. Target names must be unique.
func (c *Coordinator) Add(t *Target) error {
	if t.Name == "" {
		return fmt.Errorf("target name must not be empty")
	}
	if _, exists := c.targets[t.Name]; exists {
		return fmt.Errorf("duplicate target %q", t.Name)
	}
	c.targets[t.Name] = t
	return nil
}

// Engine returns the engine the coordinator evaluates with.
func (c *Coordinator) Engine() *Engine {
	return c.engine
}

// Target returns a registered target by name.
func (c *Coordinator) Target(name string) (*Target, bool) {
	t, ok := c.targets[name]
	return t, ok
}

// Targets returns all registered targets sorted by name.
func (c *Coordinator) Targets() []*Target {
	out := make([]*Target, 0, len(c.targets))
	for _, t := range c.targets {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// RecordRun appends a just-completed run to a target's history so that
// subsequent evaluations reflect it.
func (c *Coordinator) RecordRun(name string, rec models.RunRecord) error {
	t, ok := c.targets[name]
	if !ok {
		return fmt.Errorf("unknown target %q", name)
	}
	if err := t.History.Append(rec); err != nil {
		return fmt.Errorf("recording run for target %q: %w", name, err)
	}
	return nil
}

// Evaluate produces one entry per registered target, most urgent first
// (most overdue at the head). Ties break towards the coarser due level,
// then the target name, so the ordering is deterministic. A target whose
// configuration cannot be evaluated carries its error instead of a verdict
// and sorts after all evaluable targets; one broken target never aborts the
// batch.
func (c *Coordinator) Evaluate(now time.Time) []models.TargetVerdict {
	results := make([]models.TargetVerdict, 0, len(c.targets))
	for _, t := range c.targets {
		verdict, err := c.engine.Evaluate(t, now)
		results = append(results, models.TargetVerdict{
			Target:  t.Name,
			Verdict: verdict,
			Err:     err,
		})
	}

	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if (a.Err == nil) != (b.Err == nil) {
			return a.Err == nil
		}
		if a.Err != nil {
			return a.Target < b.Target
		}
		if a.Verdict.Urgency != b.Verdict.Urgency {
			return a.Verdict.Urgency < b.Verdict.Urgency
		}
		if a.Verdict.DueLevel != b.Verdict.DueLevel {
			return levelRank(a.Verdict.DueLevel) < levelRank(b.Verdict.DueLevel)
		}
		return a.Target < b.Target
	})
	return results
}

// levelRank orders levels coarsest first for tie-breaking, with "nothing
// due" after every real level.
func levelRank(l models.BackupLevel) int {
	if l == models.LevelNone {
		return int(models.LevelIncr) + 1
	}
	return int(l)
}
