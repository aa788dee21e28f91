// Package estimate derives expected backup durations from noisy historical
// samples.
package estimate

import (
	"time"

	"github.com/mkoppmann/backsched/internal/history"
	"github.com/mkoppmann/backsched/internal/models"
)

// DefaultAlpha is the default EWMA smoothing factor. At 0.3 the five most
// recent samples carry roughly 83% of the weight, so the estimate tracks
// growth trends without letting a single slow run dominate.
const DefaultAlpha = 0.3

// Confidence grades how much history backs an estimate.
type Confidence int

const (
	// ConfidenceNone means no successful runs exist; there is no estimate.
	ConfidenceNone Confidence = iota

	// ConfidenceLow means the estimate is a single sample taken verbatim.
	ConfidenceLow

	// ConfidenceHigh means the estimate is smoothed over two or more
	// samples.
	ConfidenceHigh
)

// String implements fmt.Stringer.
func (c Confidence) String() string {
	switch c {
	case ConfidenceNone:
		return "none"
	case ConfidenceLow:
		return "low"
	case ConfidenceHigh:
		return "high"
	default:
		return "unknown"
	}
}

// DurationEstimate is the derived expected duration for one (target, level)
// pair. It is a pure function of the run history and is never persisted.
type DurationEstimate struct {
	Expected    time.Duration
	Confidence  Confidence
	SampleCount int
}

// Estimator computes duration estimates from run histories.
type Estimator struct {
	alpha float64
}

// New creates an estimator with the given smoothing factor. Values outside
// (0,1) select DefaultAlpha.
func New(alpha float64) *Estimator {
	if alpha <= 0 || alpha >= 1 {
		alpha = DefaultAlpha
	}
	return &Estimator{alpha: alpha}
}

// Estimate returns the expected duration of a run at the given level,
// smoothed over the target's successful runs. Backup durations drift as
// data volume grows, so recent samples are weighted exponentially heavier
// than old ones (oldest to newest EWMA). With no samples the result carries
// ConfidenceNone and the caller must supply its own fallback; a zero
// expected duration must never be assumed.
func (e *Estimator) Estimate(log *history.Log, level models.BackupLevel) DurationEstimate {
	samples := log.SuccessfulSamples(level)
	if len(samples) == 0 {
		return DurationEstimate{Confidence: ConfidenceNone}
	}
	if len(samples) == 1 {
		return DurationEstimate{
			Expected:    samples[0],
			Confidence:  ConfidenceLow,
			SampleCount: 1,
		}
	}

	// Samples arrive most-recent-first; the EWMA walks oldest to newest.
	ewma := float64(samples[len(samples)-1])
	for i := len(samples) - 2; i >= 0; i-- {
		ewma = e.alpha*float64(samples[i]) + (1-e.alpha)*ewma
	}

	return DurationEstimate{
		Expected:    time.Duration(ewma),
		Confidence:  ConfidenceHigh,
		SampleCount: len(samples),
	}
}
