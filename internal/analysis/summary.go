package analysis

import (
	"fmt"

	"github.com/bc-dunia/failoverdrill/internal/types"
)

// cpuSaturationThreshold marks the harness host as saturated.
const cpuSaturationThreshold = 80.0

// Options controls how records are tallied.
type Options struct {
	// StrictFallback counts only confirmed fallbacks. By default every
	// completed fallback phase counts as a success, unlike the other phases.
	StrictFallback bool
}

// PhaseStats holds the reduced durations and tally for one phase.
// Durations are in seconds.
type PhaseStats struct {
	Mean         float64 `json:"mean_seconds"`
	StdDev       float64 `json:"stddev_seconds"`
	Min          float64 `json:"min_seconds"`
	Max          float64 `json:"max_seconds"`
	Median       float64 `json:"median_seconds"`
	Samples      int     `json:"samples"`
	SuccessCount int     `json:"success_count"`
	Total        int     `json:"total"`
	SuccessRatio float64 `json:"success_ratio"`
}

// SuccessPercent returns the success ratio as a percentage.
func (p PhaseStats) SuccessPercent() float64 {
	return p.SuccessRatio * 100
}

// HostHealth summarises the load of the harness host across iterations.
type HostHealth struct {
	PeakCPUPercent     float64 `json:"peak_cpu_percent"`
	PeakMemoryMB       float64 `json:"peak_memory_mb"`
	PeakLoadAvg1       float64 `json:"peak_load_avg_1"`
	Samples            int     `json:"samples"`
	SaturationDetected bool    `json:"saturation_detected"`
	SaturationReason   string  `json:"saturation_reason,omitempty"`
}

// RunSummary is computed once from the full record sequence and never mutated.
type RunSummary struct {
	Iterations     int                         `json:"iterations"`
	Completed      int                         `json:"completed"`
	StrictFallback bool                        `json:"strict_fallback"`
	Phases         map[types.Phase]*PhaseStats `json:"phases"`
	HostHealth     *HostHealth                 `json:"host_health,omitempty"`
}

// Phase returns the stats for p, or a zero value if p is unknown.
func (s *RunSummary) Phase(p types.Phase) PhaseStats {
	if s == nil || s.Phases[p] == nil {
		return PhaseStats{}
	}
	return *s.Phases[p]
}

// Summarize reduces records into per-phase statistics. Success ratios are
// computed against iterations, the configured count; when iterations is not
// positive the number of records is used. The records are not modified.
func Summarize(records []types.IterationRecord, iterations int, opts Options) *RunSummary {
	if iterations <= 0 {
		iterations = len(records)
	}

	summary := &RunSummary{
		Iterations:     iterations,
		Completed:      len(records),
		StrictFallback: opts.StrictFallback,
		Phases:         make(map[types.Phase]*PhaseStats, len(types.Phases)),
	}

	for _, phase := range types.Phases {
		samples := make([]float64, 0, len(records))
		successes := 0
		for _, rec := range records {
			outcome := rec.Outcome(phase)
			samples = append(samples, outcome.Seconds())
			if countsAsSuccess(phase, outcome, opts) {
				successes++
			}
		}

		stats := &PhaseStats{
			Mean:         Mean(samples),
			StdDev:       StdDev(samples),
			Min:          Min(samples),
			Max:          Max(samples),
			Median:       Median(samples),
			Samples:      len(samples),
			SuccessCount: successes,
			Total:        iterations,
		}
		if iterations > 0 {
			stats.SuccessRatio = float64(successes) / float64(iterations)
		}
		summary.Phases[phase] = stats
	}

	summary.HostHealth = computeHostHealth(records)
	return summary
}

// countsAsSuccess applies the tally rule. A recorded fallback phase has
// always completed, so outside strict mode it always counts.
func countsAsSuccess(phase types.Phase, outcome types.PhaseOutcome, opts Options) bool {
	if phase == types.PhaseFallback && !opts.StrictFallback {
		return true
	}
	return outcome.Succeeded
}

func computeHostHealth(records []types.IterationRecord) *HostHealth {
	var health *HostHealth
	for _, rec := range records {
		if rec.Host == nil {
			continue
		}
		if health == nil {
			health = &HostHealth{}
		}
		health.Samples++
		if rec.Host.CPUPercent > health.PeakCPUPercent {
			health.PeakCPUPercent = rec.Host.CPUPercent
		}
		if mb := rec.Host.MemUsedMB(); mb > health.PeakMemoryMB {
			health.PeakMemoryMB = mb
		}
		if rec.Host.LoadAvg1 > health.PeakLoadAvg1 {
			health.PeakLoadAvg1 = rec.Host.LoadAvg1
		}
	}
	if health == nil {
		return nil
	}

	if health.PeakCPUPercent >= cpuSaturationThreshold {
		health.SaturationDetected = true
		health.SaturationReason = fmt.Sprintf("harness CPU usage reached %.1f%%", health.PeakCPUPercent)
	}
	return health
}
