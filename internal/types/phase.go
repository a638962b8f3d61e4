// Package types holds the measurement records shared by the harness,
// the probers and the analysis packages.
package types

import (
	"encoding/json"
	"time"

	"github.com/bc-dunia/failoverdrill/internal/agent"
)

// Phase names one measured segment of an iteration.
type Phase string

const (
	PhaseStop     Phase = "stop"
	PhaseFailover Phase = "failover"
	PhaseStart    Phase = "start"
	PhaseFallback Phase = "fallback"
)

// Phases lists the measured phases in execution order.
var Phases = []Phase{PhaseStop, PhaseFailover, PhaseStart, PhaseFallback}

// Observation is the outcome of a bounded poll.
// Confirmed is false when the budget ran out and the target was assumed.
// At is the moment the target was observed, or the moment the budget expired.
type Observation struct {
	Confirmed bool
	At        time.Time
	Elapsed   time.Duration
}

// PhaseOutcome is the measured duration of a phase and whether its end was observed.
// Duration is recorded even when Succeeded is false.
type PhaseOutcome struct {
	Duration  time.Duration
	Succeeded bool
}

type phaseOutcomeJSON struct {
	DurationSeconds float64 `json:"duration_seconds"`
	Succeeded       bool    `json:"succeeded"`
}

// Seconds returns the duration as float seconds.
func (p PhaseOutcome) Seconds() float64 {
	return p.Duration.Seconds()
}

func (p PhaseOutcome) MarshalJSON() ([]byte, error) {
	return json.Marshal(phaseOutcomeJSON{
		DurationSeconds: p.Duration.Seconds(),
		Succeeded:       p.Succeeded,
	})
}

func (p *PhaseOutcome) UnmarshalJSON(data []byte) error {
	var raw phaseOutcomeJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	p.Duration = time.Duration(raw.DurationSeconds * float64(time.Second))
	p.Succeeded = raw.Succeeded
	return nil
}

// IterationRecord holds one complete failure-injection/recovery cycle.
// It is immutable once appended to a run.
type IterationRecord struct {
	Index      int                `json:"index"`
	StartedAt  time.Time          `json:"started_at"`
	FinishedAt time.Time          `json:"finished_at"`
	Stop       PhaseOutcome       `json:"stop"`
	Failover   PhaseOutcome       `json:"failover"`
	Start      PhaseOutcome       `json:"start"`
	Fallback   PhaseOutcome       `json:"fallback"`
	Host       *agent.HostMetrics `json:"host,omitempty"`
}

// Outcome returns the record's outcome for the given phase.
func (r IterationRecord) Outcome(p Phase) PhaseOutcome {
	switch p {
	case PhaseStop:
		return r.Stop
	case PhaseFailover:
		return r.Failover
	case PhaseStart:
		return r.Start
	case PhaseFallback:
		return r.Fallback
	default:
		return PhaseOutcome{}
	}
}
