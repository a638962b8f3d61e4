// Package reachability classifies whether an endpoint is serving, using
// layered application, network and transport checks.
package reachability

import (
	"context"
	"errors"
	"time"

	"github.com/bc-dunia/failoverdrill/internal/events"
	"github.com/bc-dunia/failoverdrill/internal/types"
)

// DefaultInterval is the pause between unsuccessful attempts.
const DefaultInterval = 2 * time.Second

// Checks are the probing tiers, run in this order on every attempt.
// Network and Transport may be nil.
type Checks struct {
	Application Check
	Network     Check
	Transport   Check
}

// Report is the outcome of PollUntilServing.
// Result is FullyServing both when serving was observed and when the budget
// ran out and switch-over was assumed; Confirmed tells the two apart.
// LastObserved is what the final attempt actually classified.
type Report struct {
	Result       types.ReachabilityResult
	LastObserved types.ReachabilityResult
	types.Observation
}

// Prober polls an address until its application tier answers.
type Prober struct {
	checks   Checks
	sink     events.Sink
	clock    types.Clock
	interval time.Duration
}

// NewProber creates a Prober. The application check is required.
func NewProber(checks Checks, sink events.Sink, clock types.Clock, interval time.Duration) (*Prober, error) {
	if checks.Application == nil {
		return nil, errors.New("application check is required")
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	if sink == nil {
		sink = events.NoopEventLogger()
	}
	if clock == nil {
		clock = types.RealClock{}
	}
	return &Prober{
		checks:   checks,
		sink:     sink,
		clock:    clock,
		interval: interval,
	}, nil
}

// Classify runs one attempt: tiers in order, stopping at the first success.
// It returns the classification and the tier that produced it.
func (p *Prober) Classify(ctx context.Context, host string) (types.ReachabilityResult, Tier) {
	if p.checks.Application.Probe(ctx, host) == nil {
		return types.FullyServing, TierApplication
	}
	for _, c := range []Check{p.checks.Network, p.checks.Transport} {
		if c == nil {
			continue
		}
		if c.Probe(ctx, host) == nil {
			return types.PartiallyUp, c.Tier()
		}
	}
	return types.Unreachable, ""
}

// PollUntilServing repeats Classify until the application tier answers or budget elapses.
// PartiallyUp attempts do not end the poll. Each attempt is bounded by the
// budget left. On timeout the switch-over is assumed: Result is FullyServing,
// Confirmed is false and At is the timeout instant, never later.
func (p *Prober) PollUntilServing(ctx context.Context, host string, budget time.Duration) (Report, error) {
	start := p.clock.Now()
	deadline := start.Add(budget)

	for {
		result, tier := p.attempt(ctx, host, deadline.Sub(p.clock.Now()))
		now := p.clock.Now()
		elapsed := now.Sub(start)
		p.sink.LogProbeAttempt(host, string(tier), result.String(), elapsed)

		if result == types.FullyServing {
			return Report{
				Result:       types.FullyServing,
				LastObserved: types.FullyServing,
				Observation:  types.Observation{Confirmed: true, At: now, Elapsed: elapsed},
			}, nil
		}
		if err := ctx.Err(); err != nil {
			return Report{LastObserved: result, Observation: types.Observation{At: now, Elapsed: elapsed}}, err
		}
		if elapsed >= budget {
			return Report{
				Result:       types.FullyServing,
				LastObserved: result,
				Observation:  types.Observation{At: deadline, Elapsed: budget},
			}, nil
		}

		wait := p.interval
		if remaining := budget - elapsed; remaining < wait {
			wait = remaining
		}
		if err := p.clock.Sleep(ctx, wait); err != nil {
			now = p.clock.Now()
			return Report{LastObserved: result, Observation: types.Observation{At: now, Elapsed: now.Sub(start)}}, err
		}
	}
}

// attempt runs Classify with at most remaining time. The first attempt always
// runs, even with a zero budget.
func (p *Prober) attempt(ctx context.Context, host string, remaining time.Duration) (types.ReachabilityResult, Tier) {
	if remaining <= 0 {
		remaining = time.Millisecond
	}
	actx, cancel := context.WithTimeout(ctx, remaining)
	defer cancel()
	return p.Classify(actx, host)
}
