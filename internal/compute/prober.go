// Package compute polls instance lifecycle state through a compute control plane.
package compute

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bc-dunia/failoverdrill/internal/events"
	"github.com/bc-dunia/failoverdrill/internal/types"
)

// ErrInstanceNotFound is returned by a ControlPlane when the instance no longer exists.
// Pollers treat it as unrecoverable.
var ErrInstanceNotFound = errors.New("instance not found")

// MaxPollRate is the fastest permitted state polling cadence (1 Hz).
const MaxPollRate = time.Second

// ControlPlane is the compute provider capability consumed by the harness.
// StopInstance and StartInstance only submit the operation; completion is
// observed by polling GetInstanceState.
type ControlPlane interface {
	GetInstanceState(ctx context.Context, instance string) (types.LifecycleState, error)
	StopInstance(ctx context.Context, instance string) error
	StartInstance(ctx context.Context, instance string) error
}

// StateProber polls an instance until it reaches a target lifecycle state.
type StateProber struct {
	plane    ControlPlane
	sink     events.Sink
	clock    types.Clock
	interval time.Duration
}

// NewStateProber creates a prober. Intervals shorter than MaxPollRate are raised to it.
func NewStateProber(plane ControlPlane, sink events.Sink, clock types.Clock, interval time.Duration) *StateProber {
	if interval < MaxPollRate {
		interval = MaxPollRate
	}
	if sink == nil {
		sink = events.NoopEventLogger()
	}
	if clock == nil {
		clock = types.RealClock{}
	}
	return &StateProber{
		plane:    plane,
		sink:     sink,
		clock:    clock,
		interval: interval,
	}
}

// PollUntilState returns a confirmed Observation as soon as the instance reports target.
// If budget elapses first it returns an unconfirmed Observation stamped at the timeout.
// Query errors count as "not yet matched", except ErrInstanceNotFound which is returned.
func (p *StateProber) PollUntilState(ctx context.Context, instance string, target types.LifecycleState, budget time.Duration) (types.Observation, error) {
	start := p.clock.Now()
	deadline := start.Add(budget)

	for {
		state, err := p.query(ctx, instance, deadline.Sub(p.clock.Now()))
		now := p.clock.Now()
		elapsed := now.Sub(start)

		switch {
		case errors.Is(err, ErrInstanceNotFound):
			return types.Observation{At: now, Elapsed: elapsed}, fmt.Errorf("polling %s: %w", instance, err)
		case err != nil:
			if ctxErr := ctx.Err(); ctxErr != nil {
				return types.Observation{At: now, Elapsed: elapsed}, ctxErr
			}
			p.sink.LogStatePoll(instance, "query error: "+err.Error(), string(target), elapsed)
		case state == target:
			p.sink.LogStatePoll(instance, string(state), string(target), elapsed)
			return types.Observation{Confirmed: true, At: now, Elapsed: elapsed}, nil
		default:
			p.sink.LogStatePoll(instance, string(state), string(target), elapsed)
		}

		if elapsed >= budget {
			return types.Observation{At: deadline, Elapsed: budget}, nil
		}

		// A final partial wait ends the poll at the budget without an extra query.
		remaining := budget - elapsed
		if remaining < p.interval {
			if err := p.clock.Sleep(ctx, remaining); err != nil {
				return p.observe(start, false), err
			}
			return p.observe(start, false), nil
		}
		if err := p.clock.Sleep(ctx, p.interval); err != nil {
			return p.observe(start, false), err
		}
	}
}

// query bounds one GetInstanceState call by the budget left. Running out of
// that time is reported as a plain query error, not as cancellation.
func (p *StateProber) query(ctx context.Context, instance string, remaining time.Duration) (types.LifecycleState, error) {
	if remaining <= 0 {
		remaining = time.Millisecond
	}
	qctx, cancel := context.WithTimeout(ctx, remaining)
	defer cancel()
	return p.plane.GetInstanceState(qctx, instance)
}

func (p *StateProber) observe(start time.Time, confirmed bool) types.Observation {
	now := p.clock.Now()
	return types.Observation{Confirmed: confirmed, At: now, Elapsed: now.Sub(start)}
}
