package compute

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bc-dunia/failoverdrill/internal/events"
	"github.com/bc-dunia/failoverdrill/internal/testutil"
	"github.com/bc-dunia/failoverdrill/internal/types"
)

// scriptedPlane returns states from a script, repeating the last entry.
type scriptedPlane struct {
	states []types.LifecycleState
	errs   []error
	calls  int
	times  []time.Time
	clock  *testutil.ManualClock
}

func (p *scriptedPlane) GetInstanceState(ctx context.Context, instance string) (types.LifecycleState, error) {
	i := p.calls
	p.calls++
	p.times = append(p.times, p.clock.Now())
	if i < len(p.errs) && p.errs[i] != nil {
		return types.StateUnknown, p.errs[i]
	}
	if i >= len(p.states) {
		i = len(p.states) - 1
	}
	return p.states[i], nil
}

func (p *scriptedPlane) StopInstance(ctx context.Context, instance string) error  { return nil }
func (p *scriptedPlane) StartInstance(ctx context.Context, instance string) error { return nil }

var epoch = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func newProber(plane *scriptedPlane, interval time.Duration) *StateProber {
	return NewStateProber(plane, events.NoopEventLogger(), plane.clock, interval)
}

func TestPollUntilStateConfirmsOnMatch(t *testing.T) {
	clock := testutil.NewManualClock(epoch)
	plane := &scriptedPlane{
		states: []types.LifecycleState{types.StateRunning, types.StateStopping, types.StateTerminated},
		clock:  clock,
	}

	obs, err := newProber(plane, time.Second).PollUntilState(context.Background(), "vm-a", types.StateTerminated, 30*time.Second)
	if err != nil {
		t.Fatalf("PollUntilState failed: %v", err)
	}
	if !obs.Confirmed {
		t.Fatal("expected confirmed observation")
	}
	if obs.Elapsed != 2*time.Second {
		t.Errorf("expected 2s elapsed, got %v", obs.Elapsed)
	}
	if !obs.At.Equal(epoch.Add(2 * time.Second)) {
		t.Errorf("expected At at +2s, got %v", obs.At.Sub(epoch))
	}
	if plane.calls != 3 {
		t.Errorf("expected 3 polls, got %d", plane.calls)
	}
}

func TestPollUntilStateTimesOutSoftly(t *testing.T) {
	tests := []struct {
		name      string
		budget    time.Duration
		wantPolls int
	}{
		{"whole seconds", 5 * time.Second, 6},
		{"fractional budget", 4500 * time.Millisecond, 5},
		{"zero budget", 0, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := testutil.NewManualClock(epoch)
			plane := &scriptedPlane{states: []types.LifecycleState{types.StateStopping}, clock: clock}

			obs, err := newProber(plane, time.Second).PollUntilState(context.Background(), "vm-a", types.StateTerminated, tt.budget)
			if err != nil {
				t.Fatalf("timeout must not be an error: %v", err)
			}
			if obs.Confirmed {
				t.Error("expected unconfirmed observation")
			}
			if obs.Elapsed != tt.budget {
				t.Errorf("expected elapsed %v, got %v", tt.budget, obs.Elapsed)
			}
			if plane.calls != tt.wantPolls {
				t.Errorf("expected %d polls, got %d", tt.wantPolls, plane.calls)
			}
		})
	}
}

func TestPollRateNeverExceedsOneHertz(t *testing.T) {
	clock := testutil.NewManualClock(epoch)
	plane := &scriptedPlane{states: []types.LifecycleState{types.StateStaging}, clock: clock}

	// A faster interval is raised to MaxPollRate.
	_, err := newProber(plane, 100*time.Millisecond).PollUntilState(context.Background(), "vm-a", types.StateRunning, 3500*time.Millisecond)
	if err != nil {
		t.Fatalf("PollUntilState failed: %v", err)
	}
	for i := 1; i < len(plane.times); i++ {
		if gap := plane.times[i].Sub(plane.times[i-1]); gap < time.Second {
			t.Errorf("poll %d came %v after the previous one", i, gap)
		}
	}
}

func TestQueryErrorsKeepPolling(t *testing.T) {
	clock := testutil.NewManualClock(epoch)
	plane := &scriptedPlane{
		states: []types.LifecycleState{types.StateUnknown, types.StateUnknown, types.StateRunning},
		errs:   []error{errors.New("503 backend error"), errors.New("rate limited")},
		clock:  clock,
	}

	obs, err := newProber(plane, time.Second).PollUntilState(context.Background(), "vm-a", types.StateRunning, 10*time.Second)
	if err != nil {
		t.Fatalf("query errors must not surface: %v", err)
	}
	if !obs.Confirmed || obs.Elapsed != 2*time.Second {
		t.Errorf("expected confirmation after 2s, got %+v", obs)
	}
}

func TestInstanceNotFoundIsFatal(t *testing.T) {
	clock := testutil.NewManualClock(epoch)
	plane := &scriptedPlane{
		states: []types.LifecycleState{types.StateUnknown},
		errs:   []error{fmt.Errorf("gce: %w", ErrInstanceNotFound)},
		clock:  clock,
	}

	_, err := newProber(plane, time.Second).PollUntilState(context.Background(), "vm-gone", types.StateRunning, 10*time.Second)
	if !errors.Is(err, ErrInstanceNotFound) {
		t.Fatalf("expected ErrInstanceNotFound, got %v", err)
	}
	if plane.calls != 1 {
		t.Errorf("expected polling to stop after 1 call, got %d", plane.calls)
	}
}

func TestCancellationStopsPolling(t *testing.T) {
	clock := testutil.NewManualClock(epoch)
	plane := &scriptedPlane{states: []types.LifecycleState{types.StateStopping}, clock: clock}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newProber(plane, time.Second).PollUntilState(ctx, "vm-a", types.StateTerminated, time.Minute)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

// blockingPlane answers only when ctx ends.
type blockingPlane struct {
	calls int
}

func (p *blockingPlane) GetInstanceState(ctx context.Context, instance string) (types.LifecycleState, error) {
	p.calls++
	<-ctx.Done()
	return types.StateUnknown, ctx.Err()
}

func (p *blockingPlane) StopInstance(ctx context.Context, instance string) error  { return nil }
func (p *blockingPlane) StartInstance(ctx context.Context, instance string) error { return nil }

func TestHungQueryTimesOutSoftly(t *testing.T) {
	plane := &blockingPlane{}
	p := NewStateProber(plane, events.NoopEventLogger(), types.RealClock{}, time.Second)

	budget := 1500 * time.Millisecond
	started := time.Now()
	obs, err := p.PollUntilState(context.Background(), "vm-a", types.StateTerminated, budget)
	if err != nil {
		t.Fatalf("hung query must not surface as an error: %v", err)
	}
	if obs.Confirmed {
		t.Error("expected unconfirmed observation")
	}
	if obs.Elapsed != budget {
		t.Errorf("expected elapsed clamped to %v, got %v", budget, obs.Elapsed)
	}
	if wall := time.Since(started); wall > budget+500*time.Millisecond {
		t.Errorf("expected poll to return near %v, took %v", budget, wall)
	}
	if plane.calls == 0 {
		t.Error("expected at least one query")
	}
}
