// Package harness runs failover/fallback iterations against an active and a
// standby node and records the measured phase durations.
package harness

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/bc-dunia/failoverdrill/internal/agent"
	"github.com/bc-dunia/failoverdrill/internal/compute"
	"github.com/bc-dunia/failoverdrill/internal/events"
	"github.com/bc-dunia/failoverdrill/internal/otel"
	"github.com/bc-dunia/failoverdrill/internal/reachability"
	"github.com/bc-dunia/failoverdrill/internal/types"
)

// InstanceController submits lifecycle operations.
type InstanceController interface {
	StopInstance(ctx context.Context, instance string) error
	StartInstance(ctx context.Context, instance string) error
}

// StatePoller waits for an instance to reach a lifecycle state.
type StatePoller interface {
	PollUntilState(ctx context.Context, instance string, target types.LifecycleState, budget time.Duration) (types.Observation, error)
}

// ServingPoller waits for an address to serve at the application tier.
type ServingPoller interface {
	PollUntilServing(ctx context.Context, host string, budget time.Duration) (reachability.Report, error)
}

// AddressBinder moves the alias range between instances.
type AddressBinder interface {
	Bind(ctx context.Context, instance, cidr string) error
	Unbind(ctx context.Context, instance string) error
}

// CommandRunner runs a command on a remote host.
type CommandRunner interface {
	Run(ctx context.Context, host, command string) (string, error)
}

// HostSampler samples the load of the harness host.
type HostSampler interface {
	Sample(ctx context.Context) (*agent.HostMetrics, error)
}

// Node identifies one side of the pair.
type Node struct {
	Instance string
	Address  string
	// SSHHost is where remote commands run. Defaults to Address.
	SSHHost string
}

func (n Node) sshHost() string {
	if n.SSHHost != "" {
		return n.SSHHost
	}
	return n.Address
}

// Plan holds the fixed parameters of a run.
type Plan struct {
	RunID      string
	Iterations int
	Active     Node
	Standby    Node
	AliasRange string

	StopBudget      time.Duration
	FailoverBudget  time.Duration
	StartBudget     time.Duration
	ReadinessBudget time.Duration
	FallbackBudget  time.Duration
	SettleDelay     time.Duration

	DegradeCommand string
	RestoreCommand string
	Policy         FailurePolicy
}

// Deps are the capabilities the orchestrator drives.
// Sampler, Sink, Clock, Tracer and Metrics are optional.
type Deps struct {
	Instances InstanceController
	States    StatePoller
	Serving   ServingPoller
	Binder    AddressBinder
	Remote    CommandRunner
	Sampler   HostSampler
	Sink      events.Sink
	Clock     types.Clock
	Tracer    *otel.Tracer
	Metrics   *otel.Metrics
}

// RunState is the run-scoped record sequence, owned by the orchestrator
// and handed to the caller when Run returns.
type RunState struct {
	RunID      string
	Iterations int
	StartedAt  time.Time
	FinishedAt time.Time
	Records    []types.IterationRecord
}

// Completed reports whether every configured iteration was recorded.
func (s RunState) Completed() bool {
	return len(s.Records) == s.Iterations
}

// Orchestrator runs the iteration protocol sequentially.
type Orchestrator struct {
	plan Plan
	deps Deps

	iteration int
	span      trace.Span
}

// NewOrchestrator validates the plan and fills optional dependencies.
func NewOrchestrator(plan Plan, deps Deps) (*Orchestrator, error) {
	switch {
	case plan.Iterations < 1:
		return nil, errors.New("iterations must be at least 1")
	case plan.Active.Instance == "" || plan.Standby.Instance == "":
		return nil, errors.New("active and standby instances are required")
	case plan.Active.Address == "" || plan.Standby.Address == "":
		return nil, errors.New("active and standby addresses are required")
	case plan.AliasRange == "":
		return nil, errors.New("alias range is required")
	case plan.DegradeCommand == "" || plan.RestoreCommand == "":
		return nil, errors.New("degrade and restore commands are required")
	}
	if deps.Instances == nil || deps.States == nil || deps.Serving == nil || deps.Binder == nil || deps.Remote == nil {
		return nil, errors.New("instances, states, serving, binder and remote are required")
	}

	policy, err := ParseFailurePolicy(string(plan.Policy))
	if err != nil {
		return nil, err
	}
	plan.Policy = policy
	if plan.RunID == "" {
		plan.RunID = NewRunID()
	}

	if deps.Sink == nil {
		deps.Sink = events.NoopEventLogger()
	}
	if deps.Clock == nil {
		deps.Clock = types.RealClock{}
	}
	if deps.Tracer == nil {
		deps.Tracer = otel.NoopTracer()
	}
	if deps.Metrics == nil {
		deps.Metrics = otel.NoopMetrics()
	}

	return &Orchestrator{plan: plan, deps: deps}, nil
}

// RunID returns the identifier of the run.
func (o *Orchestrator) RunID() string {
	return o.plan.RunID
}

// Run establishes the active binding and executes the configured iterations.
// On cancellation or a fatal error it returns the records completed so far
// together with the error. A soft timeout never ends the run.
func (o *Orchestrator) Run(ctx context.Context) (RunState, error) {
	state := RunState{
		RunID:      o.plan.RunID,
		Iterations: o.plan.Iterations,
		StartedAt:  o.deps.Clock.Now(),
		Records:    make([]types.IterationRecord, 0, o.plan.Iterations),
	}

	ctx, runSpan := o.deps.Tracer.StartRunSpan(ctx, o.plan.RunID, o.plan.Iterations)
	defer runSpan.End()

	finish := func(err error) (RunState, error) {
		state.FinishedAt = o.deps.Clock.Now()
		if err != nil {
			otel.RecordError(runSpan, err, "run")
		}
		return state, err
	}

	o.iteration = 0
	o.span = runSpan
	if err := o.bindTo(ctx, o.plan.Active, o.plan.Standby); err != nil {
		return finish(err)
	}

	for i := 1; i <= o.plan.Iterations; i++ {
		if err := ctx.Err(); err != nil {
			return finish(err)
		}
		rec, err := o.runIteration(ctx, i)
		if err != nil {
			return finish(err)
		}
		state.Records = append(state.Records, rec)
		o.deps.Metrics.RecordIterationComplete(ctx)

		if err := o.deps.Clock.Sleep(ctx, o.plan.SettleDelay); err != nil {
			return finish(err)
		}
	}

	return finish(nil)
}

func (o *Orchestrator) runIteration(ctx context.Context, i int) (types.IterationRecord, error) {
	ctx, span := o.deps.Tracer.StartIterationSpan(ctx, o.plan.RunID, i)
	defer span.End()
	o.iteration = i
	o.span = span
	o.deps.Metrics.SetCurrentIteration(i)

	active, standby := o.plan.Active, o.plan.Standby
	rec := types.IterationRecord{Index: i, StartedAt: o.deps.Clock.Now()}
	o.deps.Sink.LogIterationStart(i, o.plan.Iterations)

	// Stop: submission until the active node is observed (or assumed) terminated.
	stopStart := o.deps.Clock.Now()
	o.deps.Sink.LogAction(i, "stopping", active.Instance)
	if err := o.submit(ctx, "stop active", o.deps.Instances.StopInstance(ctx, active.Instance)); err != nil {
		return rec, err
	}
	obs, err := o.deps.States.PollUntilState(ctx, active.Instance, types.StateTerminated, o.plan.StopBudget)
	if err != nil {
		return rec, o.pollFailed(ctx, "wait for active to stop", err)
	}
	stopEnd := obs.At
	rec.Stop = o.phase(ctx, types.PhaseStop, stopEnd.Sub(stopStart), obs.Confirmed)

	// Failover: from the stop end until the standby serves behind the alias range.
	if err := o.bindTo(ctx, standby, active); err != nil {
		return rec, err
	}
	report, err := o.deps.Serving.PollUntilServing(ctx, standby.Address, o.plan.FailoverBudget)
	if err != nil {
		return rec, o.pollFailed(ctx, "wait for standby to serve", err)
	}
	failoverEnd := report.At
	rec.Failover = o.phase(ctx, types.PhaseFailover, failoverEnd.Sub(stopEnd), report.Confirmed)

	// Start: from the failover end until the active node is running again.
	o.deps.Sink.LogAction(i, "starting", active.Instance)
	if err := o.submit(ctx, "start active", o.deps.Instances.StartInstance(ctx, active.Instance)); err != nil {
		return rec, err
	}
	obs, err = o.deps.States.PollUntilState(ctx, active.Instance, types.StateRunning, o.plan.StartBudget)
	if err != nil {
		return rec, o.pollFailed(ctx, "wait for active to start", err)
	}
	startEnd := obs.At
	rec.Start = o.phase(ctx, types.PhaseStart, startEnd.Sub(failoverEnd), obs.Confirmed)

	// Readiness gate, not scored.
	report, err = o.deps.Serving.PollUntilServing(ctx, active.Address, o.plan.ReadinessBudget)
	if err != nil {
		return rec, o.pollFailed(ctx, "wait for active readiness", err)
	}
	if !report.Confirmed {
		o.deps.Sink.Printf("Iteration %d: %s not confirmed ready after %.6f seconds, continuing",
			i, active.Address, report.Elapsed.Seconds())
	}

	// Fallback: from the start of the degradation until the active node serves.
	degradeStart := o.deps.Clock.Now()
	o.deps.Sink.LogAction(i, "degrading", standby.Instance)
	if err := o.submit(ctx, "degrade standby", o.runRemote(ctx, standby, o.plan.DegradeCommand)); err != nil {
		return rec, err
	}
	report, err = o.deps.Serving.PollUntilServing(ctx, active.Address, o.plan.FallbackBudget)
	if err != nil {
		return rec, o.pollFailed(ctx, "wait for fallback", err)
	}
	rec.Fallback = o.phase(ctx, types.PhaseFallback, report.At.Sub(degradeStart), report.Confirmed)

	// Restore the initial arrangement for the next iteration.
	if err := o.bindTo(ctx, active, standby); err != nil {
		return rec, err
	}
	o.deps.Sink.LogAction(i, "restoring", standby.Instance)
	if err := o.submit(ctx, "restore standby", o.runRemote(ctx, standby, o.plan.RestoreCommand)); err != nil {
		return rec, err
	}

	rec.Host = o.sampleHost(ctx)
	rec.FinishedAt = o.deps.Clock.Now()
	o.deps.Sink.LogIterationEnd(i, rec.FinishedAt.Sub(rec.StartedAt))
	return rec, nil
}

// bindTo moves the alias range from the other node to target.
func (o *Orchestrator) bindTo(ctx context.Context, target, other Node) error {
	o.deps.Sink.LogAction(o.iteration, "unbinding "+o.plan.AliasRange+" from", other.Instance)
	if err := o.submit(ctx, "unbind "+other.Instance, o.deps.Binder.Unbind(ctx, other.Instance)); err != nil {
		return err
	}
	o.deps.Sink.LogAction(o.iteration, "binding "+o.plan.AliasRange+" to", target.Instance)
	return o.submit(ctx, "bind "+target.Instance, o.deps.Binder.Bind(ctx, target.Instance, o.plan.AliasRange))
}

func (o *Orchestrator) runRemote(ctx context.Context, node Node, command string) error {
	_, err := o.deps.Remote.Run(ctx, node.sshHost(), command)
	return err
}

// submit applies the failure policy to the result of an external call.
// Under PolicyTolerate the error is logged and dropped here.
func (o *Orchestrator) submit(ctx context.Context, step string, err error) error {
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	tolerated := o.plan.Policy == PolicyTolerate
	o.deps.Metrics.RecordCallFailure(ctx, step, tolerated)
	if tolerated {
		o.deps.Sink.LogPolicyIgnored(o.iteration, step, err)
		return nil
	}

	o.deps.Sink.LogFatal(o.iteration, step, err)
	otel.RecordError(o.span, err, step)
	return &FatalError{Kind: ErrKindCallFailed, Iteration: o.iteration, Step: step, Cause: err}
}

// pollFailed converts a poller error. Pollers only fail on cancellation or
// when an instance no longer exists; the latter ends the run under any policy.
func (o *Orchestrator) pollFailed(ctx context.Context, step string, err error) error {
	if errors.Is(err, compute.ErrInstanceNotFound) {
		o.deps.Sink.LogFatal(o.iteration, step, err)
		otel.RecordError(o.span, err, step)
		return &FatalError{Kind: ErrKindInstanceGone, Iteration: o.iteration, Step: step, Cause: err}
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return fmt.Errorf("%s: %w", step, err)
}

func (o *Orchestrator) phase(ctx context.Context, phase types.Phase, d time.Duration, confirmed bool) types.PhaseOutcome {
	o.deps.Sink.LogPhaseComplete(o.iteration, string(phase), d, confirmed)
	otel.RecordPhase(ctx, string(phase), d, confirmed)
	o.deps.Metrics.RecordPhase(ctx, string(phase), d, confirmed)
	return types.PhaseOutcome{Duration: d, Succeeded: confirmed}
}

func (o *Orchestrator) sampleHost(ctx context.Context) *agent.HostMetrics {
	if o.deps.Sampler == nil {
		return nil
	}
	m, err := o.deps.Sampler.Sample(ctx)
	if err != nil {
		o.deps.Sink.Printf("Iteration %d: host sample failed: %v", o.iteration, err)
		return nil
	}
	return m
}

var runIDCounter atomic.Int64

// NewRunID generates a unique run ID.
// Format: run_{20 hex chars}
func NewRunID() string {
	ts := time.Now().UnixNano()
	counter := runIDCounter.Add(1)
	return fmt.Sprintf("run_%016x%04x", ts, counter&0xFFFF)
}
