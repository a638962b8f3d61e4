package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bc-dunia/failoverdrill/internal/agent"
	"github.com/bc-dunia/failoverdrill/internal/analysis"
	"github.com/bc-dunia/failoverdrill/internal/artifacts"
	"github.com/bc-dunia/failoverdrill/internal/compute"
	"github.com/bc-dunia/failoverdrill/internal/config"
	"github.com/bc-dunia/failoverdrill/internal/events"
	"github.com/bc-dunia/failoverdrill/internal/gce"
	"github.com/bc-dunia/failoverdrill/internal/harness"
	"github.com/bc-dunia/failoverdrill/internal/otel"
	"github.com/bc-dunia/failoverdrill/internal/reachability"
	"github.com/bc-dunia/failoverdrill/internal/remote"
	"github.com/bc-dunia/failoverdrill/internal/types"
	"github.com/bc-dunia/failoverdrill/internal/vip"
)

const (
	exitOK          = 0
	exitRunFailed   = 1
	exitSetupFailed = 2
)

const shutdownTimeout = 10 * time.Second

type options struct {
	configPath     string
	iterations     int
	policy         string
	strictFallback bool
	dryRun         bool
	logFile        string
	eventsFile     string
	artifactsDir   string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func parseFlags(args []string, stderr io.Writer) (*options, error) {
	fs := flag.NewFlagSet("failoverdrill", flag.ContinueOnError)
	fs.SetOutput(stderr)

	o := &options{}
	fs.StringVar(&o.configPath, "config", "", "Path to YAML configuration file")
	fs.IntVar(&o.iterations, "iterations", 0, "Number of failover/fallback iterations (overrides config)")
	fs.StringVar(&o.policy, "policy", "", "Failure policy for external calls: abort or tolerate")
	fs.BoolVar(&o.strictFallback, "strict-fallback", false, "Count only confirmed fallbacks as successes")
	fs.BoolVar(&o.dryRun, "dry-run", false, "Validate configuration and required tools, then exit")
	fs.StringVar(&o.logFile, "log-file", "", "Append-only human-readable log (overrides config)")
	fs.StringVar(&o.eventsFile, "events-file", "", "Structured JSON event log (overrides config)")
	fs.StringVar(&o.artifactsDir, "artifacts-dir", "", "Directory for run artifacts (overrides config)")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	return o, nil
}

// loadConfig layers the file, environment and flag overrides, then validates once.
func loadConfig(o *options) (*config.Config, error) {
	cfg, err := config.Read(o.configPath)
	if err != nil {
		return nil, err
	}

	if o.iterations != 0 {
		cfg.Run.Iterations = o.iterations
	}
	if o.policy != "" {
		cfg.Run.FailurePolicy = o.policy
	}
	if o.strictFallback {
		cfg.Run.StrictFallback = true
	}
	if o.logFile != "" {
		cfg.Output.LogFile = o.logFile
	}
	if o.eventsFile != "" {
		cfg.Output.EventsFile = o.eventsFile
	}
	if o.artifactsDir != "" {
		cfg.Output.ArtifactsDir = o.artifactsDir
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// buildChecks resolves the probing tiers. A missing ping utility is a
// startup failure.
func buildChecks(cfg *config.Config) (reachability.Checks, error) {
	ping, err := reachability.NewPingCheck(cfg.Probe.PingBinary, cfg.Probe.Timeout)
	if err != nil {
		return reachability.Checks{}, err
	}
	return reachability.Checks{
		Application: reachability.NewHTTPCheck(cfg.Probe.AppPort, cfg.Probe.AppPath, cfg.Probe.Timeout),
		Network:     ping,
		Transport:   reachability.NewTCPCheck(cfg.Probe.AdminPort, cfg.Probe.Timeout),
	}, nil
}

func buildExecutor(cfg *config.Config) (*remote.SSHExecutor, error) {
	return remote.NewSSHExecutor(remote.SSHConfig{
		User:                  cfg.Remote.SSHUser,
		KeyFile:               cfg.Remote.SSHKeyFile,
		KnownHostsFile:        cfg.Remote.KnownHostsFile,
		InsecureIgnoreHostKey: cfg.Remote.InsecureIgnoreHostKey,
		Port:                  cfg.Remote.SSHPort,
		Timeout:               cfg.Remote.Timeout,
	})
}

func buildPlan(cfg *config.Config, runID string) (harness.Plan, error) {
	policy, err := harness.ParseFailurePolicy(cfg.Run.FailurePolicy)
	if err != nil {
		return harness.Plan{}, err
	}
	return harness.Plan{
		RunID:      runID,
		Iterations: cfg.Run.Iterations,
		Active: harness.Node{
			Instance: cfg.Active.Instance,
			Address:  cfg.Active.Address,
			SSHHost:  cfg.Active.SSHHost,
		},
		Standby: harness.Node{
			Instance: cfg.Standby.Instance,
			Address:  cfg.Standby.Address,
			SSHHost:  cfg.Standby.SSHHost,
		},
		AliasRange:      cfg.Network.AliasRange,
		StopBudget:      cfg.Budgets.Stop,
		FailoverBudget:  cfg.Budgets.Failover,
		StartBudget:     cfg.Budgets.Start,
		ReadinessBudget: cfg.Budgets.Readiness,
		FallbackBudget:  cfg.Budgets.Fallback,
		SettleDelay:     cfg.Run.SettleDelay,
		DegradeCommand:  cfg.Remote.DegradeCommand,
		RestoreCommand:  cfg.Remote.RestoreCommand,
		Policy:          policy,
	}, nil
}

func buildTelemetry(ctx context.Context, cfg *config.Config) (*otel.Tracer, *otel.Metrics, error) {
	exporter, err := otel.ParseExporterType(cfg.Telemetry.ExporterType)
	if err != nil {
		return nil, nil, err
	}

	tcfg := otel.DefaultConfig()
	tcfg.Enabled = cfg.Telemetry.Enabled
	tcfg.Exporter = exporter
	tcfg.Endpoint = cfg.Telemetry.OTLPEndpoint
	tcfg.Insecure = cfg.Telemetry.OTLPInsecure
	tcfg.ServiceVersion = cfg.Telemetry.ServiceVersion
	tcfg.Attributes = map[string]string{"gcp.project": cfg.Project, "gcp.zone": cfg.Zone}

	tracer, err := otel.NewTracer(ctx, tcfg)
	if err != nil {
		return nil, nil, err
	}
	metrics, err := otel.NewMetrics(ctx, tcfg)
	if err != nil {
		tracer.Shutdown(ctx)
		return nil, nil, err
	}
	return tracer, metrics, nil
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitSetupFailed
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		fmt.Fprintf(stderr, "Error loading configuration: %v\n", err)
		return exitSetupFailed
	}

	checks, err := buildChecks(cfg)
	if err != nil {
		fmt.Fprintf(stderr, "Error resolving probe tools: %v\n", err)
		return exitSetupFailed
	}
	executor, err := buildExecutor(cfg)
	if err != nil {
		fmt.Fprintf(stderr, "Error configuring remote execution: %v\n", err)
		return exitSetupFailed
	}

	if opts.dryRun {
		snapshot, err := cfg.Snapshot()
		if err != nil {
			fmt.Fprintf(stderr, "Error rendering configuration: %v\n", err)
			return exitSetupFailed
		}
		fmt.Fprintln(stdout, "Configuration OK")
		stdout.Write(snapshot)
		return exitOK
	}

	store, err := artifacts.NewFilesystemStore(cfg.Output.ArtifactsDir)
	if err != nil {
		fmt.Fprintf(stderr, "Error creating artifact store: %v\n", err)
		return exitSetupFailed
	}
	if cfg.Output.Retention > 0 {
		pruned, err := store.Prune(time.Now().Add(-cfg.Output.Retention))
		if err != nil {
			fmt.Fprintf(stderr, "Warning: artifact pruning failed: %v\n", err)
		} else if len(pruned) > 0 {
			fmt.Fprintf(stdout, "Pruned %d old run(s) from %s\n", len(pruned), store.BaseDir())
		}
	}

	runID := harness.NewRunID()
	sink, err := events.NewEventLogger(runID, stdout, cfg.Output.LogFile, cfg.Output.EventsFile)
	if err != nil {
		fmt.Fprintf(stderr, "Error opening log: %v\n", err)
		return exitSetupFailed
	}
	defer sink.Close()

	tracer, metrics, err := buildTelemetry(ctx, cfg)
	if err != nil {
		fmt.Fprintf(stderr, "Error configuring telemetry: %v\n", err)
		return exitSetupFailed
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := metrics.Shutdown(shutdownCtx); err != nil {
			fmt.Fprintf(stderr, "Error shutting down metrics: %v\n", err)
		}
		if err := tracer.Shutdown(shutdownCtx); err != nil {
			fmt.Fprintf(stderr, "Error shutting down tracer: %v\n", err)
		}
	}()

	client, err := gce.New(ctx, cfg.Project, cfg.Zone, cfg.Network.NetworkInterface)
	if err != nil {
		fmt.Fprintf(stderr, "Error creating compute client: %v\n", err)
		return exitSetupFailed
	}
	defer client.Close()

	clock := types.RealClock{}
	serving, err := reachability.NewProber(checks, sink, clock, cfg.Probe.Interval)
	if err != nil {
		fmt.Fprintf(stderr, "Error creating reachability prober: %v\n", err)
		return exitSetupFailed
	}

	plan, err := buildPlan(cfg, runID)
	if err != nil {
		fmt.Fprintf(stderr, "Error building run plan: %v\n", err)
		return exitSetupFailed
	}
	orch, err := harness.NewOrchestrator(plan, harness.Deps{
		Instances: client,
		States:    compute.NewStateProber(client, sink, clock, cfg.Probe.StatePollInterval),
		Serving:   serving,
		Binder:    vip.NewBinder(client),
		Remote:    executor,
		Sampler:   agent.NewSampler(),
		Sink:      sink,
		Clock:     clock,
		Tracer:    tracer,
		Metrics:   metrics,
	})
	if err != nil {
		fmt.Fprintf(stderr, "Error creating orchestrator: %v\n", err)
		return exitSetupFailed
	}

	fmt.Fprintf(stdout, "Failover drill %s: %d iterations, %s <-> %s\n",
		runID, cfg.Run.Iterations, cfg.Active.Instance, cfg.Standby.Instance)

	state, runErr := orch.Run(ctx)

	analysisOpts := analysis.Options{StrictFallback: cfg.Run.StrictFallback}
	summary := analysis.Summarize(state.Records, cfg.Run.Iterations, analysisOpts)
	reporter := analysis.NewReporter()
	text := reporter.GenerateText(summary)
	sink.LogSummary(text)

	report := &analysis.Report{
		RunID:      runID,
		StartTime:  state.StartedAt,
		EndTime:    state.FinishedAt,
		Duration:   state.FinishedAt.Sub(state.StartedAt).Seconds(),
		StopReason: stopReason(runErr),
		Summary:    summary,
		Records:    state.Records,
		Options:    analysisOpts,
	}
	if err := saveArtifacts(store, cfg, reporter, report, text); err != nil {
		fmt.Fprintf(stderr, "Error saving artifacts: %v\n", err)
	} else {
		fmt.Fprintf(stdout, "Artifacts written to %s/%s\n", store.BaseDir(), runID)
	}

	if runErr != nil {
		fmt.Fprintf(stderr, "Run ended early: %v\n", runErr)
		return exitRunFailed
	}
	return exitOK
}

func saveArtifacts(store *artifacts.FilesystemStore, cfg *config.Config, reporter *analysis.Reporter, report *analysis.Report, text string) error {
	reportJSON, err := reporter.GenerateJSON(report)
	if err != nil {
		return fmt.Errorf("render JSON report: %w", err)
	}
	reportHTML, err := reporter.GenerateHTML(report)
	if err != nil {
		return fmt.Errorf("render HTML report: %w", err)
	}
	records, err := json.MarshalIndent(report.Records, "", "  ")
	if err != nil {
		return fmt.Errorf("encode records: %w", err)
	}
	snapshot, err := cfg.Snapshot()
	if err != nil {
		return fmt.Errorf("render config snapshot: %w", err)
	}

	_, err = store.SaveRun(report.RunID, artifacts.RunBundle{
		ReportJSON: reportJSON,
		ReportHTML: reportHTML,
		SummaryTXT: []byte(text),
		Records:    records,
		Config:     snapshot,
	})
	return err
}

// stopReason describes how the run ended for the report.
func stopReason(err error) string {
	switch {
	case err == nil:
		return "completed"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	case harness.IsInstanceGone(err):
		return "instance_gone"
	default:
		return "call_failed"
	}
}
