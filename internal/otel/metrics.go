package otel

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics records phase durations, timeouts, failed calls and run progress.
// The zero-instrument value returned by NoopMetrics drops every record.
type Metrics struct {
	exporting bool
	shutdown  func(context.Context) error

	mu                sync.Mutex
	currentIteration  atomic.Int64
	iterationGaugeReg metric.Registration

	phaseDuration       metric.Float64Histogram
	phaseTimeouts       metric.Int64Counter
	callFailures        metric.Int64Counter
	iterationsCompleted metric.Int64Counter
	iterationGauge      metric.Int64ObservableGauge
}

// NewMetrics builds metrics from cfg, exporting on a periodic reader.
// A nil or disabled cfg yields NoopMetrics.
func NewMetrics(ctx context.Context, cfg *Config) (*Metrics, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if !cfg.exporting() {
		return NoopMetrics(), nil
	}

	exporter, err := metricExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics exporter: %w", err)
	}
	res, err := cfg.resource()
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics resource: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)),
		sdkmetric.WithResource(res),
	)
	m := &Metrics{exporting: true, shutdown: mp.Shutdown}
	if err := m.register(mp.Meter(cfg.ServiceName)); err != nil {
		return nil, fmt.Errorf("failed to register metric instruments: %w", err)
	}
	return m, nil
}

// NewMetricsWithReader records into reader, e.g. sdkmetric.NewManualReader.
func NewMetricsWithReader(reader sdkmetric.Reader) (*Metrics, error) {
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m := &Metrics{exporting: true, shutdown: mp.Shutdown}
	if err := m.register(mp.Meter("failoverdrill")); err != nil {
		return nil, err
	}
	return m, nil
}

// NoopMetrics returns metrics with no instruments.
func NoopMetrics() *Metrics {
	return &Metrics{shutdown: func(context.Context) error { return nil }}
}

func metricExporter(ctx context.Context, cfg *Config) (sdkmetric.Exporter, error) {
	switch cfg.Exporter {
	case ExporterStdout:
		return stdoutmetric.New()
	case ExporterOTLPGRPC:
		var opts []otlpmetricgrpc.Option
		if cfg.Endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(cfg.Endpoint))
		}
		if cfg.Insecure {
			opts = append(opts, otlpmetricgrpc.WithInsecure())
		}
		return otlpmetricgrpc.New(ctx, opts...)
	case ExporterOTLPHTTP:
		var opts []otlpmetrichttp.Option
		if cfg.Endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(cfg.Endpoint))
		}
		if cfg.Insecure {
			opts = append(opts, otlpmetrichttp.WithInsecure())
		}
		return otlpmetrichttp.New(ctx, opts...)
	}
	return nil, fmt.Errorf("unknown exporter type: %s", cfg.Exporter)
}

func (m *Metrics) register(meter metric.Meter) error {
	var err error

	if m.phaseDuration, err = meter.Float64Histogram("failoverdrill.phase.duration",
		metric.WithDescription("Measured duration of failover phases"),
		metric.WithUnit("s"),
	); err != nil {
		return fmt.Errorf("phase duration histogram: %w", err)
	}
	if m.phaseTimeouts, err = meter.Int64Counter("failoverdrill.phase.timeouts",
		metric.WithDescription("Phases that ended on their timeout budget"),
	); err != nil {
		return fmt.Errorf("phase timeout counter: %w", err)
	}
	if m.callFailures, err = meter.Int64Counter("failoverdrill.call.failures",
		metric.WithDescription("Failed external calls by step"),
	); err != nil {
		return fmt.Errorf("call failure counter: %w", err)
	}
	if m.iterationsCompleted, err = meter.Int64Counter("failoverdrill.iterations.completed",
		metric.WithDescription("Completed iterations"),
	); err != nil {
		return fmt.Errorf("iteration counter: %w", err)
	}
	if m.iterationGauge, err = meter.Int64ObservableGauge("failoverdrill.iteration",
		metric.WithDescription("Current iteration index"),
	); err != nil {
		return fmt.Errorf("iteration gauge: %w", err)
	}

	m.iterationGaugeReg, err = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveInt64(m.iterationGauge, m.currentIteration.Load())
		return nil
	}, m.iterationGauge)
	if err != nil {
		return fmt.Errorf("iteration gauge callback: %w", err)
	}
	return nil
}

// RecordPhase records a measured phase. Unconfirmed phases also count as timeouts.
func (m *Metrics) RecordPhase(ctx context.Context, phase string, duration time.Duration, confirmed bool) {
	if m.phaseDuration == nil {
		return
	}
	m.phaseDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("phase", phase),
		attribute.Bool("confirmed", confirmed),
	))
	if !confirmed {
		m.phaseTimeouts.Add(ctx, 1, metric.WithAttributes(attribute.String("phase", phase)))
	}
}

// RecordCallFailure counts a failed external call.
func (m *Metrics) RecordCallFailure(ctx context.Context, step string, tolerated bool) {
	if m.callFailures == nil {
		return
	}
	m.callFailures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("step", step),
		attribute.Bool("tolerated", tolerated),
	))
}

func (m *Metrics) RecordIterationComplete(ctx context.Context) {
	if m.iterationsCompleted == nil {
		return
	}
	m.iterationsCompleted.Add(ctx, 1)
}

// SetCurrentIteration sets the value reported by the iteration gauge.
func (m *Metrics) SetCurrentIteration(iteration int) {
	m.currentIteration.Store(int64(iteration))
}

// Shutdown unregisters the gauge callback and flushes pending metrics.
func (m *Metrics) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.iterationGaugeReg != nil {
		if err := m.iterationGaugeReg.Unregister(); err != nil {
			return fmt.Errorf("failed to unregister iteration callback: %w", err)
		}
		m.iterationGaugeReg = nil
	}
	return m.shutdown(ctx)
}

// Enabled reports whether metrics leave the process.
func (m *Metrics) Enabled() bool {
	return m.exporting
}
