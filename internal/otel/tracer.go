package otel

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Tracer opens one span per run and one per iteration; phases are span events.
type Tracer struct {
	exporting bool
	provider  trace.TracerProvider
	tracer    trace.Tracer
	shutdown  func(context.Context) error
}

// NewTracer builds a tracer from cfg. A nil or disabled cfg yields a no-op tracer.
func NewTracer(ctx context.Context, cfg *Config) (*Tracer, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if !cfg.exporting() {
		return NoopTracer(), nil
	}

	exporter, err := spanExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create span exporter: %w", err)
	}
	res, err := cfg.resource()
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	// Runs are small; every span is kept.
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	return newTracer(tp, tp.Shutdown, cfg.ServiceName, true), nil
}

// NewTracerWithProvider wraps an existing provider, e.g. one backed by a
// tracetest.SpanRecorder.
func NewTracerWithProvider(tp trace.TracerProvider) *Tracer {
	return newTracer(tp, func(context.Context) error { return nil }, "failoverdrill", true)
}

// NoopTracer returns a tracer that records nothing.
func NoopTracer() *Tracer {
	return newTracer(noop.NewTracerProvider(), func(context.Context) error { return nil }, "failoverdrill", false)
}

func newTracer(tp trace.TracerProvider, shutdown func(context.Context) error, name string, exporting bool) *Tracer {
	return &Tracer{
		exporting: exporting,
		provider:  tp,
		tracer:    tp.Tracer(name),
		shutdown:  shutdown,
	}
}

func spanExporter(ctx context.Context, cfg *Config) (sdktrace.SpanExporter, error) {
	switch cfg.Exporter {
	case ExporterStdout:
		return stdouttrace.New(stdouttrace.WithPrettyPrint())
	case ExporterOTLPGRPC:
		var opts []otlptracegrpc.Option
		if cfg.Endpoint != "" {
			opts = append(opts, otlptracegrpc.WithEndpoint(cfg.Endpoint))
		}
		if cfg.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		return otlptracegrpc.New(ctx, opts...)
	case ExporterOTLPHTTP:
		var opts []otlptracehttp.Option
		if cfg.Endpoint != "" {
			opts = append(opts, otlptracehttp.WithEndpoint(cfg.Endpoint))
		}
		if cfg.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		return otlptracehttp.New(ctx, opts...)
	}
	return nil, fmt.Errorf("unknown exporter type: %s", cfg.Exporter)
}

// Shutdown flushes pending spans.
func (t *Tracer) Shutdown(ctx context.Context) error {
	return t.shutdown(ctx)
}

// Enabled reports whether spans leave the process.
func (t *Tracer) Enabled() bool {
	return t.exporting
}

func (t *Tracer) TracerProvider() trace.TracerProvider {
	return t.provider
}

// StartRunSpan starts the root span of a run.
func (t *Tracer) StartRunSpan(ctx context.Context, runID string, iterations int) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "failover.run", trace.WithAttributes(
		attribute.String("failoverdrill.run_id", runID),
		attribute.Int("failoverdrill.iterations", iterations),
	))
}

// StartIterationSpan starts the span covering one iteration.
func (t *Tracer) StartIterationSpan(ctx context.Context, runID string, iteration int) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, fmt.Sprintf("failover.iteration/%d", iteration), trace.WithAttributes(
		attribute.String("failoverdrill.run_id", runID),
		attribute.Int("failoverdrill.iteration", iteration),
	))
}

// RecordPhase adds a "phase" event to the span in ctx.
func RecordPhase(ctx context.Context, phase string, duration time.Duration, confirmed bool) {
	trace.SpanFromContext(ctx).AddEvent("phase", trace.WithAttributes(
		attribute.String("phase", phase),
		attribute.Float64("duration_seconds", duration.Seconds()),
		attribute.Bool("confirmed", confirmed),
	))
}

// RecordError marks span as failed at step.
func RecordError(span trace.Span, err error, step string) {
	if span == nil || err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, step)
	span.SetAttributes(attribute.String("error.step", step))
}
