package otel

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	out := map[string]metricdata.Metrics{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func TestNewMetricsDisabled(t *testing.T) {
	m, err := NewMetrics(context.Background(), nil)
	if err != nil {
		t.Fatalf("NewMetrics failed: %v", err)
	}
	if m.Enabled() {
		t.Error("expected metrics to be disabled")
	}
	m.RecordPhase(context.Background(), "stop", time.Second, true)
	m.RecordCallFailure(context.Background(), "stop active", true)
	m.RecordIterationComplete(context.Background())
	if err := m.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown failed: %v", err)
	}
}

func TestNewMetricsStdoutExporter(t *testing.T) {
	ctx := context.Background()
	m, err := NewMetrics(ctx, &Config{
		Enabled:     true,
		ServiceName: "test-service",
		Exporter:    ExporterStdout,
	})
	if err != nil {
		t.Fatalf("NewMetrics failed: %v", err)
	}
	defer m.Shutdown(ctx)

	if !m.Enabled() {
		t.Error("expected metrics to be enabled")
	}
}

func TestRecordPhase(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	m, err := NewMetricsWithReader(reader)
	if err != nil {
		t.Fatalf("NewMetricsWithReader failed: %v", err)
	}
	ctx := context.Background()

	m.RecordPhase(ctx, "failover", 2*time.Second, true)
	m.RecordPhase(ctx, "failover", 4*time.Second, false)

	got := collect(t, reader)

	hist, ok := got["failoverdrill.phase.duration"].Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("expected phase duration histogram")
	}
	var count uint64
	var sum float64
	for _, dp := range hist.DataPoints {
		count += dp.Count
		sum += dp.Sum
	}
	if count != 2 {
		t.Errorf("expected 2 recordings, got %d", count)
	}
	if sum != 6 {
		t.Errorf("expected sum 6, got %f", sum)
	}

	timeouts, ok := got["failoverdrill.phase.timeouts"].Data.(metricdata.Sum[int64])
	if !ok || len(timeouts.DataPoints) != 1 {
		t.Fatal("expected one timeout data point")
	}
	if timeouts.DataPoints[0].Value != 1 {
		t.Errorf("expected 1 timeout, got %d", timeouts.DataPoints[0].Value)
	}
	if v, _ := timeouts.DataPoints[0].Attributes.Value(attribute.Key("phase")); v.AsString() != "failover" {
		t.Errorf("expected phase attribute failover, got %q", v.AsString())
	}
}

func TestCallFailuresAndIterationGauge(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	m, err := NewMetricsWithReader(reader)
	if err != nil {
		t.Fatalf("NewMetricsWithReader failed: %v", err)
	}
	ctx := context.Background()

	m.RecordCallFailure(ctx, "degrade standby", true)
	m.RecordCallFailure(ctx, "degrade standby", true)
	m.RecordIterationComplete(ctx)
	m.SetCurrentIteration(4)

	got := collect(t, reader)

	failures := got["failoverdrill.call.failures"].Data.(metricdata.Sum[int64])
	if failures.DataPoints[0].Value != 2 {
		t.Errorf("expected 2 failures, got %d", failures.DataPoints[0].Value)
	}

	completed := got["failoverdrill.iterations.completed"].Data.(metricdata.Sum[int64])
	if completed.DataPoints[0].Value != 1 {
		t.Errorf("expected 1 completed iteration, got %d", completed.DataPoints[0].Value)
	}

	gauge := got["failoverdrill.iteration"].Data.(metricdata.Gauge[int64])
	if gauge.DataPoints[0].Value != 4 {
		t.Errorf("expected iteration 4, got %d", gauge.DataPoints[0].Value)
	}
}

func TestMetricsShutdownIdempotent(t *testing.T) {
	m, err := NewMetricsWithReader(sdkmetric.NewManualReader())
	if err != nil {
		t.Fatalf("NewMetricsWithReader failed: %v", err)
	}
	if err := m.Shutdown(context.Background()); err != nil {
		t.Fatalf("first Shutdown failed: %v", err)
	}
	if m.iterationGaugeReg != nil {
		t.Error("expected gauge callback to be unregistered")
	}
}

func TestNoopMetrics(t *testing.T) {
	m := NoopMetrics()
	if m.Enabled() {
		t.Error("expected noop metrics to be disabled")
	}
	m.RecordPhase(context.Background(), "start", time.Second, false)
	m.SetCurrentIteration(2)
}
