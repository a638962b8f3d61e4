// Package otel exports run spans and phase metrics through OpenTelemetry.
// Both signals share one Config; with export disabled every call is a no-op.
package otel

import (
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// ExporterType selects where spans and metrics go.
type ExporterType string

const (
	ExporterNone     ExporterType = "none"
	ExporterStdout   ExporterType = "stdout"
	ExporterOTLPGRPC ExporterType = "otlp-grpc"
	ExporterOTLPHTTP ExporterType = "otlp-http"
)

// ParseExporterType validates s. The empty string means none.
func ParseExporterType(s string) (ExporterType, error) {
	switch e := ExporterType(s); e {
	case "":
		return ExporterNone, nil
	case ExporterNone, ExporterStdout, ExporterOTLPGRPC, ExporterOTLPHTTP:
		return e, nil
	default:
		return "", fmt.Errorf("unknown exporter type: %s", s)
	}
}

// Config is shared by NewTracer and NewMetrics.
type Config struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string
	Exporter       ExporterType

	// Endpoint is host:port for the OTLP exporters. Empty uses the SDK default,
	// which honours OTEL_EXPORTER_OTLP_ENDPOINT.
	Endpoint string
	Insecure bool

	// Attributes are added to the resource of every span and metric.
	Attributes map[string]string
}

// DefaultConfig returns a configuration with export disabled.
func DefaultConfig() *Config {
	return &Config{
		ServiceName: "failoverdrill",
		Exporter:    ExporterNone,
	}
}

func (c *Config) exporting() bool {
	return c.Enabled && c.Exporter != ExporterNone && c.Exporter != ""
}

func (c *Config) resource() (*resource.Resource, error) {
	attrs := []attribute.KeyValue{semconv.ServiceName(c.ServiceName)}
	if c.ServiceVersion != "" {
		attrs = append(attrs, semconv.ServiceVersion(c.ServiceVersion))
	}
	for k, v := range c.Attributes {
		attrs = append(attrs, attribute.String(k, v))
	}
	return resource.Merge(resource.Default(), resource.NewWithAttributes("", attrs...))
}
