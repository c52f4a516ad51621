package cmd

import (
	"context"

	"github.com/dukex/tideflow/pkg/otelhelper"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// Telemetry carries the tracer and meter handed to instrumented components.
type Telemetry struct {
	Tracer trace.Tracer
	Meter  metric.Meter
}

// NewTelemetry exports traces over OTLP/HTTP when enabled. Metrics go to the
// global meter provider, which is a no-op unless one is installed.
func NewTelemetry(ctx context.Context, serviceName string, enabled bool) (*Telemetry, error) {
	telemetry := &Telemetry{
		Tracer: tracenoop.NewTracerProvider().Tracer(serviceName),
		Meter:  otel.GetMeterProvider().Meter(serviceName),
	}

	if !enabled {
		return telemetry, nil
	}

	tracer, err := otelhelper.NewTracer(ctx, serviceName)
	if err != nil {
		return nil, err
	}

	telemetry.Tracer = tracer

	return telemetry, nil
}
