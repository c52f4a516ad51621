// Package otelhelper provides tracing and metrics helpers for the scheduler.
package otelhelper

import (
	"context"

	"github.com/dukex/tideflow/pkg/models"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otlptracehttp "go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	// Common attribute keys.
	ComponentIDKey = "tideflow.component.id"
	WorkflowIDKey  = "tideflow.workflow.id"
	InstanceKey    = "tideflow.instance"
	StateKey       = "tideflow.state"
	EventTypeKey   = "tideflow.event.type"
	ExecutionIDKey = "tideflow.execution.id"
	OperationKey   = "tideflow.operation"
)

// nolint:ireturn // Returning interface is intentional for OpenTelemetry tracing
func NewTracer(ctx context.Context, serviceName string) (trace.Tracer, error) {
	provider, err := newTracerProvider(ctx, serviceName)
	if err != nil {
		return nil, err
	}

	return provider.Tracer(serviceName), nil
}

// nolint:ireturn,spancheck // Returning interface is intentional for OpenTelemetry tracing
func StartSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func newTracerProvider(ctx context.Context, serviceName string) (*sdktrace.TracerProvider, error) {
	r, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return nil, err
	}

	exporter, err := otlptracehttp.New(ctx)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(r),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}))

	return tp, nil
}

// InstanceAttributes describes a workflow instance on spans and metrics.
func InstanceAttributes(instance models.WorkflowInstance) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(ComponentIDKey, instance.Workflow.ComponentID),
		attribute.String(WorkflowIDKey, instance.Workflow.ID),
		attribute.String(InstanceKey, instance.Key()),
	}
}
