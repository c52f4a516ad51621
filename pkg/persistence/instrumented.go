package persistence

import (
	"context"
	"time"

	"github.com/dukex/tideflow/pkg/events"
	"github.com/dukex/tideflow/pkg/models"
	"github.com/dukex/tideflow/pkg/otelhelper"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Instrumented decorates a Persistence with a span and a duration measurement per operation.
type Instrumented struct {
	next      Persistence
	tracer    trace.Tracer
	duration  metric.Float64Histogram
	conflicts metric.Int64Counter
}

// NewInstrumented wraps next. Instrument creation errors are returned as is.
func NewInstrumented(next Persistence, tracer trace.Tracer, meter metric.Meter) (*Instrumented, error) {
	duration, err := meter.Float64Histogram(
		"tideflow.persistence.duration",
		metric.WithDescription("Duration of persistence operations"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	conflicts, err := meter.Int64Counter(
		"tideflow.persistence.conflicts",
		metric.WithDescription("Transactions aborted by a concurrent write"),
	)
	if err != nil {
		return nil, err
	}

	return &Instrumented{next: next, tracer: tracer, duration: duration, conflicts: conflicts}, nil
}

func (i *Instrumented) Workflows(ctx context.Context) ([]*models.Workflow, error) {
	ctx, done := i.start(ctx, "Workflows")

	workflows, err := i.next.Workflows(ctx)
	done(err)

	return workflows, err
}

func (i *Instrumented) Workflow(ctx context.Context, id models.WorkflowID) (*models.Workflow, error) {
	ctx, done := i.start(ctx, "Workflow", attribute.String(otelhelper.ComponentIDKey, id.ComponentID), attribute.String(otelhelper.WorkflowIDKey, id.ID))

	workflow, err := i.next.Workflow(ctx, id)
	done(err)

	return workflow, err
}

func (i *Instrumented) SaveWorkflow(ctx context.Context, workflow *models.Workflow) error {
	ctx, done := i.start(ctx, "SaveWorkflow", attribute.String(otelhelper.ComponentIDKey, workflow.ID.ComponentID), attribute.String(otelhelper.WorkflowIDKey, workflow.ID.ID))

	err := i.next.SaveWorkflow(ctx, workflow)
	done(err)

	return err
}

func (i *Instrumented) DeleteWorkflow(ctx context.Context, id models.WorkflowID) error {
	ctx, done := i.start(ctx, "DeleteWorkflow", attribute.String(otelhelper.ComponentIDKey, id.ComponentID), attribute.String(otelhelper.WorkflowIDKey, id.ID))

	err := i.next.DeleteWorkflow(ctx, id)
	done(err)

	return err
}

func (i *Instrumented) ActiveStates(ctx context.Context) ([]models.RunState, error) {
	ctx, done := i.start(ctx, "ActiveStates")

	states, err := i.next.ActiveStates(ctx)
	done(err)

	return states, err
}

func (i *Instrumented) ActiveState(ctx context.Context, instance models.WorkflowInstance) (*models.RunState, error) {
	ctx, done := i.start(ctx, "ActiveState", otelhelper.InstanceAttributes(instance)...)

	state, err := i.next.ActiveState(ctx, instance)
	done(err)

	return state, err
}

func (i *Instrumented) Events(ctx context.Context, instance models.WorkflowInstance) ([]events.SequenceEvent, error) {
	ctx, done := i.start(ctx, "Events", otelhelper.InstanceAttributes(instance)...)

	log, err := i.next.Events(ctx, instance)
	done(err)

	return log, err
}

func (i *Instrumented) RunInTransaction(ctx context.Context, fn func(ctx context.Context, tx Transaction) error) error {
	ctx, done := i.start(ctx, "RunInTransaction")

	err := i.next.RunInTransaction(ctx, fn)
	if IsConflict(err) {
		i.conflicts.Add(ctx, 1)
	}

	done(err)

	return err
}

func (i *Instrumented) HealthCheck(ctx context.Context) error {
	return i.next.HealthCheck(ctx)
}

func (i *Instrumented) Close(ctx context.Context) error {
	return i.next.Close(ctx)
}

// start opens a span for op. Not-found results are expected lookups and do not mark the span as failed.
func (i *Instrumented) start(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	begin := time.Now()
	attrs = append(attrs, attribute.String(otelhelper.OperationKey, op))

	ctx, span := otelhelper.StartSpan(ctx, i.tracer, "persistence "+op, attrs...)

	return ctx, func(err error) {
		if err != nil && !IsWorkflowNotFound(err) && !IsActiveStateNotFound(err) {
			otelhelper.SetError(span, err)
		}

		i.duration.Record(ctx, time.Since(begin).Seconds(), metric.WithAttributes(attribute.String(otelhelper.OperationKey, op)))
		span.End()
	}
}
