// Package dispatcher runs the scheduler loop: it asks the handler chain for the
// next event of every active instance, applies it through the state machine,
// persists the result and announces the transition.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/dukex/tideflow/pkg/eventbus"
	"github.com/dukex/tideflow/pkg/events"
	"github.com/dukex/tideflow/pkg/handlers"
	"github.com/dukex/tideflow/pkg/models"
	"github.com/dukex/tideflow/pkg/otelhelper"
	"github.com/dukex/tideflow/pkg/persistence"
	"github.com/dukex/tideflow/pkg/state"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultTickInterval = time.Second
	DefaultConcurrency  = 32

	// DefaultConflictRetries bounds how often a transaction is retried after a concurrent write.
	DefaultConflictRetries = 5
)

// Reasons reported on the dropped-events counter.
const (
	dropIllegal = "illegal"
	dropStale   = "stale"
	dropError   = "error"
)

// ErrStaleEvent is returned by ReceiveAt when the instance moved on since the
// snapshot the event was computed from.
var ErrStaleEvent = errors.New("event computed from a stale state")

var errNoActiveState = errors.New("no active state")

type Config struct {
	TickInterval    time.Duration
	Concurrency     int
	ConflictRetries uint
}

func (c Config) withDefaults() Config {
	if c.TickInterval <= 0 {
		c.TickInterval = DefaultTickInterval
	}

	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}

	if c.ConflictRetries == 0 {
		c.ConflictRetries = DefaultConflictRetries
	}

	return c
}

type Dispatcher struct {
	store     persistence.Persistence
	handler   handlers.OutputHandler
	publisher eventbus.Publisher
	clock     clockwork.Clock
	logger    *slog.Logger
	config    Config

	applied      metric.Int64Counter
	dropped      metric.Int64Counter
	tickDuration metric.Float64Histogram
}

func New(
	store persistence.Persistence,
	handler handlers.OutputHandler,
	publisher eventbus.Publisher,
	clock clockwork.Clock,
	logger *slog.Logger,
	meter metric.Meter,
	config Config,
) (*Dispatcher, error) {
	applied, err := meter.Int64Counter("tideflow.events.applied",
		metric.WithDescription("Events applied to workflow instances"))
	if err != nil {
		return nil, fmt.Errorf("failed to create applied counter: %w", err)
	}

	dropped, err := meter.Int64Counter("tideflow.events.dropped",
		metric.WithDescription("Events that could not be applied"))
	if err != nil {
		return nil, fmt.Errorf("failed to create dropped counter: %w", err)
	}

	tickDuration, err := meter.Float64Histogram("tideflow.tick.duration",
		metric.WithDescription("Duration of one dispatch tick"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("failed to create tick histogram: %w", err)
	}

	if publisher == nil {
		publisher = eventbus.Noop{}
	}

	return &Dispatcher{
		store:        store,
		handler:      handler,
		publisher:    publisher,
		clock:        clock,
		logger:       logger.With("module", "dispatcher"),
		config:       config.withDefaults(),
		applied:      applied,
		dropped:      dropped,
		tickDuration: tickDuration,
	}, nil
}

// Run ticks every TickInterval until ctx is cancelled. A failing tick is logged
// and the loop carries on.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.InfoContext(ctx, "Starting dispatcher",
		"tick_interval", d.config.TickInterval, "concurrency", d.config.Concurrency)

	ticker := d.clock.NewTicker(d.config.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.InfoContext(ctx, "Dispatcher stopped")

			return nil
		case <-ticker.Chan():
			err := d.Tick(ctx)
			if err != nil && ctx.Err() == nil {
				d.logger.ErrorContext(ctx, "Dispatch tick failed", "error", err)
			}
		}
	}
}

// Tick processes every active instance once.
func (d *Dispatcher) Tick(ctx context.Context) error {
	begin := d.clock.Now()

	defer func() {
		d.tickDuration.Record(ctx, d.clock.Since(begin).Seconds())
	}()

	states, err := d.store.ActiveStates(ctx)
	if err != nil {
		return fmt.Errorf("failed to load active states: %w", err)
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(d.config.Concurrency)

	for _, snapshot := range states {
		group.Go(func() error {
			d.process(groupCtx, snapshot)

			return nil
		})
	}

	return group.Wait()
}

// process runs the handler chain on one snapshot and applies its event.
// Errors are logged; one instance never stops the others.
func (d *Dispatcher) process(ctx context.Context, snapshot models.RunState) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.ErrorContext(ctx, "Recovered from panic while processing instance",
				"instance", snapshot.Instance.Key(), "state", snapshot.State, "panic", fmt.Sprint(r))
		}
	}()

	event, ok := d.handler.TransitionInto(ctx, snapshot)
	if !ok {
		if snapshot.State.IsTerminal() {
			d.archive(ctx, snapshot)
		}

		return
	}

	_, err := d.ReceiveAt(ctx, event, snapshot.Counter)
	if err != nil && !errors.Is(err, ErrStaleEvent) {
		d.logger.WarnContext(ctx, "Failed to apply event",
			"instance", snapshot.Instance.Key(),
			"state", snapshot.State,
			"event_type", event.GetType(),
			"error", err)
	}
}

// Receive applies event to the current state of its instance. Unknown instances
// start from NEW.
func (d *Dispatcher) Receive(ctx context.Context, event events.Event) (models.RunState, error) {
	return d.receive(ctx, event, nil)
}

// ReceiveAt applies event only if the instance is still at expectedCounter.
func (d *Dispatcher) ReceiveAt(ctx context.Context, event events.Event, expectedCounter int64) (models.RunState, error) {
	return d.receive(ctx, event, &expectedCounter)
}

type applied struct {
	previous models.RunState
	next     models.RunState
}

func (d *Dispatcher) receive(ctx context.Context, event events.Event, expectedCounter *int64) (models.RunState, error) {
	instance := event.GetInstance()

	// counter of the last logged event, loaded once the instance turns out to have no active state
	var resumeFrom *int64

	operation := func() (applied, error) {
		result, err := d.apply(ctx, event, expectedCounter, resumeFrom)
		if errors.Is(err, errNoActiveState) {
			counter, historyErr := d.lastCounter(ctx, instance)
			if historyErr != nil {
				return result, backoff.Permanent(historyErr)
			}

			resumeFrom = &counter
			result, err = d.apply(ctx, event, expectedCounter, resumeFrom)
		}

		if err != nil && !persistence.IsConflict(err) {
			return result, backoff.Permanent(err)
		}

		if err != nil {
			resumeFrom = nil
		}

		return result, err
	}

	result, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(conflictBackOff()),
		backoff.WithMaxTries(d.config.ConflictRetries),
		backoff.WithNotify(func(err error, wait time.Duration) {
			d.logger.DebugContext(ctx, "Retrying after conflict", "instance", instance.Key(), "wait", wait, "error", err)
		}),
	)
	if err != nil {
		d.dropped.Add(ctx, 1, metric.WithAttributes(
			attribute.String(otelhelper.EventTypeKey, string(event.GetType())),
			attribute.String("reason", dropReason(err)),
		))

		return models.RunState{}, err
	}

	d.applied.Add(ctx, 1, metric.WithAttributes(attribute.String(otelhelper.EventTypeKey, string(event.GetType()))))

	d.logger.InfoContext(ctx, "Applied event",
		"instance", instance.Key(),
		"event_type", event.GetType(),
		"from", result.previous.State,
		"to", result.next.State,
		"counter", result.next.Counter)

	d.publish(ctx, eventbus.NewTransition(result.previous, result.next, event))

	return result.next, nil
}

// archive removes a terminal instance from the active set. Its event log is kept.
// apply runs one transaction applying event. An instance without active state
// starts from NEW at resumeFrom, or fails with errNoActiveState when resumeFrom
// is not known yet.
func (d *Dispatcher) apply(ctx context.Context, event events.Event, expectedCounter, resumeFrom *int64) (applied, error) {
	instance := event.GetInstance()

	var result applied

	err := d.store.RunInTransaction(ctx, func(ctx context.Context, tx persistence.Transaction) error {
		now := d.clock.Now()

		current, err := tx.ActiveState(ctx, instance)
		if err != nil {
			if !persistence.IsActiveStateNotFound(err) {
				return err
			}

			if resumeFrom == nil {
				return errNoActiveState
			}

			initial := models.NewRunState(instance, now)
			initial.Counter = *resumeFrom
			current = &initial
		}

		if expectedCounter != nil && current.Counter != *expectedCounter {
			return fmt.Errorf("%w: %s is at %d, expected %d", ErrStaleEvent, instance, current.Counter, *expectedCounter)
		}

		next, err := state.Apply(*current, event, now)
		if err != nil {
			return err
		}

		err = tx.StoreActiveState(ctx, next)
		if err != nil {
			return err
		}

		err = tx.AppendEvent(ctx, events.SequenceEvent{Event: event, Counter: next.Counter, Timestamp: next.Timestamp})
		if err != nil {
			return err
		}

		result = applied{previous: *current, next: next}

		return nil
	})

	return result, err
}

// lastCounter returns the counter of the newest logged event of instance, 0 when
// it has never run. Archived instances keep their log, so a new run continues it.
func (d *Dispatcher) lastCounter(ctx context.Context, instance models.WorkflowInstance) (int64, error) {
	log, err := d.store.Events(ctx, instance)
	if err != nil {
		return 0, fmt.Errorf("failed to load event log of %s: %w", instance, err)
	}

	if len(log) == 0 {
		return 0, nil
	}

	return log[len(log)-1].Counter, nil
}

func (d *Dispatcher) archive(ctx context.Context, snapshot models.RunState) {
	err := d.store.RunInTransaction(ctx, func(ctx context.Context, tx persistence.Transaction) error {
		current, err := tx.ActiveState(ctx, snapshot.Instance)
		if err != nil {
			return err
		}

		if current.Counter != snapshot.Counter {
			return ErrStaleEvent
		}

		return tx.DeleteActiveState(ctx, snapshot.Instance)
	})
	if err != nil {
		if !persistence.IsActiveStateNotFound(err) && !errors.Is(err, ErrStaleEvent) && !persistence.IsConflict(err) {
			d.logger.WarnContext(ctx, "Failed to archive instance", "instance", snapshot.Instance.Key(), "error", err)
		}

		return
	}

	d.logger.InfoContext(ctx, "Archived instance", "instance", snapshot.Instance.Key(), "state", snapshot.State)
}

func (d *Dispatcher) publish(ctx context.Context, transition eventbus.Transition) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.ErrorContext(ctx, "Recovered from panic while publishing transition",
				"instance", transition.Instance.Key(), "panic", fmt.Sprint(r))
		}
	}()

	err := d.publisher.Publish(ctx, transition)
	if err != nil {
		d.logger.WarnContext(ctx, "Failed to publish transition",
			"instance", transition.Instance.Key(), "error", err)
	}
}

func conflictBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 10 * time.Millisecond
	b.MaxInterval = 250 * time.Millisecond

	return b
}

func dropReason(err error) string {
	switch {
	case errors.Is(err, state.ErrIllegalTransition), errors.Is(err, state.ErrInstanceMismatch):
		return dropIllegal
	case errors.Is(err, ErrStaleEvent):
		return dropStale
	default:
		return dropError
	}
}
