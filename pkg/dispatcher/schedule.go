package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukex/tideflow/pkg/events"
	"github.com/dukex/tideflow/pkg/models"
	"github.com/dukex/tideflow/pkg/persistence"
	"github.com/dukex/tideflow/pkg/state"
	"github.com/jonboulle/clockwork"
)

// DefaultMaxCatchUp bounds how many missed executions of one workflow are
// triggered in a single check.
const DefaultMaxCatchUp = 24

// ScheduleTriggerID is the trigger id recorded on instances created from a schedule.
const ScheduleTriggerID = "schedule"

// Receiver applies an event to the current state of its instance.
type Receiver interface {
	Receive(ctx context.Context, event events.Event) (models.RunState, error)
}

// ScheduleTrigger creates natural instances when workflow schedules come due.
type ScheduleTrigger struct {
	store      persistence.Persistence
	receiver   Receiver
	clock      clockwork.Clock
	logger     *slog.Logger
	interval   time.Duration
	maxCatchUp int

	mu        sync.Mutex
	lastCheck time.Time
}

// NewScheduleTrigger starts checking from the current time; executions due
// before it was created are not triggered.
func NewScheduleTrigger(
	store persistence.Persistence,
	receiver Receiver,
	clock clockwork.Clock,
	logger *slog.Logger,
	interval time.Duration,
) *ScheduleTrigger {
	if interval <= 0 {
		interval = DefaultTickInterval
	}

	return &ScheduleTrigger{
		store:      store,
		receiver:   receiver,
		clock:      clock,
		logger:     logger.With("module", "schedule_trigger"),
		interval:   interval,
		maxCatchUp: DefaultMaxCatchUp,
		lastCheck:  clock.Now(),
	}
}

// Run checks schedules every interval until ctx is cancelled.
func (s *ScheduleTrigger) Run(ctx context.Context) error {
	s.logger.InfoContext(ctx, "Starting schedule trigger", "interval", s.interval)

	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "Schedule trigger stopped")

			return nil
		case <-ticker.Chan():
			_, err := s.Trigger(ctx)
			if err != nil && ctx.Err() == nil {
				s.logger.ErrorContext(ctx, "Schedule check failed", "error", err)
			}
		}
	}
}

// Trigger creates the instances due since the previous check. It returns the
// instances it triggered.
func (s *ScheduleTrigger) Trigger(ctx context.Context) ([]models.WorkflowInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()

	workflows, err := s.store.Workflows(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load workflows: %w", err)
	}

	var triggered []models.WorkflowInstance

	for _, workflow := range workflows {
		instances, err := s.triggerWorkflow(ctx, workflow, s.lastCheck, now)
		if err != nil {
			s.logger.WarnContext(ctx, "Failed to trigger workflow",
				"workflow_id", workflow.ID.Key(), "schedule", workflow.Schedule, "error", err)
		}

		triggered = append(triggered, instances...)
	}

	s.lastCheck = now

	return triggered, nil
}

func (s *ScheduleTrigger) triggerWorkflow(
	ctx context.Context,
	workflow *models.Workflow,
	after, now time.Time,
) ([]models.WorkflowInstance, error) {
	var triggered []models.WorkflowInstance

	at, err := models.NextExecution(workflow.Schedule, after)
	if err != nil {
		return nil, err
	}

	for count := 0; !at.After(now) && count < s.maxCatchUp; count++ {
		instance := models.NewWorkflowInstance(workflow.ID, models.Parameter(workflow.Schedule, at))

		ok, err := s.triggerInstance(ctx, instance)
		if err != nil {
			return triggered, err
		}

		if ok {
			triggered = append(triggered, instance)
		}

		at, err = models.NextExecution(workflow.Schedule, at)
		if err != nil {
			return triggered, err
		}
	}

	return triggered, nil
}

func (s *ScheduleTrigger) triggerInstance(ctx context.Context, instance models.WorkflowInstance) (bool, error) {
	history, err := s.store.Events(ctx, instance)
	if err != nil {
		return false, fmt.Errorf("failed to read events of %s: %w", instance, err)
	}

	if len(history) > 0 {
		return false, nil
	}

	trigger := models.NewTrigger(models.TriggerTypeNatural, ScheduleTriggerID)

	_, err = s.receiver.Receive(ctx, events.NewTriggerExecution(instance, trigger))
	if err != nil {
		if errors.Is(err, state.ErrIllegalTransition) {
			return false, nil
		}

		return false, err
	}

	s.logger.InfoContext(ctx, "Triggered scheduled instance", "instance", instance.Key())

	return true, nil
}
