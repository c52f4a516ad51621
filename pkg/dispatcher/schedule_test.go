package dispatcher_test

import (
	"context"
	"testing"
	"time"

	"github.com/dukex/tideflow/pkg/dispatcher"
	"github.com/dukex/tideflow/pkg/events"
	"github.com/dukex/tideflow/pkg/models"
	"github.com/dukex/tideflow/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newScheduleTrigger(t *testing.T, workflows ...*models.Workflow) (*fixture, *dispatcher.ScheduleTrigger) {
	t.Helper()

	f := newFixture(t, noEvents(), nil)

	for _, workflow := range workflows {
		require.NoError(t, f.store.SaveWorkflow(context.Background(), workflow))
	}

	return f, dispatcher.NewScheduleTrigger(f.store, f.dispatcher, f.clock, discardLogger(), time.Minute)
}

func hourly(w *models.Workflow) { w.Schedule = "hourly" }

func TestScheduleTrigger_TriggersDueInstances(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f, trigger := newScheduleTrigger(t, testutil.Workflow(hourly))
	workflowID := testutil.Instance().Workflow

	triggered, err := trigger.Trigger(ctx)
	require.NoError(t, err)
	assert.Empty(t, triggered)

	f.clock.Advance(2*time.Hour + 10*time.Minute)

	triggered, err = trigger.Trigger(ctx)
	require.NoError(t, err)
	assert.Equal(t, []models.WorkflowInstance{
		models.NewWorkflowInstance(workflowID, "2024-03-01T13"),
		models.NewWorkflowInstance(workflowID, "2024-03-01T14"),
	}, triggered)

	for _, instance := range triggered {
		s, err := f.store.ActiveState(ctx, instance)
		require.NoError(t, err)
		assert.Equal(t, models.StateQueued, s.State)
		require.NotNil(t, s.Data.Trigger)
		assert.Equal(t, models.NewTrigger(models.TriggerTypeNatural, dispatcher.ScheduleTriggerID), *s.Data.Trigger)
	}

	triggered, err = trigger.Trigger(ctx)
	require.NoError(t, err)
	assert.Empty(t, triggered)
}

func TestScheduleTrigger_SkipsExistingInstances(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f, trigger := newScheduleTrigger(t, testutil.Workflow(hourly))
	existing := models.NewWorkflowInstance(testutil.Instance().Workflow, "2024-03-01T13")

	_, err := f.dispatcher.Receive(ctx, events.NewTriggerExecution(existing, models.NewTrigger(models.TriggerTypeAdhoc, "op")))
	require.NoError(t, err)
	_, err = f.dispatcher.Receive(ctx, events.NewHalt(existing))
	require.NoError(t, err)

	f.clock.Advance(time.Hour + time.Minute)

	triggered, err := trigger.Trigger(ctx)
	require.NoError(t, err)
	assert.Empty(t, triggered)

	s, err := f.store.ActiveState(ctx, existing)
	require.NoError(t, err)
	assert.Equal(t, models.StateError, s.State)
}

func TestScheduleTrigger_BoundsCatchUp(t *testing.T) {
	t.Parallel()

	f, trigger := newScheduleTrigger(t, testutil.Workflow(hourly))
	f.clock.Advance(72 * time.Hour)

	triggered, err := trigger.Trigger(context.Background())
	require.NoError(t, err)
	assert.Len(t, triggered, dispatcher.DefaultMaxCatchUp)
}

func TestScheduleTrigger_InvalidScheduleDoesNotBlockOthers(t *testing.T) {
	t.Parallel()

	broken := testutil.Workflow(func(w *models.Workflow) {
		w.ID = models.NewWorkflowID("billing", "broken")
		w.Schedule = "every now and then"
	})
	f, trigger := newScheduleTrigger(t, broken, testutil.Workflow())
	f.clock.Advance(24 * time.Hour)

	triggered, err := trigger.Trigger(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []models.WorkflowInstance{
		models.NewWorkflowInstance(testutil.Instance().Workflow, "2024-03-02"),
	}, triggered)
}
