// Package persistencetest holds behaviour tests shared by every persistence backend.
package persistencetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dukex/tideflow/pkg/events"
	"github.com/dukex/tideflow/pkg/models"
	"github.com/dukex/tideflow/pkg/persistence"
	"github.com/dukex/tideflow/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns an empty, ready to use backend. It is called once per subtest.
type Factory func(t *testing.T) persistence.Persistence

// Run exercises the persistence.Persistence contract against the backend built by factory.
func Run(t *testing.T, factory Factory) {
	t.Helper()

	t.Run("workflow lifecycle", func(t *testing.T) { testWorkflowLifecycle(t, factory(t)) })
	t.Run("transaction stores state and events", func(t *testing.T) { testTransactionCommit(t, factory(t)) })
	t.Run("failed transaction writes nothing", func(t *testing.T) { testTransactionRollback(t, factory(t)) })
	t.Run("archived instance keeps its events", func(t *testing.T) { testArchive(t, factory(t)) })
	t.Run("health check", func(t *testing.T) {
		require.NoError(t, factory(t).HealthCheck(context.Background()))
	})
}

func testWorkflowLifecycle(t *testing.T, p persistence.Persistence) {
	ctx := context.Background()
	workflow := testutil.Workflow()
	workflow.CreatedAt = time.Time{}

	_, err := p.Workflow(ctx, workflow.ID)
	require.ErrorIs(t, err, persistence.ErrWorkflowNotFound)

	require.NoError(t, p.SaveWorkflow(ctx, workflow))
	assert.False(t, workflow.CreatedAt.IsZero())

	other := testutil.Workflow(func(w *models.Workflow) {
		w.ID = models.NewWorkflowID("billing", "hourly-sync")
		w.Schedule = "hourly"
	})
	require.NoError(t, p.SaveWorkflow(ctx, other))

	loaded, err := p.Workflow(ctx, workflow.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.ID, loaded.ID)
	assert.Equal(t, workflow.Schedule, loaded.Schedule)
	assert.Equal(t, workflow.DockerImage, loaded.DockerImage)
	assert.Equal(t, workflow.DockerArgs, loaded.DockerArgs)
	assert.Equal(t, workflow.Env, loaded.Env)
	assert.WithinDuration(t, workflow.CreatedAt, loaded.CreatedAt, time.Millisecond)

	all, err := p.Workflows(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "daily-report", all[0].ID.ID)
	assert.Equal(t, "hourly-sync", all[1].ID.ID)

	loaded.Schedule = "weekly"
	require.NoError(t, p.SaveWorkflow(ctx, loaded))

	updated, err := p.Workflow(ctx, workflow.ID)
	require.NoError(t, err)
	assert.Equal(t, "weekly", updated.Schedule)

	require.NoError(t, p.DeleteWorkflow(ctx, workflow.ID))

	_, err = p.Workflow(ctx, workflow.ID)
	require.ErrorIs(t, err, persistence.ErrWorkflowNotFound)

	err = p.DeleteWorkflow(ctx, workflow.ID)
	require.ErrorIs(t, err, persistence.ErrWorkflowNotFound)
}

func testTransactionCommit(t *testing.T, p persistence.Persistence) {
	ctx := context.Background()
	state := testutil.NewRunState(models.StateQueued, testutil.WithCounter(1))
	trigger := *state.Data.Trigger

	_, err := p.ActiveState(ctx, state.Instance)
	require.ErrorIs(t, err, persistence.ErrActiveStateNotFound)

	err = p.RunInTransaction(ctx, func(ctx context.Context, tx persistence.Transaction) error {
		_, err := tx.ActiveState(ctx, state.Instance)
		require.ErrorIs(t, err, persistence.ErrActiveStateNotFound)

		require.NoError(t, tx.StoreActiveState(ctx, state))

		return tx.AppendEvent(ctx, events.SequenceEvent{
			Event:     events.NewTriggerExecution(state.Instance, trigger),
			Counter:   1,
			Timestamp: testutil.DefaultTimestamp,
		})
	})
	require.NoError(t, err)

	next := testutil.NewRunState(models.StatePrepare, testutil.WithCounter(2))

	err = p.RunInTransaction(ctx, func(ctx context.Context, tx persistence.Transaction) error {
		current, err := tx.ActiveState(ctx, state.Instance)
		require.NoError(t, err)
		assert.Equal(t, int64(1), current.Counter)

		require.NoError(t, tx.StoreActiveState(ctx, next))

		return tx.AppendEvent(ctx, events.SequenceEvent{
			Event:     events.NewDequeue(state.Instance),
			Counter:   2,
			Timestamp: testutil.DefaultTimestamp.Add(time.Minute),
		})
	})
	require.NoError(t, err)

	stored, err := p.ActiveState(ctx, state.Instance)
	require.NoError(t, err)
	assert.Equal(t, next, *stored)

	active, err := p.ActiveStates(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, models.StatePrepare, active[0].State)

	log, err := p.Events(ctx, state.Instance)
	require.NoError(t, err)
	require.Len(t, log, 2)
	assert.Equal(t, events.TriggerExecutionEvent, log[0].Event.GetType())
	assert.Equal(t, events.DequeueEvent, log[1].Event.GetType())
	assert.Equal(t, int64(2), log[1].Counter)
	assert.True(t, log[1].Timestamp.Equal(testutil.DefaultTimestamp.Add(time.Minute)))
}

func testTransactionRollback(t *testing.T, p persistence.Persistence) {
	ctx := context.Background()
	state := testutil.NewRunState(models.StateQueued, testutil.WithCounter(1))
	boom := errors.New("boom")

	err := p.RunInTransaction(ctx, func(ctx context.Context, tx persistence.Transaction) error {
		require.NoError(t, tx.StoreActiveState(ctx, state))
		require.NoError(t, tx.AppendEvent(ctx, events.SequenceEvent{
			Event:     events.NewInfo(state.Instance, "never stored"),
			Counter:   1,
			Timestamp: testutil.DefaultTimestamp,
		}))

		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = p.ActiveState(ctx, state.Instance)
	require.ErrorIs(t, err, persistence.ErrActiveStateNotFound)

	log, err := p.Events(ctx, state.Instance)
	require.NoError(t, err)
	assert.Empty(t, log)
}

func testArchive(t *testing.T, p persistence.Persistence) {
	ctx := context.Background()
	state := testutil.NewRunState(models.StateDone, testutil.WithCounter(9))

	err := p.RunInTransaction(ctx, func(ctx context.Context, tx persistence.Transaction) error {
		require.NoError(t, tx.StoreActiveState(ctx, state))

		return tx.AppendEvent(ctx, events.SequenceEvent{
			Event:     events.NewSuccess(state.Instance),
			Counter:   9,
			Timestamp: testutil.DefaultTimestamp,
		})
	})
	require.NoError(t, err)

	err = p.RunInTransaction(ctx, func(ctx context.Context, tx persistence.Transaction) error {
		return tx.DeleteActiveState(ctx, state.Instance)
	})
	require.NoError(t, err)

	_, err = p.ActiveState(ctx, state.Instance)
	require.ErrorIs(t, err, persistence.ErrActiveStateNotFound)

	active, err := p.ActiveStates(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)

	log, err := p.Events(ctx, state.Instance)
	require.NoError(t, err)
	require.Len(t, log, 1)
	assert.Equal(t, events.SuccessEvent, log[0].Event.GetType())
}
