package eventbus_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/dukex/tideflow/pkg/channels/gochannel"
	"github.com/dukex/tideflow/pkg/eventbus"
	"github.com/dukex/tideflow/pkg/events"
	"github.com/dukex/tideflow/pkg/models"
	"github.com/dukex/tideflow/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBus(t *testing.T) *eventbus.WatermillEventBus {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	pub, sub, err := gochannel.CreateTestChannel(watermill.NewSlogLogger(logger))
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(logger, pub, sub)
	t.Cleanup(func() { _ = bus.Close() })

	return bus
}

func TestNewTransition(t *testing.T) {
	t.Parallel()

	previous := testutil.NewRunState(models.StateRunning)
	next := testutil.NewRunState(models.StateTerminated, testutil.WithCounter(6), testutil.WithLastExit(0))
	exitCode := 0

	transition := eventbus.NewTransition(previous, next, events.NewTerminate(next.Instance, &exitCode))

	assert.Equal(t, next.Instance, transition.Instance)
	assert.Equal(t, models.StateRunning, transition.From)
	assert.Equal(t, models.StateTerminated, transition.To)
	assert.Equal(t, int64(6), transition.Event.Counter)
	assert.Equal(t, next.Timestamp, transition.Event.Timestamp)
}

func TestWatermillEventBus_PublishSubscribe(t *testing.T) {
	t.Parallel()

	bus := newBus(t)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	received := make(chan eventbus.Transition, 1)
	require.NoError(t, bus.Subscribe(ctx, func(_ context.Context, transition eventbus.Transition) error {
		received <- transition

		return nil
	}))

	previous := testutil.NewRunState(models.StateTerminated)
	next := testutil.NewRunState(models.StateQueued, testutil.WithCounter(6))
	sent := eventbus.NewTransition(previous, next, events.NewRetryAfter(next.Instance, 10*time.Minute))

	require.NoError(t, bus.Publish(ctx, sent))

	select {
	case got := <-received:
		assert.Equal(t, sent.Instance, got.Instance)
		assert.Equal(t, models.StateTerminated, got.From)
		assert.Equal(t, models.StateQueued, got.To)
		require.IsType(t, events.RetryAfter{}, got.Event.Event)
		assert.Equal(t, 10*time.Minute, got.Event.Event.(events.RetryAfter).Delay())
	case <-time.After(5 * time.Second):
		t.Fatal("transition not delivered")
	}
}

func TestWatermillEventBus_RedeliversOnHandlerError(t *testing.T) {
	t.Parallel()

	bus := newBus(t)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	var attempts atomic.Int32

	done := make(chan struct{})
	require.NoError(t, bus.Subscribe(ctx, func(context.Context, eventbus.Transition) error {
		if attempts.Add(1) == 1 {
			return errors.New("not yet")
		}

		close(done)

		return nil
	}))

	state := testutil.NewRunState(models.StateDone)
	require.NoError(t, bus.Publish(ctx, eventbus.NewTransition(testutil.NewRunState(models.StateTerminated), state, events.NewSuccess(state.Instance))))

	select {
	case <-done:
		assert.Equal(t, int32(2), attempts.Load())
	case <-time.After(5 * time.Second):
		t.Fatal("transition not redelivered")
	}
}

func TestNoop(t *testing.T) {
	t.Parallel()

	var bus eventbus.EventBus = eventbus.Noop{}

	state := testutil.NewRunState(models.StateDone)
	require.NoError(t, bus.Publish(context.Background(), eventbus.NewTransition(state, state, events.NewSuccess(state.Instance))))
	require.NoError(t, bus.Subscribe(context.Background(), nil))
	assert.NotEmpty(t, bus.GenerateID())
	require.NoError(t, bus.Close())
}
