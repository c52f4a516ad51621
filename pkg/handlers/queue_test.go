package handlers_test

import (
	"context"
	"testing"
	"time"

	"github.com/dukex/tideflow/pkg/events"
	"github.com/dukex/tideflow/pkg/handlers"
	"github.com/dukex/tideflow/pkg/models"
	"github.com/dukex/tideflow/pkg/testutil"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
)

func TestQueueHandler(t *testing.T) {
	t.Parallel()

	instance := testutil.Instance()

	tests := []struct {
		name     string
		state    models.RunState
		elapsed  time.Duration
		expected events.Event
	}{
		{
			name:     "no delay dequeues immediately",
			state:    testutil.NewRunState(models.StateQueued),
			expected: events.NewDequeue(instance),
		},
		{
			name:    "waits for retry delay",
			state:   testutil.NewRunState(models.StateQueued, testutil.WithRetryDelay(10*time.Minute)),
			elapsed: 9 * time.Minute,
		},
		{
			name:     "dequeues once delay elapsed",
			state:    testutil.NewRunState(models.StateQueued, testutil.WithRetryDelay(10*time.Minute)),
			elapsed:  10 * time.Minute,
			expected: events.NewDequeue(instance),
		},
		{
			name:  "ignores other states",
			state: testutil.NewRunState(models.StatePrepare),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			clock := clockwork.NewFakeClockAt(testutil.DefaultTimestamp)
			clock.Advance(tt.elapsed)

			event, ok := handlers.NewQueueHandler(clock).TransitionInto(context.Background(), tt.state)

			assert.Equal(t, tt.expected != nil, ok)
			assert.Equal(t, tt.expected, event)
		})
	}
}
