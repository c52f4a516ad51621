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

func TestTimeoutHandler(t *testing.T) {
	t.Parallel()

	instance := testutil.Instance()

	tests := []struct {
		name     string
		state    models.State
		elapsed  time.Duration
		expected events.Event
	}{
		{name: "submitted within ttl", state: models.StateSubmitted, elapsed: 29 * time.Minute},
		{name: "submitted past ttl", state: models.StateSubmitted, elapsed: 30 * time.Minute, expected: events.NewTimeout(instance)},
		{name: "running within ttl", state: models.StateRunning, elapsed: 23 * time.Hour},
		{name: "running past ttl", state: models.StateRunning, elapsed: 25 * time.Hour, expected: events.NewTimeout(instance)},
		{name: "queued has no ttl", state: models.StateQueued, elapsed: 72 * time.Hour},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			clock := clockwork.NewFakeClockAt(testutil.DefaultTimestamp)
			clock.Advance(tt.elapsed)

			handler := handlers.NewTimeoutHandler(handlers.DefaultTTLs(), clock, discardLogger())

			event, ok := handler.TransitionInto(context.Background(), testutil.NewRunState(tt.state))

			assert.Equal(t, tt.expected != nil, ok)
			assert.Equal(t, tt.expected, event)
		})
	}
}

func TestTimeoutHandler_DisabledTTL(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClockAt(testutil.DefaultTimestamp.Add(48 * time.Hour))
	handler := handlers.NewTimeoutHandler(map[models.State]time.Duration{models.StateRunning: 0}, clock, discardLogger())

	_, ok := handler.TransitionInto(context.Background(), testutil.NewRunState(models.StateRunning))

	assert.False(t, ok)
}
