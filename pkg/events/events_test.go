package events_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/dukex/tideflow/pkg/events"
	"github.com/dukex/tideflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var instance = models.NewWorkflowInstance(models.NewWorkflowID("billing", "daily-report"), "2024-03-01")

func TestConstructorsSetType(t *testing.T) {
	t.Parallel()

	exitCode := 3
	tests := []struct {
		event    events.Event
		expected events.EventType
	}{
		{events.NewTriggerExecution(instance, models.NewTrigger(models.TriggerTypeNatural, "sched")), events.TriggerExecutionEvent},
		{events.NewDequeue(instance), events.DequeueEvent},
		{events.NewSubmit(instance, models.ExecutionDescription{DockerImage: "busybox"}, "run-1"), events.SubmitEvent},
		{events.NewSubmitted(instance, "run-1"), events.SubmittedEvent},
		{events.NewStarted(instance), events.StartedEvent},
		{events.NewTerminate(instance, &exitCode), events.TerminateEvent},
		{events.NewRunError(instance, "boom"), events.RunErrorEvent},
		{events.NewTimeout(instance), events.TimeoutEvent},
		{events.NewSuccess(instance), events.SuccessEvent},
		{events.NewRetryAfter(instance, time.Minute), events.RetryAfterEvent},
		{events.NewRetry(instance), events.RetryEvent},
		{events.NewStop(instance), events.StopEvent},
		{events.NewHalt(instance), events.HaltEvent},
		{events.NewInfo(instance, "hello"), events.InfoEvent},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, tt.event.GetType())
		assert.Equal(t, instance, tt.event.GetInstance())
	}
}

func TestRetryAfter_Delay(t *testing.T) {
	t.Parallel()

	event := events.NewRetryAfter(instance, 10*time.Minute)

	assert.Equal(t, int64(600000), event.DelayMillis)
	assert.Equal(t, 10*time.Minute, event.Delay())
}

func TestUnmarshal_RestoresConcreteType(t *testing.T) {
	t.Parallel()

	exitCode := 20
	original := events.NewTerminate(instance, &exitCode)

	data, err := events.Marshal(original)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"type":"terminate"`)
	assert.Contains(t, string(data), `"exit_code":20`)

	decoded, err := events.Unmarshal(data)
	require.NoError(t, err)

	terminate, ok := decoded.(events.Terminate)
	require.True(t, ok, "expected events.Terminate, got %T", decoded)
	require.NotNil(t, terminate.ExitCode)
	assert.Equal(t, 20, *terminate.ExitCode)
	assert.Equal(t, instance, terminate.GetInstance())
}

func TestTerminate_OmitsMissingExitCode(t *testing.T) {
	t.Parallel()

	data, err := events.Marshal(events.NewTerminate(instance, nil))
	require.NoError(t, err)
	assert.NotContains(t, string(data), "exit_code")
}

func TestUnmarshal_Errors(t *testing.T) {
	t.Parallel()

	_, err := events.Unmarshal([]byte(`{"type":"explode","instance":{}}`))
	require.ErrorIs(t, err, events.ErrUnknownEventType)

	_, err = events.Unmarshal([]byte(`not json`))
	require.Error(t, err)

	_, err = events.Marshal(nil)
	require.Error(t, err)
}

func TestSequenceEvent_JSON(t *testing.T) {
	t.Parallel()

	original := events.SequenceEvent{
		Event:     events.NewSubmit(instance, models.ExecutionDescription{DockerImage: "busybox", DockerArgs: []string{"{}"}}, "run-1"),
		Counter:   4,
		Timestamp: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
	}

	data, err := json.Marshal(original)
	require.NoError(t, err)

	var decoded events.SequenceEvent
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, original.Counter, decoded.Counter)
	assert.True(t, original.Timestamp.Equal(decoded.Timestamp))

	submit, ok := decoded.Event.(events.Submit)
	require.True(t, ok)
	assert.Equal(t, "run-1", submit.ExecutionID)
	assert.Equal(t, []string{"{}"}, submit.ExecutionDescription.DockerArgs)
}
