package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrUnknownEventType is returned when decoding an envelope whose type is not part of the vocabulary.
var ErrUnknownEventType = errors.New("unknown event type")

// Marshal encodes an event as a JSON envelope carrying its type.
func Marshal(event Event) ([]byte, error) {
	if event == nil {
		return nil, errors.New("cannot marshal nil event")
	}

	return json.Marshal(event)
}

// Unmarshal decodes an envelope produced by Marshal into the concrete event value.
func Unmarshal(data []byte) (Event, error) {
	var envelope BaseEvent

	err := json.Unmarshal(data, &envelope)
	if err != nil {
		return nil, fmt.Errorf("failed to decode event envelope: %w", err)
	}

	event, err := decode(envelope.Type, data)
	if err != nil {
		return nil, err
	}

	return event, nil
}

func decode(eventType EventType, data []byte) (Event, error) {
	switch eventType {
	case TriggerExecutionEvent:
		return decodeInto[TriggerExecution](data)
	case InfoEvent:
		return decodeInto[Info](data)
	case DequeueEvent:
		return decodeInto[Dequeue](data)
	case SubmitEvent:
		return decodeInto[Submit](data)
	case SubmittedEvent:
		return decodeInto[Submitted](data)
	case StartedEvent:
		return decodeInto[Started](data)
	case TerminateEvent:
		return decodeInto[Terminate](data)
	case RunErrorEvent:
		return decodeInto[RunError](data)
	case TimeoutEvent:
		return decodeInto[Timeout](data)
	case SuccessEvent:
		return decodeInto[Success](data)
	case RetryAfterEvent:
		return decodeInto[RetryAfter](data)
	case RetryEvent:
		return decodeInto[Retry](data)
	case StopEvent:
		return decodeInto[Stop](data)
	case HaltEvent:
		return decodeInto[Halt](data)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, eventType)
	}
}

func decodeInto[T Event](data []byte) (Event, error) {
	var event T

	err := json.Unmarshal(data, &event)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %T: %w", event, err)
	}

	return event, nil
}

type sequenceEventJSON struct {
	Event     json.RawMessage `json:"event"`
	Counter   int64           `json:"counter"`
	Timestamp time.Time       `json:"timestamp"`
}

func (s SequenceEvent) MarshalJSON() ([]byte, error) {
	payload, err := Marshal(s.Event)
	if err != nil {
		return nil, err
	}

	return json.Marshal(sequenceEventJSON{Event: payload, Counter: s.Counter, Timestamp: s.Timestamp})
}

func (s *SequenceEvent) UnmarshalJSON(data []byte) error {
	var raw sequenceEventJSON

	err := json.Unmarshal(data, &raw)
	if err != nil {
		return err
	}

	event, err := Unmarshal(raw.Event)
	if err != nil {
		return err
	}

	s.Event = event
	s.Counter = raw.Counter
	s.Timestamp = raw.Timestamp

	return nil
}
