// Package eventbus publishes applied state transitions so other processes can
// observe instances without polling storage.
package eventbus

import (
	"context"
	"encoding/json"

	"github.com/dukex/tideflow/pkg/events"
	"github.com/dukex/tideflow/pkg/models"
)

// Topic carries every Transition.
const Topic = "tideflow.transitions"

// Message metadata keys.
const (
	InstanceMetadataKey  = "tideflow_instance"
	EventTypeMetadataKey = "tideflow_event_type"
	StateMetadataKey     = "tideflow_state"
)

// Transition is an event applied to an instance together with the states it moved between.
type Transition struct {
	Instance models.WorkflowInstance `json:"instance"`
	From     models.State            `json:"from"`
	To       models.State            `json:"to"`
	Event    events.SequenceEvent    `json:"event"`
}

// NewTransition describes the move from previous to next caused by event.
func NewTransition(previous, next models.RunState, event events.Event) Transition {
	return Transition{
		Instance: next.Instance,
		From:     previous.State,
		To:       next.State,
		Event: events.SequenceEvent{
			Event:     event,
			Counter:   next.Counter,
			Timestamp: next.Timestamp,
		},
	}
}

// Marshal encodes the transition as JSON.
func (t Transition) Marshal() ([]byte, error) {
	return json.Marshal(t)
}

// UnmarshalTransition decodes a transition produced by Marshal.
func UnmarshalTransition(data []byte) (Transition, error) {
	var transition Transition

	err := json.Unmarshal(data, &transition)

	return transition, err
}

type Publisher interface {
	Publish(ctx context.Context, transition Transition) error
}

// Handler processes one transition. Returning an error asks for redelivery.
type Handler func(ctx context.Context, transition Transition) error

type Subscriber interface {
	// Subscribe delivers transitions to handler until ctx is done. It returns once
	// the subscription is established.
	Subscribe(ctx context.Context, handler Handler) error
}

type EventBus interface {
	Publisher
	Subscriber
	Close() error
	GenerateID() string
}
