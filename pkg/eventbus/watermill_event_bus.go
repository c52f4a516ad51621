package eventbus

import (
	"context"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

type WatermillEventBus struct {
	publisher  message.Publisher
	subscriber message.Subscriber
	logger     *slog.Logger
}

func NewWatermillEventBus(logger *slog.Logger, pub message.Publisher, sub message.Subscriber) *WatermillEventBus {
	return &WatermillEventBus{
		publisher:  pub,
		subscriber: sub,
		logger:     logger.With("module", "eventbus"),
	}
}

func (eb *WatermillEventBus) GenerateID() string {
	return watermill.NewULID()
}

func (eb *WatermillEventBus) Publish(ctx context.Context, transition Transition) error {
	payload, err := transition.Marshal()
	if err != nil {
		return err
	}

	msg := message.NewMessage("msg-"+eb.GenerateID(), payload)
	msg.SetContext(ctx)
	msg.Metadata.Set(InstanceMetadataKey, transition.Instance.Key())
	msg.Metadata.Set(EventTypeMetadataKey, string(transition.Event.Event.GetType()))
	msg.Metadata.Set(StateMetadataKey, string(transition.To))

	return eb.publisher.Publish(Topic, msg)
}

func (eb *WatermillEventBus) Subscribe(ctx context.Context, handler Handler) error {
	messages, err := eb.subscriber.Subscribe(ctx, Topic)
	if err != nil {
		return err
	}

	go func() {
		for msg := range messages {
			transition, err := UnmarshalTransition(msg.Payload)
			if err != nil {
				// Undecodable messages would be redelivered forever.
				eb.logger.WarnContext(ctx, "dropping undecodable transition", "message_id", msg.UUID, "error", err)
				msg.Ack()

				continue
			}

			err = handler(ctx, transition)
			if err != nil {
				eb.logger.WarnContext(ctx, "transition handler failed", "instance", transition.Instance.Key(), "error", err)
				msg.Nack()

				continue
			}

			msg.Ack()
		}
	}()

	return nil
}

func (eb *WatermillEventBus) Close() error {
	err := eb.publisher.Close()
	if err != nil {
		return err
	}

	return eb.subscriber.Close()
}
