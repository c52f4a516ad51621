package cmd

import (
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/dukex/tideflow/pkg/channels/gochannel"
	"github.com/dukex/tideflow/pkg/channels/kafka"
	"github.com/dukex/tideflow/pkg/eventbus"
)

// NewEventBus creates the transition bus for provider ("none", "gochannel" or "kafka").
func NewEventBus(provider string, logger *slog.Logger, brokers []string, consumerGroup string) (eventbus.EventBus, error) {
	switch provider {
	case "", "none":
		return eventbus.Noop{}, nil
	case "gochannel":
		pub, sub, err := gochannel.CreateChannel(watermill.NewSlogLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("failed to create in-memory pub/sub: %w", err)
		}

		return eventbus.NewWatermillEventBus(logger, pub, sub), nil
	case "kafka":
		pub, sub, err := kafka.CreateChannel(watermill.NewSlogLogger(logger), consumerGroup, brokers)
		if err != nil {
			return nil, fmt.Errorf("failed to create Kafka pub/sub: %w", err)
		}

		return eventbus.NewWatermillEventBus(logger, pub, sub), nil
	default:
		return nil, fmt.Errorf("unsupported event bus provider: %s", provider)
	}
}
