package eventbus

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
)

// Noop discards published transitions. It is used when no bus is configured.
type Noop struct{}

func (Noop) Publish(context.Context, Transition) error { return nil }

func (Noop) Subscribe(context.Context, Handler) error { return nil }

func (Noop) Close() error { return nil }

func (Noop) GenerateID() string { return watermill.NewULID() }
