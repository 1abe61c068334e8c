// Package eventbus provides event-driven communication for instance and task notifications.
package eventbus

import (
	"context"

	"github.com/dukex/taskflow/pkg/events"
)

// Event is any payload from pkg/events.
type Event interface {
	GetType() events.EventType
}

// EventPublisher publishes events. key orders delivery; callers pass the instance id
// so every event of one instance lands on the same partition.
type EventPublisher interface {
	Publish(ctx context.Context, key string, event Event) error
}

// EventSubscriber dispatches received events to the handler registered for their type.
// Events with no registered handler are acknowledged and dropped.
type EventSubscriber interface {
	Handle(eventType events.EventType, handler EventHandler) error
	Subscribe(ctx context.Context) error
}

type EventHandler func(ctx context.Context, event any) error

type EventBus interface {
	EventPublisher
	EventSubscriber
	Close() error
	GenerateID() string
}

type validator interface {
	Validate() error
}
