package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/dukex/taskflow/pkg/events"
)

type WatermillEventBus struct {
	publisher  message.Publisher
	subscriber message.Subscriber
	logger     *slog.Logger

	mu            sync.RWMutex
	subscriptions map[events.EventType]EventHandler
}

func NewWatermillEventBus(pub message.Publisher, sub message.Subscriber, logger *slog.Logger) *WatermillEventBus {
	return &WatermillEventBus{
		publisher:     pub,
		subscriber:    sub,
		logger:        logger.With("module", "event_bus"),
		subscriptions: make(map[events.EventType]EventHandler),
	}
}

func (eb *WatermillEventBus) GenerateID() string {
	return watermill.NewULID()
}

func (eb *WatermillEventBus) Publish(ctx context.Context, key string, event Event) error {
	if v, ok := event.(validator); ok {
		err := v.Validate()
		if err != nil {
			return fmt.Errorf("invalid %s event: %w", event.GetType(), err)
		}
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	msg := message.NewMessage("msg-"+eb.GenerateID(), payload)
	msg.SetContext(ctx)
	msg.Metadata.Set(events.EventMetadataKey, key)
	msg.Metadata.Set(events.EventTypeMetadataKey, string(event.GetType()))

	eb.logger.DebugContext(ctx, "Publishing event", "key", key, "event_type", event.GetType())

	return eb.publisher.Publish(events.Topic, msg)
}

func (eb *WatermillEventBus) Subscribe(ctx context.Context) error {
	messages, err := eb.subscriber.Subscribe(ctx, events.Topic)
	if err != nil {
		return err
	}

	go func() {
		for msg := range messages {
			eventType := events.EventType(msg.Metadata.Get(events.EventTypeMetadataKey))

			eb.mu.RLock()
			handler, exists := eb.subscriptions[eventType]
			eb.mu.RUnlock()

			if !exists {
				msg.Ack()

				continue
			}

			event := newEvent(eventType)
			if event == nil {
				eb.logger.WarnContext(ctx, "Unknown event type", "event_type", eventType)
				msg.Nack()

				continue
			}

			err := json.Unmarshal(msg.Payload, event)
			if err != nil {
				eb.logger.ErrorContext(ctx, "Failed to decode event", "event_type", eventType, "error", err)
				msg.Nack()

				continue
			}

			err = handler(ctx, event)
			if err != nil {
				eb.logger.ErrorContext(ctx, "Event handler failed", "event_type", eventType, "error", err)
				msg.Nack()

				continue
			}

			msg.Ack()
		}
	}()

	return nil
}

func (eb *WatermillEventBus) Handle(eventType events.EventType, handler EventHandler) error {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.subscriptions[eventType] = handler

	return nil
}

func (eb *WatermillEventBus) Close() error {
	err := eb.publisher.Close()
	if err != nil {
		return err
	}

	return eb.subscriber.Close()
}

func newEvent(eventType events.EventType) any {
	switch eventType {
	case events.InstanceCreatedEvent:
		return &events.InstanceCreated{}
	case events.InstanceCompletedEvent:
		return &events.InstanceCompleted{}
	case events.InstanceStatusChangedEvent:
		return &events.InstanceStatusChanged{}
	case events.TaskCreatedEvent:
		return &events.TaskCreated{}
	case events.TaskAssignedEvent:
		return &events.TaskAssigned{}
	case events.TaskCompletedEvent:
		return &events.TaskCompleted{}
	case events.TaskOverdueEvent:
		return &events.TaskOverdue{}
	case events.NodesPendingEvent:
		return &events.NodesPending{}
	default:
		return nil
	}
}
