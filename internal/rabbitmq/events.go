package rabbitmq

import (
	"context"

	"market-chat/internal/models"
)

// EventPublisher forwards change-feed events to the exchange for downstream
// consumers such as push notifications. Routing keys are "chat.<event type>".
type EventPublisher struct {
	publisher Publisher
}

// NewEventPublisher wraps p.
func NewEventPublisher(p Publisher) *EventPublisher {
	return &EventPublisher{publisher: p}
}

// Publish sends the event.
func (e *EventPublisher) Publish(ctx context.Context, event models.ChatEvent) error {
	return e.publisher.Publish(ctx, "chat."+event.Type, event)
}
