// Package feed carries conversation change events from the message store to
// subscribers. Delivery is at-least-once and unordered; consumers dedupe on
// message id and sort by (created_at, id).
package feed

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"market-chat/internal/models"
)

// Publisher publishes change events.
type Publisher interface {
	Publish(ctx context.Context, event models.ChatEvent) error
}

// Local publishes directly into an in-process broker.
type Local struct {
	broker *Broker
}

// NewLocal constructs a Local publisher.
func NewLocal(broker *Broker) *Local {
	return &Local{broker: broker}
}

// Publish delivers the event to the broker's subscribers.
func (l *Local) Publish(_ context.Context, event models.ChatEvent) error {
	l.broker.Deliver(event)
	return nil
}

// Fanout publishes to a primary publisher and best-effort secondaries. Only the
// primary's error is returned.
type Fanout struct {
	primary     Publisher
	secondaries []Publisher
	logger      zerolog.Logger
}

// NewFanout constructs a Fanout.
func NewFanout(logger zerolog.Logger, primary Publisher, secondaries ...Publisher) *Fanout {
	return &Fanout{primary: primary, secondaries: secondaries, logger: logger}
}

// Publish sends the event to every publisher.
func (f *Fanout) Publish(ctx context.Context, event models.ChatEvent) error {
	if f.primary == nil {
		return errors.New("feed: no primary publisher")
	}
	err := f.primary.Publish(ctx, event)
	for _, p := range f.secondaries {
		if serr := p.Publish(ctx, event); serr != nil {
			f.logger.Warn().Err(serr).
				Str("event", event.Type).
				Str("conversation_id", event.ConversationID).
				Msg("secondary publish failed")
		}
	}
	return err
}
