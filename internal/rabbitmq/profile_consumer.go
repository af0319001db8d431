package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"market-chat/internal/models"
)

// ProfileRoutingKey matches profile lifecycle events from the user service.
const ProfileRoutingKey = "user.profile.*"

// ProfileStore persists the profile projection.
type ProfileStore interface {
	UpsertProfile(ctx context.Context, p models.Profile) error
}

// ProfileInvalidator drops cached copies of a profile.
type ProfileInvalidator interface {
	Invalidate(ctx context.Context, userID string) error
}

type profileEvent struct {
	UserID      string  `json:"user_id"`
	DisplayName *string `json:"display_name"`
	AvatarURL   *string `json:"avatar_url"`
}

var errMalformedEvent = errors.New("malformed profile event")

// ProfileConsumer keeps the local profiles table in step with the user service.
type ProfileConsumer struct {
	amqpURL     string
	exchange    string
	queue       string
	store       ProfileStore
	invalidator ProfileInvalidator
	logger      zerolog.Logger

	connect  func(url, exchange string) (*amqp.Connection, *amqp.Channel, error)
	retryMin time.Duration
	retryMax time.Duration
}

func NewProfileConsumer(amqpURL, exchange, queue string, store ProfileStore, invalidator ProfileInvalidator, logger zerolog.Logger) *ProfileConsumer {
	return &ProfileConsumer{
		amqpURL:     amqpURL,
		exchange:    exchange,
		queue:       queue,
		store:       store,
		invalidator: invalidator,
		logger:      logger,
		connect:     open,
		retryMin:    time.Second,
		retryMax:    30 * time.Second,
	}
}

// Run consumes until ctx is done. A failed dial or a closed channel is
// retried with exponential backoff, reset after a session that got as far as
// consuming.
func (c *ProfileConsumer) Run(ctx context.Context) error {
	delay := c.retryMin
	for {
		started, err := c.consume(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if started {
			delay = c.retryMin
		}
		c.logger.Warn().Err(err).Dur("retry_in", delay).Msg("profile consumer interrupted")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
		delay = min(delay*2, c.retryMax)
	}
}

// consume runs one broker session. started reports whether deliveries were
// flowing before it ended.
func (c *ProfileConsumer) consume(ctx context.Context) (started bool, err error) {
	conn, ch, err := c.connect(c.amqpURL, c.exchange)
	if err != nil {
		return false, err
	}
	defer conn.Close()
	defer ch.Close()

	if _, err := ch.QueueDeclare(c.queue, true, false, false, false, nil); err != nil {
		return false, fmt.Errorf("declare queue: %w", err)
	}
	if err := ch.QueueBind(c.queue, ProfileRoutingKey, c.exchange, false, nil); err != nil {
		return false, fmt.Errorf("bind queue: %w", err)
	}
	if err := ch.Qos(32, 0, false); err != nil {
		return false, fmt.Errorf("set qos: %w", err)
	}

	deliveries, err := ch.ConsumeWithContext(ctx, c.queue, "", false, false, false, false, nil)
	if err != nil {
		return false, fmt.Errorf("consume: %w", err)
	}
	c.logger.Info().Str("queue", c.queue).Str("exchange", c.exchange).Msg("profile consumer started")

	for {
		select {
		case <-ctx.Done():
			return true, nil
		case d, ok := <-deliveries:
			if !ok {
				return true, errors.New("profile deliveries closed")
			}
			c.handle(ctx, d)
		}
	}
}

func (c *ProfileConsumer) handle(ctx context.Context, d amqp.Delivery) {
	err := c.apply(ctx, d.Body)
	switch {
	case err == nil:
		_ = d.Ack(false)
	case errors.Is(err, errMalformedEvent):
		c.logger.Warn().Err(err).Str("routing_key", d.RoutingKey).Msg("discarding profile event")
		_ = d.Nack(false, false)
	default:
		c.logger.Error().Err(err).Str("routing_key", d.RoutingKey).Msg("profile event failed, requeueing")
		_ = d.Nack(false, true)
	}
}

func (c *ProfileConsumer) apply(ctx context.Context, body []byte) error {
	var ev profileEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("%w: %v", errMalformedEvent, err)
	}
	if ev.UserID == "" {
		return fmt.Errorf("%w: missing user_id", errMalformedEvent)
	}

	if err := c.store.UpsertProfile(ctx, models.Profile{ID: ev.UserID, DisplayName: ev.DisplayName, AvatarURL: ev.AvatarURL}); err != nil {
		return fmt.Errorf("upsert profile: %w", err)
	}
	if c.invalidator != nil {
		if err := c.invalidator.Invalidate(ctx, ev.UserID); err != nil {
			// the entry expires on its own
			c.logger.Warn().Err(err).Str("user_id", ev.UserID).Msg("profile cache invalidation failed")
		}
	}
	return nil
}
