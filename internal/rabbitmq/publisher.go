package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"market-chat/internal/observability"
)

// Publisher publishes JSON events to a topic exchange.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
	Close() error
}

// NewPublisher builds a RabbitMQ publisher or a noop publisher when AMQP is
// disabled or unreachable. Chat traffic never depends on the broker.
func NewPublisher(amqpURL, exchange string, logger zerolog.Logger) Publisher {
	if amqpURL == "" {
		logger.Info().Msg("rabbitmq disabled, using noop: empty amqp url")
		return noopPublisher{reason: "empty amqp url", logger: logger}
	}
	conn, ch, err := open(amqpURL, exchange)
	if err != nil {
		logger.Warn().Err(err).Msg("rabbitmq unavailable, using noop")
		return noopPublisher{reason: err.Error(), logger: logger}
	}

	logger.Info().Str("exchange", exchange).Msg("rabbitmq connected")
	return &amqpPublisher{conn: conn, ch: ch, exchange: exchange, logger: logger}
}

// open dials the broker and declares the durable topic exchange both the
// publisher and the profile consumer work against.
func open(amqpURL, exchange string) (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return conn, ch, nil
}

var errConnectionClosed = errors.New("rabbitmq connection closed")

type amqpPublisher struct {
	conn     *amqp.Connection
	exchange string
	logger   zerolog.Logger

	mu sync.Mutex
	ch *amqp.Channel
}

func (p *amqpPublisher) Publish(ctx context.Context, routingKey string, event any) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode %s: %w", routingKey, err)
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Headers:      headersFromContext(ctx),
		Body:         body,
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn.IsClosed() {
		err = errConnectionClosed
	} else {
		err = p.ch.PublishWithContext(ctx, p.exchange, routingKey, false, false, msg)
	}
	if err != nil {
		observability.IncAMQPPublishError()
		p.logger.Warn().Err(err).Str("routing_key", routingKey).Msg("rabbitmq publish failed")
	}
	return err
}

func (p *amqpPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_ = p.ch.Close()
	return p.conn.Close()
}

// headersFromContext carries the request id and active trace id to consumers.
func headersFromContext(ctx context.Context) amqp.Table {
	table := amqp.Table{}
	for k, v := range observability.PropagationHeaders(ctx) {
		table[k] = v
	}
	return table
}

type noopPublisher struct {
	reason string
	logger zerolog.Logger
}

func (p noopPublisher) Publish(_ context.Context, routingKey string, _ any) error {
	p.logger.Debug().Str("routing_key", routingKey).Msg("rabbitmq noop publish")
	return nil
}

func (noopPublisher) Close() error {
	return nil
}

// PublisherMode reports the publisher mode for logging.
func PublisherMode(p Publisher) string {
	switch p.(type) {
	case *amqpPublisher:
		return "amqp"
	case noopPublisher:
		return "noop"
	default:
		return "unknown"
	}
}

// PublisherNoopReason reports why AMQP is disabled, if it is.
func PublisherNoopReason(p Publisher) string {
	if publisher, ok := p.(noopPublisher); ok {
		return publisher.reason
	}
	return ""
}
