package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/rs/zerolog"

	"market-chat/internal/models"
	"market-chat/internal/observability"
)

// Channel is the Postgres NOTIFY channel carrying chat events.
const Channel = "chat_events"

// notification is the NOTIFY payload. Message bodies are not sent because
// NOTIFY payloads are capped at 8000 bytes; listeners re-read the row.
type notification struct {
	Type           string     `json:"type"`
	ConversationID string     `json:"conversation_id"`
	MessageID      string     `json:"message_id,omitempty"`
	UserID         string     `json:"user_id,omitempty"`
	ReadAt         *time.Time `json:"read_at,omitempty"`
}

// PGNotifier publishes events with pg_notify so every instance listening on
// Channel receives them.
type PGNotifier struct {
	db *sqlx.DB
}

// NewPGNotifier constructs a PGNotifier.
func NewPGNotifier(db *sqlx.DB) *PGNotifier {
	return &PGNotifier{db: db}
}

// Publish sends a NOTIFY for the event.
func (n *PGNotifier) Publish(ctx context.Context, event models.ChatEvent) error {
	payload, err := json.Marshal(toNotification(event))
	if err != nil {
		return err
	}
	_, err = n.db.ExecContext(ctx, `SELECT pg_notify($1, $2)`, Channel, string(payload))
	return err
}

func toNotification(event models.ChatEvent) notification {
	n := notification{
		Type:           event.Type,
		ConversationID: event.ConversationID,
		UserID:         event.UserID,
		ReadAt:         event.ReadAt,
	}
	if event.Message != nil {
		n.MessageID = event.Message.ID
	}
	return n
}

// MessageLoader loads a message by id.
type MessageLoader interface {
	GetMessage(ctx context.Context, messageID string) (models.Message, error)
}

// PGListener turns Postgres notifications back into events on a broker.
type PGListener struct {
	dsn      string
	broker   *Broker
	messages MessageLoader
	logger   zerolog.Logger
}

// NewPGListener constructs a PGListener.
func NewPGListener(dsn string, broker *Broker, messages MessageLoader, logger zerolog.Logger) *PGListener {
	return &PGListener{dsn: dsn, broker: broker, messages: messages, logger: logger}
}

// Run listens until ctx is done.
func (l *PGListener) Run(ctx context.Context) error {
	listener := pq.NewListener(l.dsn, time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			l.logger.Warn().Err(err).Int("event", int(ev)).Msg("feed listener connection event")
		}
	})
	defer listener.Close()

	if err := listener.Listen(Channel); err != nil {
		return fmt.Errorf("listen %s: %w", Channel, err)
	}
	l.logger.Info().Str("channel", Channel).Msg("feed listener started")

	ping := time.NewTicker(90 * time.Second)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case n := <-listener.Notify:
			// nil after a reconnect; events sent meanwhile are lost and
			// clients recover them from history
			if n == nil {
				continue
			}
			l.handle(ctx, n.Extra)
		case <-ping.C:
			if err := listener.Ping(); err != nil {
				l.logger.Warn().Err(err).Msg("feed listener ping failed")
			}
		}
	}
}

func (l *PGListener) handle(ctx context.Context, payload string) {
	event, err := l.decode(ctx, payload)
	if err != nil {
		observability.IncFeedDropped("decode")
		l.logger.Warn().Err(err).Msg("dropping feed notification")
		return
	}
	l.broker.Deliver(event)
}

func (l *PGListener) decode(ctx context.Context, payload string) (models.ChatEvent, error) {
	var n notification
	if err := json.Unmarshal([]byte(payload), &n); err != nil {
		return models.ChatEvent{}, err
	}
	event := models.ChatEvent{
		Type:           n.Type,
		ConversationID: n.ConversationID,
		UserID:         n.UserID,
		ReadAt:         n.ReadAt,
	}
	if n.MessageID != "" {
		msg, err := l.messages.GetMessage(ctx, n.MessageID)
		if err != nil {
			return models.ChatEvent{}, fmt.Errorf("load message %s: %w", n.MessageID, err)
		}
		event.Message = &msg
	}
	return event, nil
}
