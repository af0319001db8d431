package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"market-chat/internal/feed"
	"market-chat/internal/models"
	"market-chat/internal/observability"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxInboundSize = 4096
	sendBuffer     = 64

	wsRoutingKey = "ws_events.conversations"

	eventConnect    = "ws_connect"
	eventDisconnect = "ws_disconnect"
	eventError      = "ws_error"
)

// EventPublisher receives connection lifecycle events.
type EventPublisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
}

// Hub tracks websocket clients per conversation and relays feed events to them.
type Hub struct {
	broker    *feed.Broker
	publisher EventPublisher
	logger    zerolog.Logger

	mu    sync.RWMutex
	rooms map[string]map[*client]struct{}
}

type client struct {
	conn           *websocket.Conn
	conversationID string
	info           ConnInfo
	send           chan []byte
	done           chan struct{}
	closeOnce      sync.Once
	unsubscribe    func()
}

// NewHub creates an empty hub fed by broker.
func NewHub(broker *feed.Broker, publisher EventPublisher, logger zerolog.Logger) *Hub {
	return &Hub{
		broker:    broker,
		publisher: publisher,
		logger:    logger,
		rooms:     make(map[string]map[*client]struct{}),
	}
}

// register adds a connection to a conversation room, subscribes it to the
// feed and starts its writer.
func (h *Hub) register(conversationID string, conn *websocket.Conn, info ConnInfo) *client {
	c := &client{
		conn:           conn,
		conversationID: conversationID,
		info:           info,
		send:           make(chan []byte, sendBuffer),
		done:           make(chan struct{}),
	}

	h.mu.Lock()
	if _, ok := h.rooms[conversationID]; !ok {
		h.rooms[conversationID] = make(map[*client]struct{})
	}
	h.rooms[conversationID][c] = struct{}{}
	h.mu.Unlock()

	c.unsubscribe = h.broker.Subscribe(conversationID, func(ev models.ChatEvent) {
		h.enqueue(c, ev)
	})
	observability.IncWSActive()
	go h.writePump(c)
	return c
}

// unregister is safe to call more than once.
func (h *Hub) unregister(c *client) {
	c.closeOnce.Do(func() {
		c.unsubscribe()
		close(c.done)

		h.mu.Lock()
		if room, ok := h.rooms[c.conversationID]; ok {
			delete(room, c)
			if len(room) == 0 {
				delete(h.rooms, c.conversationID)
			}
		}
		h.mu.Unlock()

		observability.DecWSActive()
		c.conn.Close()
	})
}

// Clients returns the number of connections watching a conversation.
func (h *Hub) Clients(conversationID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[conversationID])
}

// enqueue runs on the publisher's goroutine and never blocks. A client whose
// buffer is full is disconnected and recovers from history on reconnect.
func (h *Hub) enqueue(c *client, ev models.ChatEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error().Err(err).Str("event", ev.Type).Msg("encode ws event")
		return
	}
	select {
	case <-c.done:
	case c.send <- payload:
	default:
		observability.IncFeedDropped("slow_consumer")
		h.logger.Warn().
			Str("conn_id", c.info.ConnID).
			Str("conversation_id", c.conversationID).
			Msg("dropping slow websocket client")
		c.conn.Close()
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case payload := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				h.publishEvent(c, eventError, err.Error())
				c.conn.Close()
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.conn.Close()
				return
			}
		}
	}
}

func (h *Hub) publishEvent(c *client, event, reason string) {
	observability.IncWSEvent(event)
	if h.publisher == nil {
		return
	}

	// the upgrade request is gone by now; carry its request id on a fresh context
	ctx := observability.WithRequestID(context.Background(), c.info.RequestID)
	envelope := observability.NewEnvelope("ws_events", event, c.info.lifecycle(c.conversationID, event, reason, time.Now()))
	if err := h.publisher.Publish(ctx, wsRoutingKey, envelope); err != nil {
		h.logger.Debug().Err(err).Str("event", event).Msg("ws event publish failed")
	}
}
