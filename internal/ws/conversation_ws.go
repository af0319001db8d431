package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"

	"market-chat/internal/apperr"
	"market-chat/internal/middleware"
	"market-chat/internal/observability"
)

// MembershipChecker gates subscriptions to conversation members.
type MembershipChecker interface {
	VerifyMembership(ctx context.Context, conversationID, userID string) error
}

// ConversationWebSocketHandler streams a conversation's feed to a member.
type ConversationWebSocketHandler struct {
	hub     *Hub
	members MembershipChecker
	logger  zerolog.Logger
}

// NewConversationWebSocketHandler constructs a ConversationWebSocketHandler.
func NewConversationWebSocketHandler(hub *Hub, members MembershipChecker, logger zerolog.Logger) *ConversationWebSocketHandler {
	return &ConversationWebSocketHandler{hub: hub, members: members, logger: logger}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handle upgrades the connection once the caller is known to be a member.
// Runs behind middleware.WebSocketAuthMiddleware.
func (h *ConversationWebSocketHandler) Handle(c *gin.Context) {
	conversationID := c.Param("conversation_id")
	userID := c.GetString(middleware.UserIDKey)

	ctx, span := otel.Tracer("market-chat/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()

	if err := h.members.VerifyMembership(ctx, conversationID, userID); err != nil {
		switch apperr.CodeOf(err) {
		case apperr.CodeForbidden, apperr.CodeNotFound:
			c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found", "code": apperr.CodeNotFound})
		case apperr.CodeUnauthorized:
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error(), "code": apperr.CodeUnauthorized})
		default:
			h.logger.Error().Err(err).Str("conversation_id", conversationID).Msg("ws membership check failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error", "code": apperr.CodeInternal})
		}
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	client := observability.ClientInfoFromRequest(c.Request)
	if id := c.GetString(middleware.RequestIDKey); id != "" {
		client.RequestID = id
	}
	info := ConnInfo{
		ConnID:      newConnID(),
		UserID:      userID,
		DeviceID:    client.DeviceID,
		IP:          client.IP,
		RequestID:   client.RequestID,
		ConnectedAt: time.Now(),
	}
	if sc := span.SpanContext(); sc.HasTraceID() {
		info.TraceID = sc.TraceID().String()
	}
	cl := h.hub.register(conversationID, conn, info)
	h.hub.publishEvent(cl, eventConnect, "")

	go h.readLoop(cl)
}

// readLoop drains inbound frames; the feed is server-to-client only.
func (h *ConversationWebSocketHandler) readLoop(cl *client) {
	var closeReason string
	defer func() {
		h.hub.unregister(cl)
		h.hub.publishEvent(cl, eventDisconnect, closeReason)
	}()

	cl.conn.SetReadLimit(maxInboundSize)
	_ = cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	cl.conn.SetPongHandler(func(string) error {
		return cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := cl.conn.ReadMessage(); err != nil {
			closeReason = err.Error()
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.hub.publishEvent(cl, eventError, closeReason)
			}
			return
		}
	}
}
