package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"market-chat/internal/feed"
	"market-chat/internal/telemetry"
)

// ClientCounter reports live websocket connections per conversation.
type ClientCounter interface {
	Clients(conversationID string) int
}

// RegisterDebugRoutes wires debug-only endpoints.
func RegisterDebugRoutes(router gin.IRoutes, emitter *telemetry.AuditEmitter, broker *feed.Broker, clients ClientCounter, enabled bool) {
	if !enabled {
		return
	}

	router.GET("/debug/audit-test", func(c *gin.Context) {
		if emitter == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit emitter not configured"})
			return
		}
		emitter.Emit(c.Request.Context(), telemetry.AuditRecord{
			Level:     "INFO",
			Action:    "audit_test",
			Text:      "audit test",
			RequestID: requestIDFromContext(c),
			UserID:    userIDFromContext(c),
		})
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/debug/feed/:conversation_id", func(c *gin.Context) {
		if broker == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "feed broker not configured"})
			return
		}
		id := c.Param("conversation_id")
		resp := gin.H{
			"conversation_id": id,
			"subscribers":     broker.Subscribers(id),
		}
		if clients != nil {
			resp["ws_clients"] = clients.Clients(id)
		}
		c.JSON(http.StatusOK, resp)
	})
}
