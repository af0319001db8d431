package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"market-chat/internal/models"
)

// ChatService is the conversation core used by the REST and websocket handlers.
type ChatService interface {
	GetOrCreateDirectConversation(ctx context.Context, me, other string) (string, error)
	ListConversations(ctx context.Context, me string) ([]models.ConversationSummary, error)
	Conversation(ctx context.Context, me, conversationID string) (models.ConversationSummary, error)
	Participants(ctx context.Context, me, conversationID string) ([]string, error)
	ListMessages(ctx context.Context, me, conversationID string, page models.PageRequest) (models.MessagePage, error)
	Send(ctx context.Context, me, conversationID, content, clientMessageID string) (models.Message, bool, error)
	MarkRead(ctx context.Context, me, conversationID string, at time.Time) (time.Time, error)
	UnreadCount(ctx context.Context, me, conversationID string) (int, error)
	TotalUnread(ctx context.Context, me string) (int, error)
	Leave(ctx context.Context, me, conversationID string) error
}

// ConversationHandler serves the direct conversation endpoints.
type ConversationHandler struct {
	chat   ChatService
	logger zerolog.Logger
}

// NewConversationHandler builds a ConversationHandler.
func NewConversationHandler(chat ChatService, logger zerolog.Logger) *ConversationHandler {
	return &ConversationHandler{chat: chat, logger: logger}
}

// Register mounts the routes on an authenticated group.
func (h *ConversationHandler) Register(r gin.IRoutes) {
	r.POST("/conversations", h.StartConversation)
	r.GET("/conversations", h.ListConversations)
	r.GET("/conversations/unread", h.TotalUnread)
	r.GET("/conversations/:conversation_id", h.GetConversation)
	r.GET("/conversations/:conversation_id/participants", h.ListParticipants)
	r.GET("/conversations/:conversation_id/messages", h.ListMessages)
	r.POST("/conversations/:conversation_id/messages", h.PostMessage)
	r.POST("/conversations/:conversation_id/read", h.MarkRead)
	r.GET("/conversations/:conversation_id/unread", h.UnreadCount)
	r.DELETE("/conversations/:conversation_id/me", h.Leave)
}

// StartConversation creates or returns the direct conversation with another user.
func (h *ConversationHandler) StartConversation(c *gin.Context) {
	var req struct {
		UserID string `json:"user_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	id, err := h.chat.GetOrCreateDirectConversation(c.Request.Context(), userIDFromContext(c), req.UserID)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversation_id": id})
}

// ListConversations returns the caller's conversation summaries.
func (h *ConversationHandler) ListConversations(c *gin.Context) {
	summaries, err := h.chat.ListConversations(c.Request.Context(), userIDFromContext(c))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversations": summaries})
}

func (h *ConversationHandler) GetConversation(c *gin.Context) {
	summary, err := h.chat.Conversation(c.Request.Context(), userIDFromContext(c), c.Param("conversation_id"))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *ConversationHandler) ListParticipants(c *gin.Context) {
	ids, err := h.chat.Participants(c.Request.Context(), userIDFromContext(c), c.Param("conversation_id"))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"participants": ids})
}

// ListMessages returns one page of history. order=desc pages newest first.
func (h *ConversationHandler) ListMessages(c *gin.Context) {
	page := models.PageRequest{Cursor: c.Query("cursor")}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			badRequest(c, "invalid limit")
			return
		}
		page.Limit = limit
	}
	switch c.DefaultQuery("order", "asc") {
	case "asc":
	case "desc":
		page.Desc = true
	default:
		badRequest(c, "order must be asc or desc")
		return
	}

	result, err := h.chat.ListMessages(c.Request.Context(), userIDFromContext(c), c.Param("conversation_id"), page)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	if result.Messages == nil {
		result.Messages = []models.Message{}
	}
	c.JSON(http.StatusOK, result)
}

// PostMessage stores a message. A replayed client_message_id answers 200 with
// the original message instead of 201.
func (h *ConversationHandler) PostMessage(c *gin.Context) {
	var req struct {
		Content         string `json:"content"`
		ClientMessageID string `json:"client_message_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	msg, created, err := h.chat.Send(c.Request.Context(), userIDFromContext(c), c.Param("conversation_id"), req.Content, req.ClientMessageID)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	status := http.StatusCreated
	if !created {
		status = http.StatusOK
	}
	c.JSON(status, msg)
}

// MarkRead advances the caller's read marker. The body is optional.
func (h *ConversationHandler) MarkRead(c *gin.Context) {
	var req struct {
		ReadAt *time.Time `json:"read_at"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
	}
	var at time.Time
	if req.ReadAt != nil {
		at = *req.ReadAt
	}

	marker, err := h.chat.MarkRead(c.Request.Context(), userIDFromContext(c), c.Param("conversation_id"), at)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"last_read_at": marker})
}

func (h *ConversationHandler) UnreadCount(c *gin.Context) {
	n, err := h.chat.UnreadCount(c.Request.Context(), userIDFromContext(c), c.Param("conversation_id"))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"unread": n})
}

// TotalUnread is the badge count across all active conversations.
func (h *ConversationHandler) TotalUnread(c *gin.Context) {
	n, err := h.chat.TotalUnread(c.Request.Context(), userIDFromContext(c))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"unread": n})
}

// Leave removes the conversation from the caller's list.
func (h *ConversationHandler) Leave(c *gin.Context) {
	if err := h.chat.Leave(c.Request.Context(), userIDFromContext(c), c.Param("conversation_id")); err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}
