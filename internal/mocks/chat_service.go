package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"market-chat/internal/models"
)

type ChatServiceMock struct {
	mock.Mock
}

func (m *ChatServiceMock) GetOrCreateDirectConversation(ctx context.Context, me, other string) (string, error) {
	args := m.Called(ctx, me, other)
	return args.String(0), args.Error(1)
}

func (m *ChatServiceMock) ListConversations(ctx context.Context, me string) ([]models.ConversationSummary, error) {
	args := m.Called(ctx, me)
	var out []models.ConversationSummary
	if val := args.Get(0); val != nil {
		out = val.([]models.ConversationSummary)
	}
	return out, args.Error(1)
}

func (m *ChatServiceMock) Conversation(ctx context.Context, me, conversationID string) (models.ConversationSummary, error) {
	args := m.Called(ctx, me, conversationID)
	var out models.ConversationSummary
	if val := args.Get(0); val != nil {
		out = val.(models.ConversationSummary)
	}
	return out, args.Error(1)
}

func (m *ChatServiceMock) Participants(ctx context.Context, me, conversationID string) ([]string, error) {
	args := m.Called(ctx, me, conversationID)
	var out []string
	if val := args.Get(0); val != nil {
		out = val.([]string)
	}
	return out, args.Error(1)
}

func (m *ChatServiceMock) ListMessages(ctx context.Context, me, conversationID string, page models.PageRequest) (models.MessagePage, error) {
	args := m.Called(ctx, me, conversationID, page)
	var out models.MessagePage
	if val := args.Get(0); val != nil {
		out = val.(models.MessagePage)
	}
	return out, args.Error(1)
}

func (m *ChatServiceMock) Send(ctx context.Context, me, conversationID, content, clientMessageID string) (models.Message, bool, error) {
	args := m.Called(ctx, me, conversationID, content, clientMessageID)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Bool(1), args.Error(2)
}

func (m *ChatServiceMock) MarkRead(ctx context.Context, me, conversationID string, at time.Time) (time.Time, error) {
	args := m.Called(ctx, me, conversationID, at)
	var marker time.Time
	if val := args.Get(0); val != nil {
		marker = val.(time.Time)
	}
	return marker, args.Error(1)
}

func (m *ChatServiceMock) UnreadCount(ctx context.Context, me, conversationID string) (int, error) {
	args := m.Called(ctx, me, conversationID)
	return args.Int(0), args.Error(1)
}

func (m *ChatServiceMock) TotalUnread(ctx context.Context, me string) (int, error) {
	args := m.Called(ctx, me)
	return args.Int(0), args.Error(1)
}

func (m *ChatServiceMock) Leave(ctx context.Context, me, conversationID string) error {
	args := m.Called(ctx, me, conversationID)
	return args.Error(0)
}

// VerifyMembership satisfies the websocket handler's gate.
func (m *ChatServiceMock) VerifyMembership(ctx context.Context, conversationID, userID string) error {
	args := m.Called(ctx, conversationID, userID)
	return args.Error(0)
}
