package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"market-chat/internal/models"
	"market-chat/internal/repositories"
)

type ConversationRepositoryMock struct {
	mock.Mock
}

func (m *ConversationRepositoryMock) GetOrCreateDirect(ctx context.Context, userID, otherID string) (models.Conversation, bool, error) {
	args := m.Called(ctx, userID, otherID)
	var conv models.Conversation
	if val := args.Get(0); val != nil {
		conv = val.(models.Conversation)
	}
	return conv, args.Bool(1), args.Error(2)
}

func (m *ConversationRepositoryMock) ListViews(ctx context.Context, userID string) ([]models.ParticipantView, error) {
	args := m.Called(ctx, userID)
	var views []models.ParticipantView
	if val := args.Get(0); val != nil {
		views = val.([]models.ParticipantView)
	}
	return views, args.Error(1)
}

func (m *ConversationRepositoryMock) GetView(ctx context.Context, conversationID, userID string) (models.ParticipantView, error) {
	args := m.Called(ctx, conversationID, userID)
	var view models.ParticipantView
	if val := args.Get(0); val != nil {
		view = val.(models.ParticipantView)
	}
	return view, args.Error(1)
}

type ParticipantRepositoryMock struct {
	mock.Mock
}

func (m *ParticipantRepositoryMock) GetParticipant(ctx context.Context, conversationID, userID string) (models.Participant, error) {
	args := m.Called(ctx, conversationID, userID)
	var p models.Participant
	if val := args.Get(0); val != nil {
		p = val.(models.Participant)
	}
	return p, args.Error(1)
}

func (m *ParticipantRepositoryMock) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	args := m.Called(ctx, conversationID, userID)
	return args.Bool(0), args.Error(1)
}

func (m *ParticipantRepositoryMock) ListActiveParticipants(ctx context.Context, conversationID string) ([]string, error) {
	args := m.Called(ctx, conversationID)
	var ids []string
	if val := args.Get(0); val != nil {
		ids = val.([]string)
	}
	return ids, args.Error(1)
}

func (m *ParticipantRepositoryMock) MarkRead(ctx context.Context, conversationID, userID string, at *time.Time) (time.Time, error) {
	args := m.Called(ctx, conversationID, userID, at)
	var marker time.Time
	if val := args.Get(0); val != nil {
		marker = val.(time.Time)
	}
	return marker, args.Error(1)
}

func (m *ParticipantRepositoryMock) Deactivate(ctx context.Context, conversationID, userID string) error {
	args := m.Called(ctx, conversationID, userID)
	return args.Error(0)
}

type MessageRepositoryMock struct {
	mock.Mock
}

func (m *MessageRepositoryMock) CreateMessage(ctx context.Context, conversationID, senderID, content string, clientMessageID *string) (models.Message, bool, error) {
	args := m.Called(ctx, conversationID, senderID, content, clientMessageID)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Bool(1), args.Error(2)
}

func (m *MessageRepositoryMock) GetMessage(ctx context.Context, messageID string) (models.Message, error) {
	args := m.Called(ctx, messageID)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageRepositoryMock) ListMessages(ctx context.Context, conversationID string, page models.PageRequest) (models.MessagePage, error) {
	args := m.Called(ctx, conversationID, page)
	var out models.MessagePage
	if val := args.Get(0); val != nil {
		out = val.(models.MessagePage)
	}
	return out, args.Error(1)
}

func (m *MessageRepositoryMock) UnreadCount(ctx context.Context, conversationID, userID string) (int, error) {
	args := m.Called(ctx, conversationID, userID)
	return args.Int(0), args.Error(1)
}

func (m *MessageRepositoryMock) TotalUnread(ctx context.Context, userID string) (int, error) {
	args := m.Called(ctx, userID)
	return args.Int(0), args.Error(1)
}

type ProfileLookupMock struct {
	mock.Mock
}

func (m *ProfileLookupMock) GetProfile(ctx context.Context, userID string) (models.Profile, error) {
	args := m.Called(ctx, userID)
	var p models.Profile
	if val := args.Get(0); val != nil {
		p = val.(models.Profile)
	}
	return p, args.Error(1)
}

func (m *ProfileLookupMock) GetProfiles(ctx context.Context, userIDs []string) ([]models.Profile, error) {
	args := m.Called(ctx, userIDs)
	var out []models.Profile
	if val := args.Get(0); val != nil {
		out = val.([]models.Profile)
	}
	return out, args.Error(1)
}

var (
	_ repositories.ConversationRepository = (*ConversationRepositoryMock)(nil)
	_ repositories.ParticipantRepository  = (*ParticipantRepositoryMock)(nil)
	_ repositories.MessageRepository      = (*MessageRepositoryMock)(nil)
	_ repositories.ProfileLookup          = (*ProfileLookupMock)(nil)
)
