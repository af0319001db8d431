package chat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"market-chat/internal/models"
)

func strPtr(s string) *string { return &s }

func TestBuildSummaryWithLastMessage(t *testing.T) {
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	sent := created.Add(time.Hour)
	view := models.ParticipantView{
		ConversationID:    "c1",
		CreatedAt:         created,
		OtherUserID:       "u2",
		OtherActive:       true,
		UnreadCount:       2,
		LastMessageID:     strPtr("m9"),
		LastMessageSender: strPtr("u2"),
		LastMessageText:   strPtr("still available?"),
		LastMessageAt:     &sent,
	}
	profiles := map[string]models.Profile{"u2": {ID: "u2", DisplayName: strPtr("Bob")}}

	s := buildSummary(view, profiles)

	require.NotNil(t, s.OtherUser)
	assert.Equal(t, "Bob", *s.OtherUser.DisplayName)
	require.NotNil(t, s.LastMessage)
	assert.Equal(t, "m9", s.LastMessage.ID)
	assert.Equal(t, "u2", s.LastMessage.SenderID)
	assert.Equal(t, "still available?", s.LastMessage.Content)
	assert.Equal(t, 2, s.UnreadCount)
	assert.True(t, s.LastActivity().Equal(sent))
}

func TestBuildSummaryEmptyConversation(t *testing.T) {
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	view := models.ParticipantView{ConversationID: "c1", CreatedAt: created, OtherUserID: "u2", OtherActive: true}

	s := buildSummary(view, nil)

	require.NotNil(t, s.OtherUser)
	assert.Equal(t, "u2", s.OtherUser.ID)
	assert.Nil(t, s.LastMessage)
	assert.Zero(t, s.UnreadCount)
	assert.True(t, s.LastActivity().Equal(created))
}

func TestBuildSummaryHidesDepartedUser(t *testing.T) {
	view := models.ParticipantView{ConversationID: "c1", OtherUserID: "u2", OtherActive: false}

	s := buildSummary(view, map[string]models.Profile{"u2": {ID: "u2"}})

	assert.Nil(t, s.OtherUser)
}
