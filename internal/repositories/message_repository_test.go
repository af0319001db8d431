package repositories

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"market-chat/internal/apperr"
	"market-chat/internal/models"
)

func seedConversation(t *testing.T, a, b string) string {
	t.Helper()
	conv, _, err := NewConversationRepo(testDB).GetOrCreateDirect(context.Background(), a, b)
	require.NoError(t, err)
	return conv.ID
}

func TestListMessagesKeysetPagination(t *testing.T) {
	database := requireDB(t)
	repo := NewMessageRepo(database)
	ctx := context.Background()
	convID := seedConversation(t, "u1", "u2")

	var sent []models.Message
	for i := 0; i < 5; i++ {
		msg, created, err := repo.CreateMessage(ctx, convID, "u1", fmt.Sprintf("m%d", i), nil)
		require.NoError(t, err)
		require.True(t, created)
		sent = append(sent, msg)
	}

	first, err := repo.ListMessages(ctx, convID, models.PageRequest{Limit: 2})
	require.NoError(t, err)
	require.Len(t, first.Messages, 2)
	assert.Equal(t, sent[0].ID, first.Messages[0].ID)
	require.NotEmpty(t, first.NextCursor)

	// an insert between pages must not shift the next page
	_, _, err = repo.CreateMessage(ctx, convID, "u2", "late", nil)
	require.NoError(t, err)

	second, err := repo.ListMessages(ctx, convID, models.PageRequest{Limit: 2, Cursor: first.NextCursor})
	require.NoError(t, err)
	require.Len(t, second.Messages, 2)
	assert.Equal(t, sent[2].ID, second.Messages[0].ID)
	assert.Equal(t, sent[3].ID, second.Messages[1].ID)

	newest, err := repo.ListMessages(ctx, convID, models.PageRequest{Limit: 3, Desc: true})
	require.NoError(t, err)
	require.Len(t, newest.Messages, 3)
	assert.Equal(t, "late", newest.Messages[0].Content)
	assert.Equal(t, sent[4].ID, newest.Messages[1].ID)

	older, err := repo.ListMessages(ctx, convID, models.PageRequest{Limit: 10, Desc: true, Cursor: newest.NextCursor})
	require.NoError(t, err)
	require.Len(t, older.Messages, 3)
	assert.Equal(t, sent[0].ID, older.Messages[2].ID)
	assert.Empty(t, older.NextCursor)
}

func TestListMessagesRejectsBadCursor(t *testing.T) {
	repo := NewMessageRepo(requireDB(t))
	convID := seedConversation(t, "u1", "u2")

	_, err := repo.ListMessages(context.Background(), convID, models.PageRequest{Cursor: "not-a-cursor"})
	assert.ErrorIs(t, err, apperr.ErrInvalidCursor)
}

func TestCreateMessageReplaysClientMessageID(t *testing.T) {
	database := requireDB(t)
	repo := NewMessageRepo(database)
	ctx := context.Background()
	convID := seedConversation(t, "u1", "u2")
	key := "tmp-1"

	original, created, err := repo.CreateMessage(ctx, convID, "u1", "hello", &key)
	require.NoError(t, err)
	assert.True(t, created)

	replay, created, err := repo.CreateMessage(ctx, convID, "u1", "hello", &key)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, original.ID, replay.ID)

	var count int
	require.NoError(t, database.Get(&count, `SELECT COUNT(*) FROM messages`))
	assert.Equal(t, 1, count)
}

func TestEmptyContentRejectedByStore(t *testing.T) {
	repo := NewMessageRepo(requireDB(t))
	convID := seedConversation(t, "u1", "u2")

	_, _, err := repo.CreateMessage(context.Background(), convID, "u1", "   ", nil)
	assert.Error(t, err)
}

func TestUnreadCountFollowsMarkRead(t *testing.T) {
	database := requireDB(t)
	messages := NewMessageRepo(database)
	participants := NewParticipantRepo(database)
	ctx := context.Background()
	convID := seedConversation(t, "u1", "u2")

	_, _, err := messages.CreateMessage(ctx, convID, "u1", "hello", nil)
	require.NoError(t, err)
	_, _, err = messages.CreateMessage(ctx, convID, "u2", "hi", nil)
	require.NoError(t, err)

	count, err := messages.UnreadCount(ctx, convID, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	marker, err := participants.MarkRead(ctx, convID, "u1", nil)
	require.NoError(t, err)
	assert.False(t, marker.IsZero())

	count, err = messages.UnreadCount(ctx, convID, "u1")
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	for i := 0; i < 3; i++ {
		_, _, err = messages.CreateMessage(ctx, convID, "u2", "again", nil)
		require.NoError(t, err)
		_, _, err = messages.CreateMessage(ctx, convID, "u1", "own", nil)
		require.NoError(t, err)
		count, err = messages.UnreadCount(ctx, convID, "u1")
		require.NoError(t, err)
		assert.Equal(t, i+1, count)
	}

	total, err := messages.TotalUnread(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 3, total)
}

func TestMarkReadIsMonotonicAndClamped(t *testing.T) {
	database := requireDB(t)
	participants := NewParticipantRepo(database)
	ctx := context.Background()
	convID := seedConversation(t, "u1", "u2")

	now, err := participants.MarkRead(ctx, convID, "u1", nil)
	require.NoError(t, err)

	past := now.Add(-time.Hour)
	after, err := participants.MarkRead(ctx, convID, "u1", &past)
	require.NoError(t, err)
	assert.True(t, after.Equal(now))

	future := time.Now().Add(24 * time.Hour)
	clamped, err := participants.MarkRead(ctx, convID, "u1", &future)
	require.NoError(t, err)
	assert.True(t, clamped.Before(future))

	_, err = participants.MarkRead(ctx, convID, "stranger", nil)
	assert.ErrorIs(t, err, apperr.ErrNotMember)
}
