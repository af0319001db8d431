package repositories

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"market-chat/internal/apperr"
)

func TestGetOrCreateDirectIsIdempotentAcrossOrder(t *testing.T) {
	database := requireDB(t)
	repo := NewConversationRepo(database)
	ctx := context.Background()

	first, created, err := repo.GetOrCreateDirect(ctx, "u1", "u2")
	require.NoError(t, err)
	assert.True(t, created)

	again, created, err := repo.GetOrCreateDirect(ctx, "u2", "u1")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)

	participants, err := NewParticipantRepo(database).ListActiveParticipants(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u2"}, participants)
}

func TestGetOrCreateDirectConcurrentCreatesOnce(t *testing.T) {
	database := requireDB(t)
	repo := NewConversationRepo(database)
	ctx := context.Background()

	const callers = 16
	ids := make([]string, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			me, other := "alice", "bob"
			if i%2 == 1 {
				me, other = other, me
			}
			conv, _, err := repo.GetOrCreateDirect(ctx, me, other)
			ids[i], errs[i] = conv.ID, err
		}(i)
	}
	wg.Wait()

	for i := range ids {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i])
	}

	var count int
	require.NoError(t, database.Get(&count, `SELECT COUNT(*) FROM conversations`))
	assert.Equal(t, 1, count)
	require.NoError(t, database.Get(&count, `SELECT COUNT(*) FROM participants`))
	assert.Equal(t, 2, count)
}

func TestGetOrCreateDirectRejectsSelf(t *testing.T) {
	repo := NewConversationRepo(requireDB(t))

	_, _, err := repo.GetOrCreateDirect(context.Background(), "u1", "u1")
	assert.ErrorIs(t, err, apperr.ErrSelfConversation)
}

func TestGetOrCreateDirectReactivatesRequester(t *testing.T) {
	database := requireDB(t)
	repo := NewConversationRepo(database)
	participants := NewParticipantRepo(database)
	ctx := context.Background()

	conv, _, err := repo.GetOrCreateDirect(ctx, "u1", "u2")
	require.NoError(t, err)
	require.NoError(t, participants.Deactivate(ctx, conv.ID, "u1"))

	active, err := participants.ListActiveParticipants(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"u2"}, active)

	// the other side reaching out does not pull u1 back in
	_, _, err = repo.GetOrCreateDirect(ctx, "u2", "u1")
	require.NoError(t, err)
	active, err = participants.ListActiveParticipants(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"u2"}, active)

	_, _, err = repo.GetOrCreateDirect(ctx, "u1", "u2")
	require.NoError(t, err)
	active, err = participants.ListActiveParticipants(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u2"}, active)
}

func TestListViewsAndGetView(t *testing.T) {
	database := requireDB(t)
	repo := NewConversationRepo(database)
	messages := NewMessageRepo(database)
	ctx := context.Background()

	older, _, err := repo.GetOrCreateDirect(ctx, "u1", "u2")
	require.NoError(t, err)
	newer, _, err := repo.GetOrCreateDirect(ctx, "u1", "u3")
	require.NoError(t, err)

	_, _, err = messages.CreateMessage(ctx, newer.ID, "u3", "first", nil)
	require.NoError(t, err)
	last, _, err := messages.CreateMessage(ctx, older.ID, "u2", "latest", nil)
	require.NoError(t, err)

	views, err := repo.ListViews(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, views, 2)
	assert.Equal(t, older.ID, views[0].ConversationID)
	assert.Equal(t, "u2", views[0].OtherUserID)
	assert.Equal(t, 1, views[0].UnreadCount)
	require.NotNil(t, views[0].LastMessageID)
	assert.Equal(t, last.ID, *views[0].LastMessageID)
	assert.Equal(t, newer.ID, views[1].ConversationID)

	view, err := repo.GetView(ctx, newer.ID, "u3")
	require.NoError(t, err)
	assert.Equal(t, "u1", view.OtherUserID)
	assert.Equal(t, 0, view.UnreadCount)

	_, err = repo.GetView(ctx, newer.ID, "u2")
	assert.ErrorIs(t, err, apperr.ErrNotMember)
}
