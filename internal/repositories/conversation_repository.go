package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"market-chat/internal/apperr"
	"market-chat/internal/models"
)

// ConversationRepository abstracts the conversation directory.
type ConversationRepository interface {
	GetOrCreateDirect(ctx context.Context, userID, otherID string) (models.Conversation, bool, error)
	ListViews(ctx context.Context, userID string) ([]models.ParticipantView, error)
	GetView(ctx context.Context, conversationID, userID string) (models.ParticipantView, error)
}

// ConversationRepo is a sqlx implementation of ConversationRepository.
type ConversationRepo struct {
	db *sqlx.DB
}

// NewConversationRepo constructs a ConversationRepo.
func NewConversationRepo(db *sqlx.DB) *ConversationRepo {
	return &ConversationRepo{db: db}
}

// SortPair orders a user pair so that one conversation row exists per unordered pair.
func SortPair(a, b string) (string, string) {
	if a < b {
		return a, b
	}
	return b, a
}

const conversationColumns = `id, user_low, user_high, created_at`

// GetOrCreateDirect returns the conversation for the pair, creating it with both
// participants if it does not exist. The bool reports whether it was created.
// Concurrent callers for the same pair serialize on the (user_low, user_high)
// unique constraint; the loser re-reads the winner's row.
func (r *ConversationRepo) GetOrCreateDirect(ctx context.Context, userID, otherID string) (models.Conversation, bool, error) {
	if userID == otherID {
		return models.Conversation{}, false, apperr.ErrSelfConversation
	}
	low, high := SortPair(userID, otherID)

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Conversation{}, false, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var (
		conv    models.Conversation
		created bool
	)
	selectPair := `SELECT ` + conversationColumns + ` FROM conversations WHERE user_low=$1 AND user_high=$2`
	err = tx.GetContext(ctx, &conv, selectPair, low, high)
	if errors.Is(err, sql.ErrNoRows) {
		err = tx.GetContext(ctx, &conv, `INSERT INTO conversations (id, user_low, user_high) VALUES ($1, $2, $3)
            ON CONFLICT (user_low, user_high) DO NOTHING
            RETURNING `+conversationColumns, uuid.NewString(), low, high)
		switch {
		case err == nil:
			created = true
			_, err = tx.ExecContext(ctx, `INSERT INTO participants (conversation_id, user_id) VALUES ($1, $2), ($1, $3)`, conv.ID, low, high)
		case errors.Is(err, sql.ErrNoRows):
			// another transaction created the pair and has committed
			err = tx.GetContext(ctx, &conv, selectPair, low, high)
		}
	}
	if err != nil {
		return models.Conversation{}, false, fmt.Errorf("get or create conversation: %w", err)
	}

	if !created {
		// reaching out again re-joins a requester who had left
		_, err = tx.ExecContext(ctx, `INSERT INTO participants (conversation_id, user_id) VALUES ($1, $2)
            ON CONFLICT (conversation_id, user_id) DO UPDATE SET is_active = TRUE`, conv.ID, userID)
		if err != nil {
			return models.Conversation{}, false, fmt.Errorf("reactivate participant: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return models.Conversation{}, false, fmt.Errorf("commit: %w", err)
	}
	return conv, created, nil
}

// viewQuery projects the viewer's membership, the other participant, the last
// message and the unread count in one row per conversation.
const viewQuery = `SELECT c.id AS conversation_id, c.created_at, me.last_read_at,
        o.user_id AS other_user_id, o.is_active AS other_active,
        (SELECT COUNT(*) FROM messages m
            WHERE m.conversation_id = c.id AND m.sender_id <> me.user_id
            AND (me.last_read_at IS NULL OR m.created_at > me.last_read_at)) AS unread_count,
        lm.id AS last_message_id, lm.sender_id AS last_message_sender,
        lm.content AS last_message_content, lm.created_at AS last_message_at
    FROM participants me
    JOIN conversations c ON c.id = me.conversation_id
    JOIN participants o ON o.conversation_id = c.id AND o.user_id <> me.user_id
    LEFT JOIN LATERAL (
        SELECT id, sender_id, content, created_at FROM messages
        WHERE conversation_id = c.id
        ORDER BY created_at DESC, id DESC LIMIT 1
    ) lm ON TRUE
    WHERE me.user_id = $1`

// ListViews returns one view per conversation the user is actively in, most
// recently active first.
func (r *ConversationRepo) ListViews(ctx context.Context, userID string) ([]models.ParticipantView, error) {
	var views []models.ParticipantView
	err := r.db.SelectContext(ctx, &views, viewQuery+` AND me.is_active
        ORDER BY COALESCE(lm.created_at, c.created_at) DESC, c.id`, userID)
	return views, err
}

// GetView returns the view of one conversation for a member, active or not.
func (r *ConversationRepo) GetView(ctx context.Context, conversationID, userID string) (models.ParticipantView, error) {
	var view models.ParticipantView
	err := r.db.GetContext(ctx, &view, viewQuery+` AND c.id = $2`, userID, conversationID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ParticipantView{}, apperr.ErrNotMember
	}
	return view, err
}
