package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/oklog/ulid/v2"

	"market-chat/internal/apperr"
	"market-chat/internal/models"
)

// MessageRepository defines the append-only message log and unread counting.
type MessageRepository interface {
	CreateMessage(ctx context.Context, conversationID, senderID, content string, clientMessageID *string) (models.Message, bool, error)
	GetMessage(ctx context.Context, messageID string) (models.Message, error)
	ListMessages(ctx context.Context, conversationID string, page models.PageRequest) (models.MessagePage, error)
	UnreadCount(ctx context.Context, conversationID, userID string) (int, error)
	TotalUnread(ctx context.Context, userID string) (int, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

const messageColumns = `id, conversation_id, sender_id, content, client_message_id, created_at`

// CreateMessage appends a message. When clientMessageID repeats for the same
// sender and conversation the original message is returned and the bool is false.
func (r *MessageRepo) CreateMessage(ctx context.Context, conversationID, senderID, content string, clientMessageID *string) (models.Message, bool, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg, `INSERT INTO messages (id, conversation_id, sender_id, content, client_message_id)
        VALUES ($1, $2, $3, $4, $5)
        ON CONFLICT (conversation_id, sender_id, client_message_id) DO NOTHING
        RETURNING `+messageColumns, ulid.Make().String(), conversationID, senderID, content, clientMessageID)
	if err == nil {
		return msg, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) || clientMessageID == nil {
		return models.Message{}, false, fmt.Errorf("insert message: %w", err)
	}

	err = r.db.GetContext(ctx, &msg, `SELECT `+messageColumns+` FROM messages
        WHERE conversation_id=$1 AND sender_id=$2 AND client_message_id=$3`, conversationID, senderID, *clientMessageID)
	if err != nil {
		return models.Message{}, false, fmt.Errorf("load replayed message: %w", err)
	}
	return msg, false, nil
}

// GetMessage retrieves a single message.
func (r *MessageRepo) GetMessage(ctx context.Context, messageID string) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg, `SELECT `+messageColumns+` FROM messages WHERE id=$1`, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, apperr.ErrMessageNotFound
	}
	return msg, err
}

// ListMessages returns one page in (created_at, id) order, ascending or
// descending. Keyset pagination keeps pages stable while messages are inserted.
func (r *MessageRepo) ListMessages(ctx context.Context, conversationID string, page models.PageRequest) (models.MessagePage, error) {
	page = page.Normalized()
	cmp, order := ">", "ASC"
	if page.Desc {
		cmp, order = "<", "DESC"
	}

	args := []any{conversationID}
	where := `conversation_id=$1`
	if page.Cursor != "" {
		c, err := decodeCursor(page.Cursor)
		if err != nil {
			return models.MessagePage{}, err
		}
		args = append(args, c.CreatedAt, c.ID)
		where += ` AND (created_at, id) ` + cmp + ` ($2, $3)`
	}
	args = append(args, page.Limit+1)

	query := fmt.Sprintf(`SELECT %s FROM messages WHERE %s ORDER BY created_at %s, id %s LIMIT $%d`,
		messageColumns, where, order, order, len(args))

	msgs := []models.Message{}
	if err := r.db.SelectContext(ctx, &msgs, query, args...); err != nil {
		return models.MessagePage{}, err
	}

	result := models.MessagePage{Messages: msgs}
	if len(msgs) > page.Limit {
		result.Messages = msgs[:page.Limit]
		result.NextCursor = EncodeCursor(result.Messages[page.Limit-1])
	}
	return result, nil
}

// UnreadCount counts messages from others newer than the user's read marker.
// A null marker counts every message from the other side.
func (r *MessageRepo) UnreadCount(ctx context.Context, conversationID, userID string) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM messages m
        JOIN participants p ON p.conversation_id = m.conversation_id AND p.user_id = $2
        WHERE m.conversation_id = $1 AND m.sender_id <> $2
        AND (p.last_read_at IS NULL OR m.created_at > p.last_read_at)`, conversationID, userID)
	return count, err
}

// TotalUnread sums unread counts over the user's active conversations.
func (r *MessageRepo) TotalUnread(ctx context.Context, userID string) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM messages m
        JOIN participants p ON p.conversation_id = m.conversation_id AND p.user_id = $1
        WHERE p.is_active AND m.sender_id <> $1
        AND (p.last_read_at IS NULL OR m.created_at > p.last_read_at)`, userID)
	return count, err
}
