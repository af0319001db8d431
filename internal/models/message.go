package models

import "time"

// Message represents a chat message. Messages are append-only.
type Message struct {
	ID              string    `db:"id" json:"id"`
	ConversationID  string    `db:"conversation_id" json:"conversation_id"`
	SenderID        string    `db:"sender_id" json:"sender_id"`
	Content         string    `db:"content" json:"content"`
	ClientMessageID *string   `db:"client_message_id" json:"client_message_id,omitempty"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
}

// Before reports whether m sorts before other in the canonical (created_at, id) order.
func (m Message) Before(other Message) bool {
	if !m.CreatedAt.Equal(other.CreatedAt) {
		return m.CreatedAt.Before(other.CreatedAt)
	}
	return m.ID < other.ID
}

// Event types carried on the change-feed.
const (
	EventMessageCreated = "message_created"
	EventReadUpdated    = "read_updated"
)

// ChatEvent is published on the change-feed and relayed over websockets.
type ChatEvent struct {
	Type           string     `json:"type"`
	ConversationID string     `json:"conversation_id"`
	Message        *Message   `json:"message,omitempty"`
	UserID         string     `json:"user_id,omitempty"`
	ReadAt         *time.Time `json:"read_at,omitempty"`
}

// PageRequest selects a window of a conversation's message log.
type PageRequest struct {
	Limit  int
	Cursor string
	// Desc returns newest-first when true.
	Desc bool
}

// MessagePage is one page of messages plus the cursor for the next one.
type MessagePage struct {
	Messages   []Message `json:"messages"`
	NextCursor string    `json:"next_cursor,omitempty"`
}

const (
	DefaultPageLimit = 50
	MaxPageLimit     = 100

	// MaxContentRunes bounds a single message after trimming.
	MaxContentRunes = 4000
)

// Normalized clamps the limit into [1, MaxPageLimit], defaulting to DefaultPageLimit.
func (p PageRequest) Normalized() PageRequest {
	switch {
	case p.Limit <= 0:
		p.Limit = DefaultPageLimit
	case p.Limit > MaxPageLimit:
		p.Limit = MaxPageLimit
	}
	return p
}
