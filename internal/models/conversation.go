package models

import "time"

// Conversation is a direct conversation between exactly two users.
// UserLow and UserHigh hold the participant pair in sorted order.
type Conversation struct {
	ID        string    `db:"id" json:"id"`
	UserLow   string    `db:"user_low" json:"-"`
	UserHigh  string    `db:"user_high" json:"-"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Participant is a user's membership in a conversation.
type Participant struct {
	ConversationID string     `db:"conversation_id" json:"conversation_id"`
	UserID         string     `db:"user_id" json:"user_id"`
	IsActive       bool       `db:"is_active" json:"is_active"`
	LastReadAt     *time.Time `db:"last_read_at" json:"last_read_at,omitempty"`
	JoinedAt       time.Time  `db:"joined_at" json:"joined_at"`
}

// ParticipantView is the joined row used to build a summary for one viewer:
// the viewer's membership plus the other side of the pair.
type ParticipantView struct {
	ConversationID    string     `db:"conversation_id"`
	CreatedAt         time.Time  `db:"created_at"`
	LastReadAt        *time.Time `db:"last_read_at"`
	OtherUserID       string     `db:"other_user_id"`
	OtherActive       bool       `db:"other_active"`
	UnreadCount       int        `db:"unread_count"`
	LastMessageID     *string    `db:"last_message_id"`
	LastMessageSender *string    `db:"last_message_sender"`
	LastMessageText   *string    `db:"last_message_content"`
	LastMessageAt     *time.Time `db:"last_message_at"`
}

// Profile is the display-safe projection of a user.
type Profile struct {
	ID          string  `db:"id" json:"id"`
	DisplayName *string `db:"display_name" json:"display_name,omitempty"`
	AvatarURL   *string `db:"avatar_url" json:"avatar_url,omitempty"`
}

// ConversationSummary is a conversation as seen by one user. Not persisted.
type ConversationSummary struct {
	ConversationID string    `json:"conversation_id"`
	OtherUser      *Profile  `json:"other_user,omitempty"`
	LastMessage    *Message  `json:"last_message,omitempty"`
	UnreadCount    int       `json:"unread_count"`
	CreatedAt      time.Time `json:"created_at"`
}

// LastActivity is the time used to order conversation lists.
func (s ConversationSummary) LastActivity() time.Time {
	if s.LastMessage != nil {
		return s.LastMessage.CreatedAt
	}
	return s.CreatedAt
}
