package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"market-chat/internal/apperr"
	"market-chat/internal/models"
)

// ParticipantRepository tracks conversation membership and read markers.
type ParticipantRepository interface {
	GetParticipant(ctx context.Context, conversationID, userID string) (models.Participant, error)
	IsParticipant(ctx context.Context, conversationID, userID string) (bool, error)
	ListActiveParticipants(ctx context.Context, conversationID string) ([]string, error)
	MarkRead(ctx context.Context, conversationID, userID string, at *time.Time) (time.Time, error)
	Deactivate(ctx context.Context, conversationID, userID string) error
}

// ParticipantRepo is a sqlx implementation of ParticipantRepository.
type ParticipantRepo struct {
	db *sqlx.DB
}

// NewParticipantRepo constructs a ParticipantRepo.
func NewParticipantRepo(db *sqlx.DB) *ParticipantRepo {
	return &ParticipantRepo{db: db}
}

// GetParticipant fetches the membership row, active or not.
func (r *ParticipantRepo) GetParticipant(ctx context.Context, conversationID, userID string) (models.Participant, error) {
	var p models.Participant
	err := r.db.GetContext(ctx, &p, `SELECT conversation_id, user_id, is_active, last_read_at, joined_at
        FROM participants WHERE conversation_id=$1 AND user_id=$2`, conversationID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Participant{}, apperr.ErrNotMember
	}
	return p, err
}

// IsParticipant checks whether a user holds a membership row in the conversation.
func (r *ParticipantRepo) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM participants WHERE conversation_id=$1 AND user_id=$2)`, conversationID, userID)
	return exists, err
}

// ListActiveParticipants returns the user ids currently in the conversation.
func (r *ParticipantRepo) ListActiveParticipants(ctx context.Context, conversationID string) ([]string, error) {
	ids := []string{}
	err := r.db.SelectContext(ctx, &ids, `SELECT user_id FROM participants WHERE conversation_id=$1 AND is_active ORDER BY user_id`, conversationID)
	return ids, err
}

// MarkRead moves the read marker forward to at, or to the database clock when
// at is nil. Timestamps in the future are clamped to now and the marker never
// moves backwards. Returns the marker in effect after the update.
func (r *ParticipantRepo) MarkRead(ctx context.Context, conversationID, userID string, at *time.Time) (time.Time, error) {
	var marker time.Time
	err := r.db.GetContext(ctx, &marker, `UPDATE participants
        SET last_read_at = GREATEST(last_read_at, LEAST(COALESCE($3::timestamptz, clock_timestamp()), clock_timestamp()))
        WHERE conversation_id=$1 AND user_id=$2
        RETURNING last_read_at`, conversationID, userID, at)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, apperr.ErrNotMember
	}
	return marker, err
}

// Deactivate marks the membership inactive. Messages and the conversation are kept.
func (r *ParticipantRepo) Deactivate(ctx context.Context, conversationID, userID string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE participants SET is_active = FALSE WHERE conversation_id=$1 AND user_id=$2`, conversationID, userID)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return apperr.ErrNotMember
	}
	return nil
}
