package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"market-chat/internal/apperr"
	"market-chat/internal/models"
)

// ProfileLookup resolves display-safe user projections.
type ProfileLookup interface {
	GetProfile(ctx context.Context, userID string) (models.Profile, error)
	GetProfiles(ctx context.Context, userIDs []string) ([]models.Profile, error)
}

// ProfileRepo reads the profiles projection table.
type ProfileRepo struct {
	db *sqlx.DB
}

// NewProfileRepo constructs a ProfileRepo.
func NewProfileRepo(db *sqlx.DB) *ProfileRepo {
	return &ProfileRepo{db: db}
}

// GetProfile fetches one profile.
func (r *ProfileRepo) GetProfile(ctx context.Context, userID string) (models.Profile, error) {
	var p models.Profile
	err := r.db.GetContext(ctx, &p, `SELECT id, display_name, avatar_url FROM profiles WHERE id=$1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Profile{}, apperr.ErrUserNotFound
	}
	return p, err
}

// GetProfiles fetches the profiles that exist among userIDs.
func (r *ProfileRepo) GetProfiles(ctx context.Context, userIDs []string) ([]models.Profile, error) {
	if len(userIDs) == 0 {
		return []models.Profile{}, nil
	}
	var profiles []models.Profile
	err := r.db.SelectContext(ctx, &profiles, `SELECT id, display_name, avatar_url FROM profiles WHERE id = ANY($1)`, pq.Array(userIDs))
	return profiles, err
}

// UpsertProfile writes a profile; used by seeding and tests.
func (r *ProfileRepo) UpsertProfile(ctx context.Context, p models.Profile) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO profiles (id, display_name, avatar_url) VALUES ($1, $2, $3)
        ON CONFLICT (id) DO UPDATE SET display_name = EXCLUDED.display_name, avatar_url = EXCLUDED.avatar_url`,
		p.ID, p.DisplayName, p.AvatarURL)
	return err
}
