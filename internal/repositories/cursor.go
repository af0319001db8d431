package repositories

import (
	"encoding/base64"
	"encoding/json"
	"time"

	"market-chat/internal/apperr"
	"market-chat/internal/models"
)

// cursor is the position of a message in the canonical (created_at, id) order.
type cursor struct {
	CreatedAt time.Time `json:"t"`
	ID        string    `json:"id"`
}

// EncodeCursor returns the opaque cursor that resumes after m.
func EncodeCursor(m models.Message) string {
	raw, _ := json.Marshal(cursor{CreatedAt: m.CreatedAt.UTC(), ID: m.ID})
	return base64.RawURLEncoding.EncodeToString(raw)
}

func decodeCursor(s string) (cursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return cursor{}, apperr.ErrInvalidCursor
	}
	var c cursor
	if err := json.Unmarshal(raw, &c); err != nil || c.ID == "" || c.CreatedAt.IsZero() {
		return cursor{}, apperr.ErrInvalidCursor
	}
	return c, nil
}
