package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"market-chat/internal/models"
	"market-chat/internal/repositories"
)

// ProfileCache is a read-through Redis cache in front of a ProfileLookup.
// Cache failures degrade to the backing lookup.
type ProfileCache struct {
	client  redis.UniversalClient
	backing repositories.ProfileLookup
	ttl     time.Duration
	logger  zerolog.Logger
}

// NewRedisClient parses a redis:// URL and pings the server.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}

// NewProfileCache wraps backing with a cache entry per user id.
func NewProfileCache(client redis.UniversalClient, backing repositories.ProfileLookup, ttl time.Duration, logger zerolog.Logger) *ProfileCache {
	return &ProfileCache{client: client, backing: backing, ttl: ttl, logger: logger}
}

func profileKey(userID string) string {
	return fmt.Sprintf("profile:%s", userID)
}

// GetProfile returns the cached profile or loads and caches it.
func (c *ProfileCache) GetProfile(ctx context.Context, userID string) (models.Profile, error) {
	data, err := c.client.Get(ctx, profileKey(userID)).Bytes()
	if err == nil {
		var p models.Profile
		if err := json.Unmarshal(data, &p); err == nil {
			return p, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		c.logger.Warn().Err(err).Str("user_id", userID).Msg("profile cache read failed")
	}

	p, err := c.backing.GetProfile(ctx, userID)
	if err != nil {
		return models.Profile{}, err
	}
	c.store(ctx, p)
	return p, nil
}

// GetProfiles resolves many profiles with one MGET and one backing call for misses.
func (c *ProfileCache) GetProfiles(ctx context.Context, userIDs []string) ([]models.Profile, error) {
	if len(userIDs) == 0 {
		return []models.Profile{}, nil
	}
	keys := make([]string, len(userIDs))
	for i, id := range userIDs {
		keys[i] = profileKey(id)
	}

	result := make([]models.Profile, 0, len(userIDs))
	var missing []string
	values, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		c.logger.Warn().Err(err).Msg("profile cache mget failed")
		missing = userIDs
	} else {
		for i, v := range values {
			s, ok := v.(string)
			var p models.Profile
			if !ok || json.Unmarshal([]byte(s), &p) != nil {
				missing = append(missing, userIDs[i])
				continue
			}
			result = append(result, p)
		}
	}

	if len(missing) == 0 {
		return result, nil
	}
	loaded, err := c.backing.GetProfiles(ctx, missing)
	if err != nil {
		return nil, err
	}
	for _, p := range loaded {
		c.store(ctx, p)
	}
	return append(result, loaded...), nil
}

// Invalidate removes a cached profile after it changed upstream.
func (c *ProfileCache) Invalidate(ctx context.Context, userID string) error {
	return c.client.Del(ctx, profileKey(userID)).Err()
}

func (c *ProfileCache) store(ctx context.Context, p models.Profile) {
	data, err := json.Marshal(p)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, profileKey(p.ID), data, c.ttl).Err(); err != nil {
		c.logger.Warn().Err(err).Str("user_id", p.ID).Msg("profile cache write failed")
	}
}

var _ repositories.ProfileLookup = (*ProfileCache)(nil)
