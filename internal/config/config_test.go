package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newViper(overrides map[string]any) *viper.Viper {
	v := viper.New()
	setDefaults(v)
	for k, val := range overrides {
		v.Set(k, val)
	}
	return v
}

func TestDefaults(t *testing.T) {
	cfg, err := fromViper(newViper(nil))
	require.NoError(t, err)

	assert.Equal(t, "8083", cfg.Port)
	assert.Equal(t, FeedModeLocal, cfg.FeedMode)
	assert.Equal(t, 5*time.Minute, cfg.ProfileCacheTTL)
	assert.Equal(t, []string{"*"}, cfg.CORSOrigins)
	assert.True(t, cfg.IsDevelopment())
}

func TestProductionRequiresSecret(t *testing.T) {
	_, err := fromViper(newViper(map[string]any{"ENV": "production"}))
	require.Error(t, err)

	cfg, err := fromViper(newViper(map[string]any{"ENV": "production", "JWT_SECRET": "s3cret"}))
	require.NoError(t, err)
	assert.False(t, cfg.IsDevelopment())
}

func TestInvalidFeedMode(t *testing.T) {
	_, err := fromViper(newViper(map[string]any{"FEED_MODE": "kafka"}))
	require.Error(t, err)
}

func TestCORSOriginsList(t *testing.T) {
	cfg, err := fromViper(newViper(map[string]any{"CORS_ORIGINS": "https://a.example, https://b.example,"}))
	require.NoError(t, err)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
}

func TestDevelopmentFallsBackToLocalSecret(t *testing.T) {
	cfg, err := fromViper(newViper(nil))
	require.NoError(t, err)
	assert.Equal(t, developmentJWTSecret, cfg.JWTSecret)
	assert.Equal(t, "users.events", cfg.ProfileExchange)
}
