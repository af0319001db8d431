package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"market-chat/internal/apperr"
	"market-chat/internal/mocks"
	"market-chat/internal/models"
)

func unreachableClient() *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		MaxRetries:  -1,
		DialTimeout: 100 * time.Millisecond,
	})
}

func startRedis(t *testing.T) *redis.Client {
	t.Helper()
	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	if err != nil {
		t.Skipf("redis container unavailable: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)
	client, err := NewRedisClient(ctx, fmt.Sprintf("redis://%s/0", endpoint))
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

func TestProfileCacheDegradesWhenRedisDown(t *testing.T) {
	backing := new(mocks.ProfileLookupMock)
	client := unreachableClient()
	defer client.Close()
	c := NewProfileCache(client, backing, time.Minute, zerolog.Nop())

	backing.On("GetProfile", mock.Anything, "u1").Return(models.Profile{ID: "u1"}, nil).Once()
	backing.On("GetProfiles", mock.Anything, []string{"u1", "u2"}).Return([]models.Profile{{ID: "u1"}, {ID: "u2"}}, nil).Once()

	p, err := c.GetProfile(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "u1", p.ID)

	list, err := c.GetProfiles(context.Background(), []string{"u1", "u2"})
	require.NoError(t, err)
	assert.Len(t, list, 2)
	backing.AssertExpectations(t)
}

func TestProfileCachePassesThroughNotFound(t *testing.T) {
	backing := new(mocks.ProfileLookupMock)
	client := unreachableClient()
	defer client.Close()
	c := NewProfileCache(client, backing, time.Minute, zerolog.Nop())

	backing.On("GetProfile", mock.Anything, "ghost").Return(nil, apperr.ErrUserNotFound).Once()

	_, err := c.GetProfile(context.Background(), "ghost")
	require.ErrorIs(t, err, apperr.ErrUserNotFound)
}

func TestProfileCacheEmptyBatch(t *testing.T) {
	c := NewProfileCache(unreachableClient(), new(mocks.ProfileLookupMock), time.Minute, zerolog.Nop())

	list, err := c.GetProfiles(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestProfileCacheReadThrough(t *testing.T) {
	client := startRedis(t)
	backing := new(mocks.ProfileLookupMock)
	c := NewProfileCache(client, backing, time.Minute, zerolog.Nop())
	ctx := context.Background()
	name := "Alice"

	backing.On("GetProfile", mock.Anything, "u1").Return(models.Profile{ID: "u1", DisplayName: &name}, nil).Once()
	backing.On("GetProfiles", mock.Anything, []string{"u2"}).Return([]models.Profile{{ID: "u2"}}, nil).Once()

	first, err := c.GetProfile(ctx, "u1")
	require.NoError(t, err)
	second, err := c.GetProfile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	list, err := c.GetProfiles(ctx, []string{"u1", "u2"})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "Alice", *list[0].DisplayName)

	ttl, err := client.TTL(ctx, profileKey("u2")).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))

	require.NoError(t, c.Invalidate(ctx, "u1"))
	backing.On("GetProfile", mock.Anything, "u1").Return(models.Profile{ID: "u1"}, nil).Once()
	reloaded, err := c.GetProfile(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, reloaded.DisplayName)
	backing.AssertExpectations(t)
}
