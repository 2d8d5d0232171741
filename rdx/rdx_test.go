package rdx

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exercise(t *testing.T, c *Cache) {
	ctx := context.Background()
	user := "user-" + uuid.NewString()

	_, ok, err := c.Username(ctx, user)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.SetUsername(ctx, user, "ada"))
	name, ok, err := c.Username(ctx, user)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "ada", name)

	jti := uuid.NewString()
	revoked, err := c.IsRevoked(ctx, jti)
	require.NoError(t, err)
	assert.False(t, revoked)

	require.NoError(t, c.RevokeToken(ctx, jti, time.Minute))
	revoked, err = c.IsRevoked(ctx, jti)
	require.NoError(t, err)
	assert.True(t, revoked)
}

func TestLocalCache(t *testing.T) {
	exercise(t, NewLocal())
}

func TestLocalRevocationExpires(t *testing.T) {
	c := NewLocal()
	now := time.Now()
	c.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, c.RevokeToken(ctx, "t1", time.Minute))
	now = now.Add(2 * time.Minute)
	revoked, err := c.IsRevoked(ctx, "t1")
	require.NoError(t, err)
	assert.False(t, revoked)
}

func TestRedisCache(t *testing.T) {
	addr := os.Getenv("WORDCRAFT_REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("WORDCRAFT_REDIS_TEST_ADDR not set")
	}
	c, err := Connect(context.Background(), addr, "")
	require.NoError(t, err)
	defer c.Close()
	exercise(t, c)
}
