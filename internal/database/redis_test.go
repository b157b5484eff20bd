package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sing3demons/instance-identity/internal/config"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"
)

func newTestRedis(t *testing.T) (*RedisClient, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewRedisClient(rdb), mr
}

func TestRedisClient_SetGetDel(t *testing.T) {
	c, mr := newTestRedis(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "project:p-1", "demo", time.Minute))
	got, err := c.Get(ctx, "project:p-1")
	require.NoError(t, err)
	require.Equal(t, "demo", got)
	require.Equal(t, time.Minute, mr.TTL("project:p-1"))

	require.NoError(t, c.Del(ctx, "project:p-1"))
	_, err = c.Get(ctx, "project:p-1")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRedisClient_NoExpiry(t *testing.T) {
	c, mr := newTestRedis(t)

	require.NoError(t, c.Set(context.Background(), "jwks_state", "[]", 0))
	require.Zero(t, mr.TTL("jwks_state"))
}

func TestRedisClient_ServerDown(t *testing.T) {
	c, mr := newTestRedis(t)
	mr.Close()

	_, err := c.Get(context.Background(), "k")
	require.Error(t, err)
	require.False(t, errors.Is(err, ErrNotFound))
}

func TestNewRedisConfig(t *testing.T) {
	_, err := NewRedisConfig(&config.RedisConfig{})
	require.Error(t, err)

	mr := miniredis.RunT(t)
	c, err := NewRedisConfig(&config.RedisConfig{Addr: mr.Addr()})
	require.NoError(t, err)
	defer c.Close()
	require.NoError(t, c.Ping())
}

func TestHandleMongoError(t *testing.T) {
	require.NoError(t, HandleMongoError(nil))
	require.ErrorIs(t, HandleMongoError(mongo.ErrNoDocuments), ErrNotFound)
	require.ErrorIs(t, HandleMongoError(context.DeadlineExceeded), ErrDatabaseTimeout)
	require.ErrorIs(t, HandleMongoError(context.Canceled), ErrServerUnavailable)

	other := errors.New("boom")
	require.Equal(t, other, HandleMongoError(other))
}
