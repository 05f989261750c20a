package grantcache_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jmerrifield20/caseledger/internal/grantcache"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newCache(t *testing.T) (*grantcache.RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return grantcache.New(rdb, "test:"), mr
}

func TestRedisCache_Miss(t *testing.T) {
	c, _ := newCache(t)
	_, ok, err := c.Expiry(context.Background(), "C-7-12-01", "aud_1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisCache_ExtendKeepsLatest(t *testing.T) {
	c, mr := newCache(t)
	ctx := context.Background()
	later := time.Now().Add(48 * time.Hour).Truncate(time.Millisecond).UTC()
	earlier := later.Add(-24 * time.Hour)

	require.NoError(t, c.Extend(ctx, "C-7-12-01", "aud_1", later))
	require.NoError(t, c.Extend(ctx, "C-7-12-01", "aud_1", earlier))

	exp, ok, err := c.Expiry(ctx, "C-7-12-01", "aud_1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, later.Equal(exp), "got %s", exp)
	assert.True(t, mr.Exists("test:grant:C-7-12-01:aud_1"))

	_, ok, err = c.Expiry(ctx, "C-7-12-01", "aud_2")
	require.NoError(t, err)
	assert.False(t, ok, "entries are per auditor")
}

func TestRedisCache_EntryExpires(t *testing.T) {
	c, mr := newCache(t)
	ctx := context.Background()

	require.NoError(t, c.Extend(ctx, "C-7-12-01", "aud_1", time.Now().Add(time.Hour)))
	mr.FastForward(2 * time.Hour)

	_, ok, err := c.Expiry(ctx, "C-7-12-01", "aud_1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisCache_CorruptEntry(t *testing.T) {
	c, mr := newCache(t)
	require.NoError(t, mr.Set("test:grant:C-7-12-01:aud_1", "not-a-number"))

	_, _, err := c.Expiry(context.Background(), "C-7-12-01", "aud_1")
	assert.Error(t, err)
}

func TestConnect(t *testing.T) {
	ctx := context.Background()
	assert.Nil(t, grantcache.Connect(ctx, "", zap.NewNop()))

	mr := miniredis.RunT(t)
	addr := mr.Addr()
	c := grantcache.Connect(ctx, addr, zap.NewNop())
	require.NotNil(t, c)
	t.Cleanup(func() { _ = c.Close() })
	assert.NoError(t, c.Ping(ctx))

	mr.Close()
	assert.Error(t, c.Ping(ctx))
	assert.Nil(t, grantcache.Connect(ctx, addr, zap.NewNop()))
}
