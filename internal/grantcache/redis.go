// Package grantcache caches audit-grant expiries in Redis so repeated auditor
// reads skip the grant lookup in the case store.
package grantcache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// extendScript stores the expiry (unix millis) only when it is later than the
// cached one, and lets Redis drop the key at that instant.
var extendScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if cur and tonumber(cur) >= tonumber(ARGV[1]) then
  return 0
end
redis.call('SET', KEYS[1], ARGV[1])
redis.call('PEXPIREAT', KEYS[1], ARGV[1])
return 1
`)

// RedisCache implements the coordinator's grant cache on Redis.
type RedisCache struct {
	rdb    *redis.Client
	prefix string
}

// New wraps an existing client. Keys are "<prefix>grant:<case>:<auditor>".
func New(rdb *redis.Client, prefix string) *RedisCache {
	return &RedisCache{rdb: rdb, prefix: prefix}
}

// Connect dials addr and pings it. When Redis is unreachable it logs a
// warning and returns nil so callers run without a cache.
func Connect(ctx context.Context, addr string, logger *zap.Logger) *RedisCache {
	if addr == "" {
		return nil
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not available, running without grant cache",
			zap.String("addr", addr), zap.Error(err))
		_ = rdb.Close()
		return nil
	}
	logger.Info("grant cache connected", zap.String("addr", addr))
	return New(rdb, "caseledger:")
}

func (c *RedisCache) key(caseID, auditorID string) string {
	return c.prefix + "grant:" + caseID + ":" + auditorID
}

// Expiry returns the cached expiry for the pair. ok is false on a miss.
func (c *RedisCache) Expiry(ctx context.Context, caseID, auditorID string) (time.Time, bool, error) {
	v, err := c.rdb.Get(ctx, c.key(caseID, auditorID)).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("read grant cache: %w", err)
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("decode grant cache entry %q: %w", v, err)
	}
	return time.UnixMilli(ms).UTC(), true, nil
}

// Extend records expiresAt unless a later expiry is already cached.
// Expiries are truncated to milliseconds.
func (c *RedisCache) Extend(ctx context.Context, caseID, auditorID string, expiresAt time.Time) error {
	err := extendScript.Run(ctx, c.rdb, []string{c.key(caseID, auditorID)}, expiresAt.UnixMilli()).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("update grant cache: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (c *RedisCache) Close() error {
	return c.rdb.Close()
}

// Ping checks that Redis is reachable.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}
