// Package store holds the persistence surfaces of the gateway: the TTL'd
// verdict cache and the detection row sink.
package store

import (
	"context"
	"crypto/md5"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const cacheKeyPrefix = "lureguard:verdict:"

// DefaultScope groups cache entries for callers that did not identify
// themselves.
const DefaultScope = "anonymous"

// CacheKey derives the cache key for a detection run. When a redirect
// occurred the ORIGINAL url is the key: the submitted link is what users
// will submit again, and the redirect target may rotate per visit. Without
// a redirect the final url is the key. Keys are scoped so one caller's
// cached verdict is never served to another.
func CacheKey(originalURL, finalURL string, hasRedirect bool, scope string) string {
	keyURL := finalURL
	if hasRedirect {
		keyURL = originalURL
	}
	if scope == "" {
		scope = DefaultScope
	}
	return fmt.Sprintf("%s%s:%x", cacheKeyPrefix, scope, md5.Sum([]byte(keyURL)))
}

// ResultCache is the Redis-backed verdict cache.
type ResultCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewResultCache connects to Redis and verifies the connection.
func NewResultCache(ctx context.Context, redisURL string, ttl time.Duration) (*ResultCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &ResultCache{rdb: rdb, ttl: ttl}, nil
}

// Get returns the cached verdict payload for key, or nil on a miss.
// Errors are returned so the caller can log them, but a failed cache read
// must be treated like a miss.
func (c *ResultCache) Get(ctx context.Context, key string) ([]byte, error) {
	payload, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cache get: %w", err)
	}
	return payload, nil
}

// Set stores a verdict payload under key with the cache TTL.
func (c *ResultCache) Set(ctx context.Context, key string, payload []byte) error {
	if err := c.rdb.Set(ctx, key, payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}

// PurgeExpired sweeps verdict keys that have lost their TTL (writes from
// older deployments or manual pokes) and deletes them. Redis expires keyed
// writes on its own; this is a best-effort cleanup, and the count of
// removed keys is advisory.
func (c *ResultCache) PurgeExpired(ctx context.Context) (int, error) {
	var removed int
	iter := c.rdb.Scan(ctx, 0, cacheKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		ttl, err := c.rdb.TTL(ctx, key).Result()
		if err != nil {
			continue
		}
		// TTL == -1 means the key will never expire.
		if ttl == -1 {
			if c.rdb.Del(ctx, key).Err() == nil {
				removed++
			}
		}
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("cache purge scan: %w", err)
	}
	return removed, nil
}

// TTL returns the configured verdict lifetime.
func (c *ResultCache) TTL() time.Duration {
	return c.ttl
}

// Close releases the Redis connection.
func (c *ResultCache) Close() error {
	return c.rdb.Close()
}
