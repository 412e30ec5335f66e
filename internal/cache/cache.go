// Package cache provides the Redis-backed cache used for permission
// memoization, refresh-token binding, rate limiting, password-reset tokens,
// and OIDC login state.
//
// Reads are best-effort: a Redis outage degrades performance (cache misses)
// but must not take authorization down with it, so Get/GetJSON return a
// found flag and swallow transport errors after logging them. Writes return
// errors so callers that require durability (token binding, reset tokens)
// can refuse instead of silently continuing.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Cache wraps a Redis client with the operations the rest of the server needs.
type Cache struct {
	client *redis.Client
	log    *zap.Logger
}

// New connects to Redis using a redis:// URL and verifies the connection.
func New(ctx context.Context, redisURL string, log *zap.Logger) (*Cache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("cache: parsing redis url: %w", err)
	}
	opts.PoolSize = 20
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("cache: connecting to redis: %w", err)
	}
	return NewWithClient(client, log), nil
}

// NewWithClient wraps an existing Redis client. Tests use this with a
// miniredis-backed client.
func NewWithClient(client *redis.Client, log *zap.Logger) *Cache {
	return &Cache{client: client, log: log}
}

// Close releases the underlying client.
func (c *Cache) Close() error {
	return c.client.Close()
}

// Ping reports whether Redis is reachable.
func (c *Cache) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("cache: ping: %w", err)
	}
	return nil
}

// Get returns the string value stored at key. The second return value is
// false on a miss or on transport failure.
func (c *Cache) Get(ctx context.Context, key string) (string, bool) {
	val, err := c.client.Get(ctx, key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.Warn("cache get failed", zap.String("key", key), zap.Error(err))
		}
		return "", false
	}
	return val, true
}

// Set stores a string value with the given TTL. A zero TTL means no expiry.
func (c *Cache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("cache: set %s: %w", key, err)
	}
	return nil
}

// GetJSON unmarshals the value stored at key into dst.
// Returns false on a miss, on transport failure, or if the payload is not
// valid JSON (the broken entry is deleted so it cannot wedge the cache).
func (c *Cache) GetJSON(ctx context.Context, key string, dst any) bool {
	val, ok := c.Get(ctx, key)
	if !ok {
		return false
	}
	if err := json.Unmarshal([]byte(val), dst); err != nil {
		c.log.Warn("cache entry is not valid json, dropping",
			zap.String("key", key), zap.Error(err))
		_ = c.Delete(ctx, key)
		return false
	}
	return true
}

// SetJSON marshals v and stores it with the given TTL.
func (c *Cache) SetJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("cache: marshaling %s: %w", key, err)
	}
	return c.Set(ctx, key, string(data), ttl)
}

// Delete removes the given keys. Missing keys are not an error.
func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("cache: delete: %w", err)
	}
	return nil
}

// Exists reports whether the key is present.
func (c *Cache) Exists(ctx context.Context, key string) bool {
	n, err := c.client.Exists(ctx, key).Result()
	if err != nil {
		c.log.Warn("cache exists failed", zap.String("key", key), zap.Error(err))
		return false
	}
	return n > 0
}

// TTL returns the remaining lifetime of the key. The second return value is
// false if the key does not exist or has no expiry.
func (c *Cache) TTL(ctx context.Context, key string) (time.Duration, bool) {
	d, err := c.client.TTL(ctx, key).Result()
	if err != nil {
		c.log.Warn("cache ttl failed", zap.String("key", key), zap.Error(err))
		return 0, false
	}
	if d < 0 {
		return 0, false
	}
	return d, true
}

// Increment atomically increments the counter at key, setting the TTL when
// the counter is first created. Returns the new counter value.
func (c *Cache) Increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	n, err := c.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("cache: incr %s: %w", key, err)
	}
	if n == 1 && ttl > 0 {
		if err := c.client.Expire(ctx, key, ttl).Err(); err != nil {
			return n, fmt.Errorf("cache: expire %s: %w", key, err)
		}
	}
	return n, nil
}

// DeleteByPrefix removes every key matching prefix* using SCAN, so it does
// not block Redis the way KEYS would.
func (c *Cache) DeleteByPrefix(ctx context.Context, prefix string) error {
	iter := c.client.Scan(ctx, 0, prefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("cache: scan %s: %w", prefix, err)
	}
	return c.Delete(ctx, keys...)
}
