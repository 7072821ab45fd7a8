package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/smart-medical/diagnosis-server/internal/domain"
)

// RedisCache caches serialized API payloads in Redis. It backs the
// latest-diagnosis read path and is invalidated whenever a new diagnosis
// or review lands.
type RedisCache struct {
	redis      *redis.Client
	defaultTTL time.Duration
	log        *logrus.Logger
}

// cachedEntry wraps a payload with its expiry so a stale entry is dropped
// even if the Redis TTL did not fire.
type cachedEntry struct {
	Data      json.RawMessage `json:"data"`
	CachedAt  time.Time       `json:"cached_at"`
	ExpiresAt time.Time       `json:"expires_at"`
}

// NewRedisCache creates a new cache backed by the configured Redis
func NewRedisCache(cfg domain.CacheConfig, logger *logrus.Logger) (*RedisCache, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}

	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	if cfg.PoolTimeout > 0 {
		opts.PoolTimeout = cfg.PoolTimeout
	}
	opts.MaxRetries = cfg.MaxRetries

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	ttl := cfg.DefaultTTL
	if ttl == 0 {
		ttl = 10 * time.Minute
	}

	return &RedisCache{
		redis:      client,
		defaultTTL: ttl,
		log:        logger,
	}, nil
}

// Get loads a cached payload into dest. The bool reports a hit.
func (c *RedisCache) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	val, err := c.redis.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reading cache key %q: %w", key, err)
	}

	var entry cachedEntry
	if err := json.Unmarshal([]byte(val), &entry); err != nil {
		// Corrupted entry, drop it.
		c.redis.Del(ctx, key)
		return false, nil
	}
	if time.Now().After(entry.ExpiresAt) {
		c.redis.Del(ctx, key)
		return false, nil
	}

	if err := json.Unmarshal(entry.Data, dest); err != nil {
		c.redis.Del(ctx, key)
		return false, nil
	}
	return true, nil
}

// Set stores a payload under key with the default TTL
func (c *RedisCache) Set(ctx context.Context, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encoding cache value: %w", err)
	}

	now := time.Now()
	entry, err := json.Marshal(cachedEntry{
		Data:      data,
		CachedAt:  now,
		ExpiresAt: now.Add(c.defaultTTL),
	})
	if err != nil {
		return fmt.Errorf("encoding cache entry: %w", err)
	}

	if err := c.redis.Set(ctx, key, entry, c.defaultTTL).Err(); err != nil {
		return fmt.Errorf("writing cache key %q: %w", key, err)
	}
	return nil
}

// Delete removes one key
func (c *RedisCache) Delete(ctx context.Context, key string) error {
	if err := c.redis.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("deleting cache key %q: %w", key, err)
	}
	return nil
}

// Close releases the Redis connection pool
func (c *RedisCache) Close() error {
	return c.redis.Close()
}
