package fetch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"scrapeq/internal/config"

	"github.com/redis/go-redis/v9"
)

// Cache stores page bodies by URL. Get reports a miss with ok=false and a nil error.
type Cache interface {
	Get(ctx context.Context, url string) (body []byte, ok bool, err error)
	Set(ctx context.Context, url string, body []byte) error
}

// NewRedisClient creates a Redis client from configuration.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}

// Ping checks the Redis connection.
func Ping(ctx context.Context, client *redis.Client) error {
	if _, err := client.Ping(ctx).Result(); err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}
	return nil
}

type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisCache(client *redis.Client, prefix string, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, prefix: prefix, ttl: ttl}
}

func (c *RedisCache) Get(ctx context.Context, url string) ([]byte, bool, error) {
	if c.client == nil {
		return nil, false, errors.New("redis client is nil")
	}
	body, err := c.client.Get(ctx, c.prefix+url).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get page from redis: %w", err)
	}
	return body, true, nil
}

func (c *RedisCache) Set(ctx context.Context, url string, body []byte) error {
	if c.client == nil {
		return errors.New("redis client is nil")
	}
	if err := c.client.Set(ctx, c.prefix+url, body, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set page in redis: %w", err)
	}
	return nil
}

type memoryEntry struct {
	body      []byte
	expiresAt time.Time
}

// MemoryCache keeps pages in process memory. A zero TTL never expires.
type MemoryCache struct {
	entries sync.Map
	ttl     time.Duration
	now     func() time.Time
}

func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{ttl: ttl, now: time.Now}
}

func (c *MemoryCache) Get(_ context.Context, url string) ([]byte, bool, error) {
	val, ok := c.entries.Load(url)
	if !ok {
		return nil, false, nil
	}
	entry := val.(memoryEntry)
	if !entry.expiresAt.IsZero() && c.now().After(entry.expiresAt) {
		c.entries.Delete(url)
		return nil, false, nil
	}
	return entry.body, true, nil
}

func (c *MemoryCache) Set(_ context.Context, url string, body []byte) error {
	entry := memoryEntry{body: append([]byte(nil), body...)}
	if c.ttl > 0 {
		entry.expiresAt = c.now().Add(c.ttl)
	}
	c.entries.Store(url, entry)
	return nil
}
