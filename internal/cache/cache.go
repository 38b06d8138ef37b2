package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/smartapi/authcore/internal/logging"
)

// Cache is the best-effort profile cache: every failure degrades to a miss
// or a no-op. This swallow-and-degrade policy is only acceptable here, on the
// read side-path; the refresh-token store must never adopt it.
type Cache struct {
	client *redis.Client
}

func New(ctx context.Context, redisURL string) (*Cache, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}

	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("pinging redis: %w", err)
	}

	return &Cache{client: client}, nil
}

// Get reports whether dest was populated from the cache.
func (c *Cache) Get(ctx context.Context, key string, dest any) bool {
	if c == nil || c.client == nil {
		return false
	}
	val, err := c.client.Get(ctx, key).Result()
	if err != nil {
		if err != redis.Nil {
			logging.FromContext(ctx).Error("cache get failed", "key", key, "error", err)
		}
		return false
	}
	return json.Unmarshal([]byte(val), dest) == nil
}

func (c *Cache) Set(ctx context.Context, key string, value any, ttl time.Duration) {
	if c == nil || c.client == nil {
		return
	}
	data, err := json.Marshal(value)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		logging.FromContext(ctx).Error("cache set failed", "key", key, "error", err)
	}
}

func (c *Cache) Delete(ctx context.Context, key string) {
	if c == nil || c.client == nil {
		return
	}
	if err := c.client.Del(ctx, key).Err(); err != nil {
		logging.FromContext(ctx).Error("cache delete failed", "key", key, "error", err)
	}
}

func (c *Cache) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}
