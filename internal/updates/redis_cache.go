package updates

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces cache keys: itelic:update:{product_id}.
const DefaultRedisPrefix = "itelic:update:"

// RedisCache implements Cache on Redis so several pollers for the same product
// share one verdict.
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisCache creates a RedisCache. Entries expire after ttl; zero keeps
// them until overwritten.
func NewRedisCache(client *redis.Client, prefix string, ttl time.Duration) *RedisCache {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisCache{client: client, prefix: prefix, ttl: ttl}
}

func (c *RedisCache) key(productID int64) string {
	return c.prefix + strconv.FormatInt(productID, 10)
}

// Get retrieves the entry for productID.
func (c *RedisCache) Get(ctx context.Context, productID int64) (*Entry, error) {
	val, err := c.client.Get(ctx, c.key(productID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get cache entry: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(val, &entry); err != nil {
		return nil, fmt.Errorf("decode cache entry: %w", err)
	}
	return &entry, nil
}

// Set stores entry for productID.
func (c *RedisCache) Set(ctx context.Context, productID int64, entry *Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}
	if err := c.client.Set(ctx, c.key(productID), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("set cache entry: %w", err)
	}
	return nil
}

// Delete removes the entry for productID.
func (c *RedisCache) Delete(ctx context.Context, productID int64) error {
	return c.client.Del(ctx, c.key(productID)).Err()
}
