package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBackend stores entries as JSON strings under a key prefix.
type RedisBackend struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisBackend wraps an existing client. A ttl of zero stores entries
// without expiry and leaves retention to the Redis eviction policy.
func NewRedisBackend(client *redis.Client, prefix string, ttl time.Duration) *RedisBackend {
	if prefix == "" {
		prefix = "render:cache:"
	}
	return &RedisBackend{client: client, prefix: prefix, ttl: ttl}
}

// Get implements Backend.
func (r *RedisBackend) Get(ctx context.Context, key string) (Entry, error) {
	data, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Entry{}, ErrMiss
		}
		return Entry{}, fmt.Errorf("cache: redis get: %w", err)
	}
	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return Entry{}, fmt.Errorf("cache: decode entry: %w", err)
	}
	return entry, nil
}

// Set implements Backend.
func (r *RedisBackend) Set(ctx context.Context, key string, entry Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("cache: encode entry: %w", err)
	}
	if err := r.client.Set(ctx, r.prefix+key, data, r.ttl).Err(); err != nil {
		return fmt.Errorf("cache: redis set: %w", err)
	}
	return nil
}
