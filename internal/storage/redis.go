package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultJobTTL = 24 * time.Hour

// RedisJobStore keeps job records as JSON with a retention TTL.
type RedisJobStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisJobStore wraps an existing client.
func NewRedisJobStore(client *redis.Client, prefix string, ttl time.Duration) *RedisJobStore {
	if prefix == "" {
		prefix = "render:job:"
	}
	if ttl <= 0 {
		ttl = defaultJobTTL
	}
	return &RedisJobStore{client: client, prefix: prefix, ttl: ttl}
}

// GetJob implements JobStore.
func (s *RedisJobStore) GetJob(ctx context.Context, clientID, jobID string) (JobRecord, error) {
	data, err := s.client.Get(ctx, s.key(clientID, jobID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return JobRecord{}, ErrNotFound
		}
		return JobRecord{}, fmt.Errorf("redis get job: %w", err)
	}
	var rec JobRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return JobRecord{}, fmt.Errorf("decode job: %w", err)
	}
	return rec, nil
}

// PutJob implements JobStore.
func (s *RedisJobStore) PutJob(ctx context.Context, rec JobRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	if err := s.client.Set(ctx, s.key(rec.ClientID, rec.JobID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set job: %w", err)
	}
	return nil
}

// Close leaves the shared client open; its owner closes it.
func (s *RedisJobStore) Close() {}

// key escapes both ids so a ":" inside one cannot collide with the separator.
func (s *RedisJobStore) key(clientID, jobID string) string {
	return s.prefix + url.QueryEscape(clientID) + ":" + url.QueryEscape(jobID)
}
