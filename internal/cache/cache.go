package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// ErrMiss is returned by backends for unknown keys.
var ErrMiss = errors.New("cache: miss")

// Entry is a stored generation result. Entries are written once per key and
// never mutated.
type Entry struct {
	ResultRef   string          `json:"result_ref"`
	StoragePath string          `json:"storage_path,omitempty"`
	Temporary   bool            `json:"temporary"`
	MIME        string          `json:"mime,omitempty"`
	Debug       json.RawMessage `json:"debug,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Backend is the key-value store behind the cache.
type Backend interface {
	Get(ctx context.Context, key string) (Entry, error)
	Set(ctx context.Context, key string, entry Entry) error
}

// Result reports the outcome of a best-effort write. Callers may ignore it.
type Result struct {
	Err error
}

// OK reports whether the write went through.
func (r Result) OK() bool { return r.Err == nil }

// ContentCache maps cache keys to results. Read and write failures degrade
// to a miss and a logged warning; they never fail a generation.
type ContentCache struct {
	backend Backend
	logger  *zap.Logger
	now     func() time.Time
}

// New wraps a backend. A nil backend yields a cache that always misses.
func New(backend Backend, logger *zap.Logger) *ContentCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ContentCache{backend: backend, logger: logger.Named("cache"), now: time.Now}
}

// Lookup returns the entry for key, or false on a miss or backend error.
func (c *ContentCache) Lookup(ctx context.Context, key string) (Entry, bool) {
	if c == nil || c.backend == nil || key == "" {
		return Entry{}, false
	}
	entry, err := c.backend.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrMiss) {
			c.logger.Warn("cache read failed, treating as miss", zap.String("key", key), zap.Error(err))
		}
		return Entry{}, false
	}
	if entry.ResultRef == "" {
		c.logger.Warn("cache entry without result, treating as miss", zap.String("key", key))
		return Entry{}, false
	}
	return entry, true
}

// Store writes the entry. Failures are logged and reported in the Result.
func (c *ContentCache) Store(ctx context.Context, key string, entry Entry) Result {
	if c == nil || c.backend == nil {
		return Result{Err: errors.New("cache: no backend")}
	}
	if key == "" || entry.ResultRef == "" {
		return Result{Err: fmt.Errorf("cache: refusing empty key or result")}
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = c.now().UTC()
	}
	if err := c.backend.Set(ctx, key, entry); err != nil {
		c.logger.Warn("cache write failed", zap.String("key", key), zap.Error(err))
		return Result{Err: err}
	}
	return Result{}
}
