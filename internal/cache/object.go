package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"

	"roomRenderAi/internal/media"
)

// ObjectBackend keeps each entry as a small JSON blob in the media store,
// at <prefix>/<key>.json. Retention is whatever the bucket applies.
type ObjectBackend struct {
	store  media.Store
	prefix string
}

// NewObjectBackend stores entries below prefix (default "cache").
func NewObjectBackend(store media.Store, prefix string) *ObjectBackend {
	if prefix == "" {
		prefix = "cache"
	}
	return &ObjectBackend{store: store, prefix: prefix}
}

// Get implements Backend.
func (o *ObjectBackend) Get(ctx context.Context, key string) (Entry, error) {
	data, err := o.store.Get(ctx, o.path(key))
	if err != nil {
		if errors.Is(err, media.ErrNotFound) {
			return Entry{}, ErrMiss
		}
		return Entry{}, fmt.Errorf("cache: object get: %w", err)
	}
	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return Entry{}, fmt.Errorf("cache: decode entry: %w", err)
	}
	return entry, nil
}

// Set implements Backend.
func (o *ObjectBackend) Set(ctx context.Context, key string, entry Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("cache: encode entry: %w", err)
	}
	_, err = o.store.Put(ctx, media.PutInput{
		Path:        o.path(key),
		ContentType: "application/json",
		Body:        bytes.NewReader(data),
		Size:        int64(len(data)),
	})
	if err != nil {
		return fmt.Errorf("cache: object put: %w", err)
	}
	return nil
}

func (o *ObjectBackend) path(key string) string {
	return path.Join(o.prefix, key+".json")
}
