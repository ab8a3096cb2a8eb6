package media

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"
	"time"
)

var (
	// ErrStoreDisabled indicates that no durable storage is configured.
	ErrStoreDisabled = errors.New("media store disabled")
	// ErrNotFound is returned by Get for unknown paths.
	ErrNotFound = errors.New("media object not found")
)

// PutInput wraps the payload required for persisting a blob.
type PutInput struct {
	Path        string
	ContentType string
	Body        io.Reader
	Size        int64
	Public      bool
}

// Object describes a stored blob.
type Object struct {
	Path       string    `json:"path"`
	URL        string    `json:"url"`
	UploadedAt time.Time `json:"uploaded_at"`
	Size       int64     `json:"size,omitempty"`
}

// Store hides the backing implementation for blobs addressed by path.
type Store interface {
	Put(ctx context.Context, input PutInput) (Object, error)
	List(ctx context.Context, prefix string) ([]Object, error)
	Get(ctx context.Context, path string) ([]byte, error)
}

var timeNow = time.Now

type disabledStore struct{}

func (disabledStore) Put(context.Context, PutInput) (Object, error) {
	return Object{}, ErrStoreDisabled
}

func (disabledStore) List(context.Context, string) ([]Object, error) {
	return nil, ErrStoreDisabled
}

func (disabledStore) Get(context.Context, string) ([]byte, error) {
	return nil, ErrStoreDisabled
}

// Disabled returns a store that always signals disabled storage.
func Disabled() Store {
	return disabledStore{}
}

// IsDisabled reports whether s is nil or the disabled store.
func IsDisabled(s Store) bool {
	if s == nil {
		return true
	}
	_, ok := s.(disabledStore)
	return ok
}

// cleanPath normalises a blob path and rejects escapes from the root.
func cleanPath(p string) (string, bool) {
	p = strings.TrimSpace(strings.ReplaceAll(p, "\\", "/"))
	if p == "" {
		return "", false
	}
	cleaned := strings.TrimPrefix(path.Clean("/"+p), "/")
	if cleaned == "" || cleaned == "." {
		return "", false
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return "", false
		}
	}
	return cleaned, true
}
