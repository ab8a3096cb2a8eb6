package cache

import (
	"context"
	"sync"
	"time"
)

type memoryItem struct {
	entry     Entry
	expiresAt time.Time
}

// MemoryBackend is an in-process backend with an explicit TTL. It is built
// once at startup and injected; nothing about it is global.
type MemoryBackend struct {
	mu    sync.RWMutex
	items map[string]memoryItem
	ttl   time.Duration
	now   func() time.Time
}

// NewMemoryBackend creates a backend. A ttl of zero keeps entries until
// Invalidate is called.
func NewMemoryBackend(ttl time.Duration) *MemoryBackend {
	return &MemoryBackend{items: make(map[string]memoryItem), ttl: ttl, now: time.Now}
}

// Get implements Backend.
func (m *MemoryBackend) Get(_ context.Context, key string) (Entry, error) {
	m.mu.RLock()
	item, ok := m.items[key]
	m.mu.RUnlock()
	if !ok {
		return Entry{}, ErrMiss
	}
	if m.expired(item) {
		m.mu.Lock()
		if current, ok := m.items[key]; ok && m.expired(current) {
			delete(m.items, key)
		}
		m.mu.Unlock()
		return Entry{}, ErrMiss
	}
	return item.entry, nil
}

func (m *MemoryBackend) expired(item memoryItem) bool {
	return !item.expiresAt.IsZero() && !m.now().Before(item.expiresAt)
}

// Set implements Backend.
func (m *MemoryBackend) Set(_ context.Context, key string, entry Entry) error {
	item := memoryItem{entry: entry}
	if m.ttl > 0 {
		item.expiresAt = m.now().Add(m.ttl)
	}
	m.mu.Lock()
	m.items[key] = item
	m.mu.Unlock()
	return nil
}

// Invalidate drops one key, or everything when no key is given.
func (m *MemoryBackend) Invalidate(keys ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(keys) == 0 {
		m.items = make(map[string]memoryItem)
		return
	}
	for _, k := range keys {
		delete(m.items, k)
	}
}

// Len reports the number of stored entries, expired ones included.
func (m *MemoryBackend) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}
