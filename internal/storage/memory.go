package storage

import (
	"context"
	"sync"
)

type jobKey struct {
	clientID string
	jobID    string
}

// InMemoryJobStore is a thread-safe store used when no database is configured.
type InMemoryJobStore struct {
	mu   sync.RWMutex
	jobs map[jobKey]JobRecord
}

// NewInMemoryJobStore constructs an empty in-memory store.
func NewInMemoryJobStore() *InMemoryJobStore {
	return &InMemoryJobStore{jobs: make(map[jobKey]JobRecord)}
}

// GetJob returns a copy of the stored record.
func (s *InMemoryJobStore) GetJob(_ context.Context, clientID, jobID string) (JobRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.jobs[jobKey{clientID, jobID}]
	if !ok {
		return JobRecord{}, ErrNotFound
	}
	return rec, nil
}

// PutJob replaces the record for the pair.
func (s *InMemoryJobStore) PutJob(_ context.Context, rec JobRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.jobs[jobKey{rec.ClientID, rec.JobID}] = rec
	return nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryJobStore) Close() {}
