package blob

import (
	"context"
	"sync"
	"time"

	"iinportal/pkg/platform/sentinel"
)

// MemoryStore is a map-backed Store for tests and local runs.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
	names map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string][]byte), names: make(map[string]string)}
}

func (s *MemoryStore) Store(ctx context.Context, data []byte, suggestedName string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	key := NewKey("mem", suggestedName, time.Now())
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[key] = append([]byte(nil), data...)
	s.names[key] = suggestedName
	return key, nil
}

func (s *MemoryStore) Retrieve(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.blobs[key]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

func (s *MemoryStore) Exists(_ context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.blobs[key]
	return ok, nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blobs, key)
	delete(s.names, key)
	return nil
}

// Len reports how many blobs are stored.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}
