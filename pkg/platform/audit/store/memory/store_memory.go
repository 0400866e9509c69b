package memory

import (
	"context"
	"sync"

	audit "iinportal/pkg/platform/audit"
)

// InMemoryStore keeps events per application, in append order.
type InMemoryStore struct {
	mu     sync.RWMutex
	events map[int64][]audit.Event
	order  []audit.Event
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{events: make(map[int64][]audit.Event)}
}

func (s *InMemoryStore) Append(_ context.Context, event audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[event.ApplicationID] = append(s.events[event.ApplicationID], event)
	s.order = append(s.order, event)
	return nil
}

func (s *InMemoryStore) ListByApplication(_ context.Context, applicationID int64) ([]audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]audit.Event{}, s.events[applicationID]...), nil
}

// ListRecent returns the last limit events across all applications, oldest first.
func (s *InMemoryStore) ListRecent(_ context.Context, limit int) ([]audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	start := max(len(s.order)-limit, 0)
	return append([]audit.Event{}, s.order[start:]...), nil
}

func (s *InMemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = make(map[int64][]audit.Event)
	s.order = nil
}
