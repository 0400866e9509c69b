package store

import (
	"context"
	"sync"
	"time"

	"iinportal/internal/survey/models"
	"iinportal/pkg/platform/sentinel"
)

// Error Contract:
// - Return sentinel.ErrNotFound when the requested entity does not exist
// - RecordCompletion reports created=false for an existing key and never fails on it

// InMemoryCompletionStore keeps completions in process memory.
type InMemoryCompletionStore struct {
	mu          sync.RWMutex
	completions map[models.Key]models.Completion
}

func NewInMemoryCompletions() *InMemoryCompletionStore {
	return &InMemoryCompletionStore{completions: make(map[models.Key]models.Completion)}
}

func (s *InMemoryCompletionStore) FindCompletion(_ context.Context, key models.Key) (*models.Completion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.completions[key]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &c, nil
}

// RecordCompletion keeps the first completion of a key.
func (s *InMemoryCompletionStore) RecordCompletion(_ context.Context, c *models.Completion) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.completions[c.Key]; ok {
		return false, nil
	}
	s.completions[c.Key] = *c
	return true, nil
}

// sweepInterval bounds how often SaveSession scans for expired sessions.
const sweepInterval = time.Minute

// InMemorySessionStore keeps gate sessions with a TTL. Expired sessions are
// dropped on read and swept on save.
type InMemorySessionStore struct {
	mu        sync.Mutex
	sessions  map[string]sessionEntry
	now       func() time.Time
	lastSweep time.Time
}

type sessionEntry struct {
	session   models.Session
	expiresAt time.Time
}

func NewInMemorySessions() *InMemorySessionStore {
	return &InMemorySessionStore{sessions: make(map[string]sessionEntry), now: time.Now}
}

func (s *InMemorySessionStore) SaveSession(_ context.Context, session *models.Session, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if now.Sub(s.lastSweep) >= sweepInterval {
		s.deleteExpired(now)
		s.lastSweep = now
	}
	s.sessions[session.ID] = sessionEntry{session: *session, expiresAt: now.Add(ttl)}
	return nil
}

// DeleteExpiredSessions removes every session expired as of now and returns
// how many were removed.
func (s *InMemorySessionStore) DeleteExpiredSessions(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteExpired(now), nil
}

func (s *InMemorySessionStore) deleteExpired(now time.Time) int {
	removed := 0
	for id, e := range s.sessions {
		if !now.Before(e.expiresAt) {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed
}

func (s *InMemorySessionStore) FindSession(_ context.Context, id string) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.sessions[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	if !s.now().Before(e.expiresAt) {
		delete(s.sessions, id)
		return nil, sentinel.ErrNotFound
	}
	session := e.session
	return &session, nil
}

func (s *InMemorySessionStore) DeleteSession(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}
