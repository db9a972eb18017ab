package session

import (
	"context"
	"sync"
)

type MemoryStore struct {
	mu sync.Mutex
	m  map[int64]Session
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{m: map[int64]Session{}}
}

func (s *MemoryStore) Get(_ context.Context, userID int64) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.m[userID], nil
}

func (s *MemoryStore) Put(_ context.Context, userID int64, sess Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess.State == Idle {
		delete(s.m, userID)
		return nil
	}
	s.m[userID] = sess
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, userID int64) error {
	s.mu.Lock()
	delete(s.m, userID)
	s.mu.Unlock()
	return nil
}

// Len returns the number of non-idle sessions.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.m)
}

func (s *MemoryStore) Close() error { return nil }
