package presence

import (
	"context"
	"sync"
)

// MemoryStore is a single-process Store used in development and tests.
type MemoryStore struct {
	mu       sync.Mutex
	conns    map[string]map[string]struct{}
	statuses map[string]string
	writes   map[string]int
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conns:    make(map[string]map[string]struct{}),
		statuses: make(map[string]string),
		writes:   make(map[string]int),
	}
}

// AddConnection implements Store.
func (s *MemoryStore) AddConnection(ctx context.Context, userID, connID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	set := s.conns[userID]
	if set == nil {
		set = make(map[string]struct{})
		s.conns[userID] = set
	}
	if _, ok := set[connID]; ok {
		return false, nil
	}
	set[connID] = struct{}{}

	if len(set) != 1 {
		return false, nil
	}
	s.statuses[userID] = StatusOnline
	s.writes[userID]++
	return true, nil
}

// RemoveConnection implements Store.
func (s *MemoryStore) RemoveConnection(ctx context.Context, userID, connID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	set := s.conns[userID]
	if _, ok := set[connID]; !ok {
		return false, nil
	}
	delete(set, connID)

	if len(set) != 0 {
		return false, nil
	}
	delete(s.conns, userID)
	s.statuses[userID] = StatusOffline
	s.writes[userID]++
	return true, nil
}

// ConnectionCount implements Store.
func (s *MemoryStore) ConnectionCount(_ context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.conns[userID])), nil
}

// Status implements Store.
func (s *MemoryStore) Status(_ context.Context, userID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.statuses[userID]; ok {
		return st, nil
	}
	return StatusOffline, nil
}

// StatusWrites returns how many times the user's status value was written.
func (s *MemoryStore) StatusWrites(userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes[userID]
}
