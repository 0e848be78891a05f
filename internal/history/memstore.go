package history

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory Store that keeps the most recent entries.
type MemoryStore struct {
	mu      sync.RWMutex
	max     int
	entries []Entry // oldest first
}

// NewMemoryStore creates a store holding at most max entries. A
// non-positive max keeps everything.
func NewMemoryStore(max int) *MemoryStore {
	return &MemoryStore{max: max}
}

// Append records an entry, dropping the oldest when full.
func (s *MemoryStore) Append(_ context.Context, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = append(s.entries, e)
	if s.max > 0 && len(s.entries) > s.max {
		drop := len(s.entries) - s.max
		s.entries = append(s.entries[:0:0], s.entries[drop:]...)
	}
	return nil
}

// List returns matching entries, newest first.
func (s *MemoryStore) List(_ context.Context, f Filter) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	limit := f.limit()
	out := make([]Entry, 0, min(limit, len(s.entries)))
	for i := len(s.entries) - 1; i >= 0 && len(out) < limit; i-- {
		e := s.entries[i]
		if f.SubjectID != "" && e.SubjectID != f.SubjectID {
			continue
		}
		if f.ActionID != "" && e.ActionID != f.ActionID {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// Ping always succeeds.
func (s *MemoryStore) Ping(context.Context) error { return nil }

// Len returns the number of stored entries.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
