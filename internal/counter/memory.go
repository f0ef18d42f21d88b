package counter

import (
	"context"
	"sync"
)

// MemoryStore is the single-node counter backend. Atomicity comes from a
// per-key mutex, so independent keys never contend.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[Key]*memCounter
}

type memCounter struct {
	mu sync.Mutex
	n  int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[Key]*memCounter)}
}

func (s *MemoryStore) IncrCheckReset(_ context.Context, key Key, threshold int64) (int64, bool, error) {
	s.mu.Lock()
	e := s.entries[key]
	if e == nil {
		e = &memCounter{}
		s.entries[key] = e
	}
	s.mu.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()
	e.n++
	count := e.n
	if count >= threshold {
		e.n = 0
		return count, true, nil
	}
	return count, false, nil
}

// Count reports the current value without modifying it. Diagnostics only.
func (s *MemoryStore) Count(key Key) int64 {
	s.mu.Lock()
	e := s.entries[key]
	s.mu.Unlock()
	if e == nil {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.n
}
