package session

import (
	"context"
	"sync"
)

// MemoryStore is an in-process Store for tests and throwaway sessions.
type MemoryStore struct {
	mu   sync.Mutex
	data []byte
	set  bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Load(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.set {
		return nil, ErrNotFound
	}
	out := make([]byte, len(s.data))
	copy(out, s.data)
	return out, nil
}

func (s *MemoryStore) Save(ctx context.Context, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = append([]byte(nil), data...)
	s.set = true
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = nil
	s.set = false
	return nil
}

// Has reports whether a value is stored.
func (s *MemoryStore) Has() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.set
}
