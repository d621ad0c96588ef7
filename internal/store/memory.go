package store

import (
	"context"
	"errors"
	"sync"

	"github.com/ellenfel/Model-Context-Protocol/internal/protocol"
)

// MemoryStore is a map guarded by a read/write mutex.
type MemoryStore struct {
	mu       sync.RWMutex
	contexts map[string]*protocol.ModelContext
	closed   bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{contexts: make(map[string]*protocol.ModelContext)}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) Put(ctx context.Context, id string, mc *protocol.ModelContext) error {
	if mc == nil {
		return errors.New("context is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.contexts[id] = mc.Clone()
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*protocol.ModelContext, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, false, ErrClosed
	}
	mc, ok := s.contexts[id]
	if !ok {
		return nil, false, nil
	}
	return mc.Clone(), true, nil
}

func (s *MemoryStore) Remove(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.contexts, id)
	return nil
}

func (s *MemoryStore) Len(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, ErrClosed
	}
	return len(s.contexts), nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.contexts = make(map[string]*protocol.ModelContext)
	return nil
}
