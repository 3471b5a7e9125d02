package binding

import (
	"context"
	"sync"
)

// MemoryStore is a thread-safe in-process Store. It is only shared between
// the goroutines of one node.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]string
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]string)}
}

// Bind stores or replaces the binding for identity.
func (s *MemoryStore) Bind(ctx context.Context, identity, connID string) error {
	if err := ValidateIdentity(identity); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return unavailable("bind", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[identity] = connID
	return nil
}

// Resolve returns the connection id bound to identity.
func (s *MemoryStore) Resolve(ctx context.Context, identity string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", unavailable("resolve", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.data[identity]
	if !ok {
		return "", ErrNotFound
	}
	return id, nil
}

// Unbind removes the binding for identity.
func (s *MemoryStore) Unbind(ctx context.Context, identity string) error {
	if err := ctx.Err(); err != nil {
		return unavailable("unbind", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, identity)
	return nil
}

// Len returns the number of bindings held.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
