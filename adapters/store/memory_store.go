package store

import (
	"context"
	"sync"
	"time"

	"github.com/layer-3/sigil/core"
	"github.com/layer-3/sigil/ports"
)

type entry struct {
	value     string
	expiresAt time.Time
}

// MemoryKV is an in-memory implementation of the KV interface, primarily
// for tests and the CLI walkthrough.
type MemoryKV struct {
	data map[string]entry
	mu   sync.RWMutex
}

// NewMemoryKV creates a new in-memory KV store.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{data: make(map[string]entry)}
}

// Set stores a key with a value and expiration time. A zero TTL means the
// key does not expire.
func (s *MemoryKV) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := entry{value: value}
	if ttl > 0 {
		e.expiresAt = time.Now().Add(ttl)
	}
	s.data[key] = e
	return nil
}

// Get retrieves a value by key.
func (s *MemoryKV) Get(ctx context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.data[key]
	if !ok {
		return "", core.ErrNotFound
	}
	if !e.expiresAt.IsZero() && time.Now().After(e.expiresAt) {
		return "", core.ErrNotFound
	}
	return e.value, nil
}

// Delete removes a key. Deleting a missing key is not an error.
func (s *MemoryKV) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.data, key)
	return nil
}

// Clear removes all data from the store. Useful to reset between tests.
func (s *MemoryKV) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data = make(map[string]entry)
}

var _ ports.KV = (*MemoryKV)(nil)
