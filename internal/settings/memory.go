package settings

import (
	"context"
	"strconv"
	"sync"
)

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

// GetString returns the value of name, or def when unset.
func (s *MemoryStore) GetString(_ context.Context, name, def string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.values[name]; ok {
		return v, nil
	}
	return def, nil
}

// GetInt returns the integer value of name, or def when unset.
func (s *MemoryStore) GetInt(_ context.Context, name string, def int64) (int64, error) {
	s.mu.RLock()
	raw, ok := s.values[name]
	s.mu.RUnlock()
	if !ok || raw == "" {
		return def, nil
	}
	return parseInt(name, raw)
}

// SetString stores value under name.
func (s *MemoryStore) SetString(_ context.Context, name, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[name] = value
	return nil
}

// SetInt stores value under name.
func (s *MemoryStore) SetInt(ctx context.Context, name string, value int64) error {
	return s.SetString(ctx, name, strconv.FormatInt(value, 10))
}

// Delete removes name. Deleting an unset name is not an error.
func (s *MemoryStore) Delete(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, name)
	return nil
}

// Ping always succeeds.
func (s *MemoryStore) Ping(context.Context) error { return nil }

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }
