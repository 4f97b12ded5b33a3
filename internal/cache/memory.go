package cache

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for single-node deployments and tests.
// Expiry is passive: entries are dropped when read or scanned past their
// deadline.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]memoryEntry)}
}

// Get returns the value for key, or ErrMiss.
func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrMiss
	}
	if time.Now().After(e.expiresAt) {
		s.mu.Lock()
		delete(s.entries, key)
		s.mu.Unlock()
		return nil, ErrMiss
	}
	return e.value, nil
}

// SetEx stores value with a TTL.
func (s *MemoryStore) SetEx(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	s.entries[key] = memoryEntry{value: value, expiresAt: time.Now().Add(ttl)}
	s.mu.Unlock()
	return nil
}

// ScanValues returns the values of up to max live keys matching prefix.
func (s *MemoryStore) ScanValues(_ context.Context, prefix string, max int) ([][]byte, error) {
	now := time.Now()
	s.mu.RLock()
	defer s.mu.RUnlock()

	var vals [][]byte
	for key, e := range s.entries {
		if len(vals) >= max {
			break
		}
		if !strings.HasPrefix(key, prefix) || now.After(e.expiresAt) {
			continue
		}
		vals = append(vals, e.value)
	}
	return vals, nil
}

// Ping always succeeds.
func (s *MemoryStore) Ping(context.Context) error { return nil }

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }
