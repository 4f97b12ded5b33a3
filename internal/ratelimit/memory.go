package ratelimit

import (
	"context"
	"sync"
	"time"
)

// bucket tracks the remaining budget for one key.
type bucket struct {
	tokens   float64
	lastSeen time.Time
}

// MemoryLimiter implements Limiter with an in-memory token bucket per key,
// sized from a per-minute budget. A background goroutine evicts idle keys to
// bound memory; call Close to stop it.
type MemoryLimiter struct {
	perSecond float64
	capacity  float64

	mu      sync.Mutex
	buckets map[string]*bucket

	stopOnce sync.Once
	done     chan struct{}
}

// NewMemoryLimiter creates a limiter allowing perMinute requests per key,
// sustained, with a burst of the full minute budget.
func NewMemoryLimiter(perMinute int) *MemoryLimiter {
	m := &MemoryLimiter{
		perSecond: float64(perMinute) / 60.0,
		capacity:  float64(perMinute),
		buckets:   make(map[string]*bucket),
		done:      make(chan struct{}),
	}
	go m.evictLoop()
	return m
}

// Allow consumes one token from the key's bucket. Returns false when the
// budget for the current window is spent.
func (m *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	b, ok := m.buckets[key]
	if !ok {
		m.buckets[key] = &bucket{tokens: m.capacity - 1, lastSeen: now}
		return true, nil
	}

	b.tokens += now.Sub(b.lastSeen).Seconds() * m.perSecond
	if b.tokens > m.capacity {
		b.tokens = m.capacity
	}
	b.lastSeen = now

	if b.tokens < 1 {
		return false, nil
	}
	b.tokens--
	return true, nil
}

// Close stops the eviction goroutine. Safe to call multiple times.
func (m *MemoryLimiter) Close() error {
	m.stopOnce.Do(func() { close(m.done) })
	return nil
}

// Keys idle longer than this are dropped; their next request starts a fresh
// full bucket, which is the same as never having been seen.
const idleEviction = 10 * time.Minute

func (m *MemoryLimiter) evictLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.mu.Lock()
			cutoff := time.Now().Add(-idleEviction)
			for key, b := range m.buckets {
				if b.lastSeen.Before(cutoff) {
					delete(m.buckets, key)
				}
			}
			m.mu.Unlock()
		}
	}
}
