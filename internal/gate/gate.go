// Package gate serializes access to heavy models.
//
// Models above roughly 32B parameters cannot run concurrently on a single
// host without thrashing, so heavy calls pass through a process-wide
// semaphore while light models run unconstrained.
package gate

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// heavyHints marks a model as heavy when its name contains any of these,
// case-insensitive.
var heavyHints = []string{"32b", "70b", "72b", "mixtral-8x7b"}

// Gate is a capacity-bounded admission gate for heavy models.
type Gate struct {
	sem     *semaphore.Weighted
	inUse   atomic.Int64
	waiters atomic.Int64
}

// New creates a gate admitting at most capacity concurrent heavy calls.
// Capacity below 1 is treated as 1.
func New(capacity int64) *Gate {
	if capacity < 1 {
		capacity = 1
	}
	return &Gate{sem: semaphore.NewWeighted(capacity)}
}

// IsHeavy reports whether the model name marks an exclusive-capacity model.
func IsHeavy(model string) bool {
	name := strings.ToLower(model)
	for _, hint := range heavyHints {
		if strings.Contains(name, hint) {
			return true
		}
	}
	return false
}

// Acquire admits a call for model, blocking while the gate is saturated if
// the model is heavy. The returned release is safe to call more than once
// and must be called on every exit path. For light models both acquisition
// and release are no-ops.
func (g *Gate) Acquire(ctx context.Context, model string) (release func(), err error) {
	if !IsHeavy(model) {
		return func() {}, nil
	}

	g.waiters.Add(1)
	err = g.sem.Acquire(ctx, 1)
	g.waiters.Add(-1)
	if err != nil {
		return nil, err
	}

	g.inUse.Add(1)
	var once sync.Once
	return func() {
		once.Do(func() {
			g.inUse.Add(-1)
			g.sem.Release(1)
		})
	}, nil
}

// Metrics reports current occupancy: heavy calls holding the gate and
// goroutines blocked waiting for it.
func (g *Gate) Metrics() (inUse, waiters int64) {
	return g.inUse.Load(), g.waiters.Load()
}
