package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"
)

// Exact caches JSON-encoded values under exact keys. Used for vote outcomes,
// including timeout outcomes, so a failing heavy model is not hammered by
// identical requests.
type Exact struct {
	store  Store
	ttl    time.Duration
	logger *slog.Logger
}

// NewExact creates an exact-key cache with a fixed TTL.
func NewExact(store Store, ttl time.Duration, logger *slog.Logger) *Exact {
	if logger == nil {
		logger = slog.Default()
	}
	return &Exact{store: store, ttl: ttl, logger: logger.With("component", "cache")}
}

// Get decodes the entry for key into dst. Any backend or decode failure is a
// miss.
func (c *Exact) Get(ctx context.Context, key string, dst any) bool {
	raw, err := c.store.Get(ctx, key)
	if err != nil {
		if err != ErrMiss {
			c.logger.Debug("exact get degraded to miss", "error", err)
		}
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		c.logger.Debug("exact entry undecodable", "key", key, "error", err)
		return false
	}
	return true
}

// Set stores v under key. Failures are logged and swallowed.
func (c *Exact) Set(ctx context.Context, key string, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		c.logger.Debug("exact set skipped", "error", err)
		return
	}
	if err := c.store.SetEx(ctx, key, raw, c.ttl); err != nil {
		c.logger.Debug("exact set failed", "error", err)
	}
}
