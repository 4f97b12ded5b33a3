// Package cache provides the two answer caches: an exact-key cache for vote
// outcomes and a semantic cache keyed by query embedding similarity.
//
// Caching is a performance optimization, never a correctness requirement:
// every backend failure degrades to a miss and every write failure is
// swallowed after logging.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"
)

// ErrMiss is returned by stores when a key is absent.
var ErrMiss = errors.New("cache: miss")

// Store is the minimal key/value contract the caches need: point reads,
// TTL'd writes and bounded prefix scans.
type Store interface {
	// Get returns the value for key, or ErrMiss.
	Get(ctx context.Context, key string) ([]byte, error)

	// SetEx stores value under key with the given TTL.
	SetEx(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// ScanValues returns the values of up to max keys matching prefix.
	ScanValues(ctx context.Context, prefix string, max int) ([][]byte, error)

	// Ping reports backend reachability.
	Ping(ctx context.Context) error

	// Close releases the backend connection.
	Close() error
}

const (
	exactPrefix    = "vote:"
	semanticPrefix = "sem:"
)

// ExactKey derives the exact-cache key for a vote request. The key covers
// every input that changes the outcome: prompt, prior context, mode and the
// config fingerprint.
func ExactKey(prompt, context, mode, configPath string) string {
	sum := sha256.Sum256([]byte(strings.Join([]string{prompt, context, mode, configPath}, "|")))
	return exactPrefix + hex.EncodeToString(sum[:])
}

// semanticKey derives the storage key for a semantic entry from a prefix of
// the query hash.
func semanticKey(query string) string {
	sum := sha256.Sum256([]byte(query))
	return semanticPrefix + hex.EncodeToString(sum[:])[:16]
}
