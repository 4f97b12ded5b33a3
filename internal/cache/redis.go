package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// scanBatch is the COUNT hint per SCAN page.
const scanBatch = 100

// RedisStore backs the caches with a Redis server.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to the Redis URL (redis://host:port/db).
func NewRedisStore(url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("cache: parse redis url: %w", err)
	}
	return &RedisStore{client: redis.NewClient(opts)}, nil
}

// Get returns the value for key, or ErrMiss.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("cache: redis get: %w", err)
	}
	return val, nil
}

// SetEx stores value with a TTL.
func (s *RedisStore) SetEx(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("cache: redis set: %w", err)
	}
	return nil
}

// ScanValues collects the values of up to max keys matching prefix using
// cursor iteration, so a large keyspace never blocks the server.
func (s *RedisStore) ScanValues(ctx context.Context, prefix string, max int) ([][]byte, error) {
	var (
		cursor uint64
		vals   [][]byte
	)
	for {
		keys, next, err := s.client.Scan(ctx, cursor, prefix+"*", scanBatch).Result()
		if err != nil {
			return nil, fmt.Errorf("cache: redis scan: %w", err)
		}
		for _, key := range keys {
			if len(vals) >= max {
				return vals, nil
			}
			val, err := s.client.Get(ctx, key).Bytes()
			if err != nil {
				// Key may have expired between SCAN and GET.
				continue
			}
			vals = append(vals, val)
		}
		cursor = next
		if cursor == 0 {
			return vals, nil
		}
	}
}

// Ping reports backend reachability.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("cache: redis ping: %w", err)
	}
	return nil
}

// Close releases the client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
