// Package cache implements the cache-aside engine in front of the relational
// store: negative caching of absent keys, mutex-guarded rebuilds and
// logical-expiry rebuilds that serve stale data while a background worker
// refreshes the entry.
//
// The engine talks to a byte-oriented Cache so the same code runs against
// Redis in production and an in-process map in single-node setups.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// Backend kinds accepted by NewBackend.
const (
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// ErrNotFound is returned when a key does not exist in the cache.
var ErrNotFound = errors.New("cache: key not found")

// Cache abstracts a key-value cache with TTL support.
// All operations are safe for concurrent use.
type Cache interface {
	// Get retrieves the value associated with key.
	// Returns ErrNotFound if the key does not exist or has expired. An
	// existing key holding an empty value returns an empty, non-nil slice.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value with the given TTL. A zero TTL means the entry
	// does not expire.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a key from the cache. It is not an error to delete
	// a key that does not exist.
	Delete(ctx context.Context, key string) error

	// Ping verifies connectivity to the underlying cache backend.
	Ping(ctx context.Context) error

	// Close releases all resources held by the cache implementation.
	Close() error
}

// NewBackend builds the Cache named by kind. An empty kind selects Redis.
// The memory backend ignores client and prefix and keeps entries in this
// process only, so it suits single-node deployments where no other instance
// needs to see tombstones or logical-expiry wrappers.
func NewBackend(kind string, client redis.UniversalClient, prefix string) (Cache, error) {
	switch kind {
	case "", BackendRedis:
		if client == nil {
			return nil, errors.New("cache: redis backend needs a client")
		}
		return NewRedisCache(client, prefix), nil
	case BackendMemory:
		return NewInMemoryCache(), nil
	default:
		return nil, fmt.Errorf("cache: unknown backend %q", kind)
	}
}
