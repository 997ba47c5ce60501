package store

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
)

// RedisOptions configures the shared Redis client.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
}

// RedisStore owns the process-wide Redis client used by the cache engine,
// the distributed lock, the ID generator and the order stream.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(ctx context.Context, opts RedisOptions) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
		PoolSize: opts.PoolSize,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return &RedisStore{client: client}, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Client returns the underlying Redis client for direct access
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

// Ping checks Redis connectivity
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
