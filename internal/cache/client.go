package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Eklps/Dianping/internal/asyncqueue"
	"github.com/Eklps/Dianping/internal/lock"
)

// ErrLockTimeout is returned by QueryWithMutex when the rebuild lock stayed
// contended for every retry. It is transient; the caller may retry.
var ErrLockTimeout = errors.New("cache: rebuild lock timeout")

// Metric label values for the three read strategies.
const (
	StrategyPassThrough = "pass_through"
	StrategyMutex       = "mutex"
	StrategyLogical     = "logical"
)

// Config holds the engine's tunables.
type Config struct {
	NullTTL       time.Duration // TTL of negative (tombstone) entries
	LockTTL       time.Duration // lease of the rebuild lock
	RetryInterval time.Duration // sleep between contended mutex attempts
	MaxRetries    int           // contended attempts before ErrLockTimeout
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		NullTTL:       2 * time.Minute,
		LockTTL:       10 * time.Second,
		RetryInterval: 50 * time.Millisecond,
		MaxRetries:    20,
	}
}

// Loader fetches an entity from the backing store. A nil entity with a nil
// error means the entity does not exist. Loaders are called concurrently and
// must not write to the cache.
type Loader[ID any, T any] func(ctx context.Context, id ID) (*T, error)

// Client is the cache-aside engine. The generic read operations are package
// functions taking a *Client (QueryWithPassThrough, QueryWithMutex,
// QueryWithLogicalExpire).
type Client struct {
	store Cache
	locks *lock.Client
	pool  *asyncqueue.Pool
	cfg   Config
	now   func() time.Time
}

// NewClient creates an engine. The pool runs logical-expiry rebuilds and is
// owned by the caller, who starts and stops it.
func NewClient(store Cache, locks *lock.Client, pool *asyncqueue.Pool, cfg Config) *Client {
	def := DefaultConfig()
	if cfg.NullTTL <= 0 {
		cfg.NullTTL = def.NullTTL
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = def.LockTTL
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = def.RetryInterval
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &Client{
		store: store,
		locks: locks,
		pool:  pool,
		cfg:   cfg,
		now:   time.Now,
	}
}

// logicalEntry is the stored form of a logically expiring value. The store
// keeps it without a TTL; staleness is decided by ExpireTime.
type logicalEntry struct {
	Data       json.RawMessage `json:"data"`
	ExpireTime time.Time       `json:"expire_time"`
}

// Set writes value as JSON with a store TTL.
func (c *Client) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache: encode %s: %w", key, err)
	}
	if err := c.store.Set(ctx, key, data, ttl); err != nil {
		return fmt.Errorf("cache: set %s: %w", key, err)
	}
	return nil
}

// SetWithLogicalExpire writes value wrapped with an expire time of now+ttl
// and no store TTL.
func (c *Client) SetWithLogicalExpire(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache: encode %s: %w", key, err)
	}
	entry, err := json.Marshal(logicalEntry{Data: data, ExpireTime: c.now().Add(ttl)})
	if err != nil {
		return fmt.Errorf("cache: encode %s: %w", key, err)
	}
	if err := c.store.Set(ctx, key, entry, 0); err != nil {
		return fmt.Errorf("cache: set %s: %w", key, err)
	}
	return nil
}

// Delete removes key.
func (c *Client) Delete(ctx context.Context, key string) error {
	if err := c.store.Delete(ctx, key); err != nil {
		return fmt.Errorf("cache: delete %s: %w", key, err)
	}
	return nil
}

// Ping checks the backing store.
func (c *Client) Ping(ctx context.Context) error {
	return c.store.Ping(ctx)
}

func (c *Client) setTombstone(ctx context.Context, key string) error {
	if err := c.store.Set(ctx, key, []byte{}, c.cfg.NullTTL); err != nil {
		return fmt.Errorf("cache: set tombstone %s: %w", key, err)
	}
	return nil
}

// Key joins a prefix and an ID the same way the query functions do.
func Key(keyPrefix string, id interface{}) string {
	return keyPrefix + fmt.Sprint(id)
}
