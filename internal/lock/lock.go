// Package lock implements a Redis mutual-exclusion lock with owner tokens.
//
// A lock is the string key "lock:<name>" holding the owner's token, written
// with SET NX PX. Release and extension compare the stored token inside a Lua
// script, so a holder whose lease expired can never delete or prolong a lock
// that has since been acquired by someone else.
//
// The TTL only protects against crashed or hung holders. Callers must finish
// their critical section well inside it, or call Extend.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Eklps/Dianping/internal/metrics"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

const keyPrefix = "lock:"

// ErrNotHeld is returned by Unlock and Extend when the caller's token is no
// longer the one stored under the lock key.
var ErrNotHeld = errors.New("lock: not held")

// unlockScript deletes KEYS[1] only if it still holds ARGV[1].
var unlockScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`)

// extendScript resets the TTL of KEYS[1] to ARGV[2] ms only if it still holds ARGV[1].
var extendScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`)

// Client hands out named mutexes sharing one Redis connection and one
// process identity.
type Client struct {
	client    redis.Cmdable
	processID string
}

// NewClient creates a lock client. Every client gets its own process id,
// which prefixes all tokens it issues.
func NewClient(client redis.Cmdable) *Client {
	return &Client{client: client, processID: uuid.NewString()}
}

// Key returns the Redis key used for the named lock.
func Key(name string) string {
	return keyPrefix + name
}

// NewMutex returns an unlocked mutex for name. A Mutex is meant to be used by
// one goroutine for one critical section; create a new one per acquisition.
func (c *Client) NewMutex(name string) *Mutex {
	return &Mutex{client: c, name: name}
}

// Mutex is a single acquisition attempt on a named lock.
type Mutex struct {
	client *Client
	name   string

	mu    sync.Mutex
	token string
}

// Name returns the lock name.
func (m *Mutex) Name() string { return m.name }

// Token returns the owner token of the current acquisition, or "" if the
// mutex was never acquired.
func (m *Mutex) Token() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token
}

// TryLock attempts a single non-blocking acquisition with the given TTL.
// It reports whether the lock was free and is now held by this mutex.
func (m *Mutex) TryLock(ctx context.Context, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, fmt.Errorf("lock %s: ttl must be positive", m.name)
	}
	token := m.client.processID + "-" + uuid.NewString()

	ok, err := m.client.client.SetNX(ctx, Key(m.name), token, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("lock %s: acquire: %w", m.name, err)
	}
	metrics.RecordLockAcquire(ok)
	if !ok {
		return false, nil
	}

	m.mu.Lock()
	m.token = token
	m.mu.Unlock()
	return true, nil
}

// Unlock releases the lock if, and only if, it is still held with this
// mutex's token. It returns ErrNotHeld otherwise and never touches another
// holder's lock.
func (m *Mutex) Unlock(ctx context.Context) error {
	token := m.takeToken()
	if token == "" {
		return ErrNotHeld
	}
	n, err := unlockScript.Run(ctx, m.client.client, []string{Key(m.name)}, token).Int64()
	if err != nil {
		return fmt.Errorf("lock %s: release: %w", m.name, err)
	}
	if n == 0 {
		return ErrNotHeld
	}
	return nil
}

// UnlockUnsafe is the non-atomic fallback for stores without scripting:
// GET, compare in the client, then DEL. Between the compare and the DEL the
// lease can expire and another holder can acquire the lock, which this call
// will then delete. Prefer Unlock.
func (m *Mutex) UnlockUnsafe(ctx context.Context) error {
	token := m.takeToken()
	if token == "" {
		return ErrNotHeld
	}
	current, err := m.client.client.Get(ctx, Key(m.name)).Result()
	if err == redis.Nil {
		return ErrNotHeld
	}
	if err != nil {
		return fmt.Errorf("lock %s: read owner: %w", m.name, err)
	}
	if current != token {
		return ErrNotHeld
	}
	if err := m.client.client.Del(ctx, Key(m.name)).Err(); err != nil {
		return fmt.Errorf("lock %s: release: %w", m.name, err)
	}
	return nil
}

// Extend resets the lease to ttl if the lock is still held by this mutex.
func (m *Mutex) Extend(ctx context.Context, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	token := m.token
	m.mu.Unlock()
	if token == "" {
		return false, ErrNotHeld
	}
	n, err := extendScript.Run(ctx, m.client.client, []string{Key(m.name)}, token, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("lock %s: extend: %w", m.name, err)
	}
	return n == 1, nil
}

func (m *Mutex) takeToken() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	token := m.token
	m.token = ""
	return token
}
