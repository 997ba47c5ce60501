package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/Eklps/Dianping/internal/lock"
	"github.com/Eklps/Dianping/internal/logging"
	"github.com/Eklps/Dianping/internal/metrics"
	"github.com/Eklps/Dianping/internal/observability"
)

// readPlain reads a plain (TTL-bound) entry. hit is true for both live data
// and tombstones; a tombstone returns a nil value.
func readPlain[T any](ctx context.Context, c *Client, key string) (value *T, hit bool, err error) {
	raw, err := c.store.Get(ctx, key)
	if err == ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache: get %s: %w", key, err)
	}
	if len(raw) == 0 {
		return nil, true, nil
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		// Undecodable entries are treated as a miss and overwritten by the loader.
		logging.Op().Warn("discarding undecodable cache entry", "key", key, "error", err)
		return nil, false, nil
	}
	return &v, true, nil
}

// fill stores a loader result: the entity with ttl, or a tombstone when the
// entity is absent.
func fill[T any](ctx context.Context, c *Client, key string, v *T, ttl time.Duration) error {
	if v == nil {
		return c.setTombstone(ctx, key)
	}
	return c.Set(ctx, key, v, ttl)
}

// QueryWithPassThrough reads keyPrefix+id and falls back to loader on a
// miss. Absent entities are cached as tombstones for NullTTL, so repeated
// reads of a nonexistent id do not reach the loader until the tombstone
// expires. Concurrent misses on a live key may each call the loader.
func QueryWithPassThrough[ID any, T any](ctx context.Context, c *Client, keyPrefix string, id ID, loader Loader[ID, T], ttl time.Duration) (*T, error) {
	key := Key(keyPrefix, id)

	v, hit, err := readPlain[T](ctx, c, key)
	if err != nil {
		metrics.RecordCacheLookup(StrategyPassThrough, "error")
		return nil, err
	}
	if hit {
		if v == nil {
			metrics.RecordCacheLookup(StrategyPassThrough, "null_hit")
		} else {
			metrics.RecordCacheLookup(StrategyPassThrough, "hit")
		}
		return v, nil
	}
	metrics.RecordCacheLookup(StrategyPassThrough, "miss")

	v, err = loader(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := fill(ctx, c, key, v, ttl); err != nil {
		return nil, err
	}
	return v, nil
}

// QueryWithMutex is the blocking rebuild path. On a miss it takes the
// per-key rebuild lock, re-reads the cache, and only then calls loader.
// Callers that lose the lock sleep RetryInterval and start over from the
// cache read, giving up with ErrLockTimeout after MaxRetries attempts.
func QueryWithMutex[ID any, T any](ctx context.Context, c *Client, keyPrefix string, id ID, loader Loader[ID, T], ttl time.Duration) (*T, error) {
	key := Key(keyPrefix, id)

	for attempt := 0; ; attempt++ {
		v, hit, err := readPlain[T](ctx, c, key)
		if err != nil {
			metrics.RecordCacheLookup(StrategyMutex, "error")
			return nil, err
		}
		if hit {
			if v == nil {
				metrics.RecordCacheLookup(StrategyMutex, "null_hit")
			} else {
				metrics.RecordCacheLookup(StrategyMutex, "hit")
			}
			return v, nil
		}

		m := c.locks.NewMutex(key)
		ok, err := m.TryLock(ctx, c.cfg.LockTTL)
		if err != nil {
			return nil, fmt.Errorf("cache: acquire rebuild lock %s: %w", key, err)
		}
		if ok {
			metrics.RecordCacheLookup(StrategyMutex, "miss")
			return rebuildLocked(ctx, c, key, m, id, loader, ttl)
		}

		if attempt >= c.cfg.MaxRetries {
			metrics.RecordCacheLookup(StrategyMutex, "lock_timeout")
			return nil, fmt.Errorf("%w: %s after %d attempts", ErrLockTimeout, key, attempt+1)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.cfg.RetryInterval):
		}
	}
}

func rebuildLocked[ID any, T any](ctx context.Context, c *Client, key string, m *lock.Mutex, id ID, loader Loader[ID, T], ttl time.Duration) (result *T, err error) {
	ctx, span := observability.StartSpan(ctx, "cache.rebuild",
		observability.AttrCacheKey.String(key),
		observability.AttrCacheStrategy.String(StrategyMutex),
	)
	defer func() {
		if err != nil {
			observability.SetSpanError(span, err)
		} else {
			observability.SetSpanOK(span)
		}
		span.End()
	}()
	defer unlockQuietly(ctx, m, key)

	// Another holder may have filled the key between our read and TryLock.
	v, hit, err := readPlain[T](ctx, c, key)
	if err != nil {
		return nil, err
	}
	if hit {
		return v, nil
	}

	v, err = loader(ctx, id)
	if err != nil {
		metrics.RecordCacheRebuild(StrategyMutex, false)
		return nil, err
	}
	if err := fill(ctx, c, key, v, ttl); err != nil {
		metrics.RecordCacheRebuild(StrategyMutex, false)
		return nil, err
	}
	metrics.RecordCacheRebuild(StrategyMutex, true)
	return v, nil
}

// readLogical reads a logical-expiry entry. ok is false when the key is
// missing.
func readLogical[T any](ctx context.Context, c *Client, key string) (value *T, expireTime time.Time, ok bool, err error) {
	raw, err := c.store.Get(ctx, key)
	if err == ErrNotFound {
		return nil, time.Time{}, false, nil
	}
	if err != nil {
		return nil, time.Time{}, false, fmt.Errorf("cache: get %s: %w", key, err)
	}
	var entry logicalEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, time.Time{}, false, fmt.Errorf("cache: decode %s: %w", key, err)
	}
	if len(entry.Data) == 0 || string(entry.Data) == "null" {
		return nil, entry.ExpireTime, true, nil
	}
	var v T
	if err := json.Unmarshal(entry.Data, &v); err != nil {
		return nil, time.Time{}, false, fmt.Errorf("cache: decode %s: %w", key, err)
	}
	return &v, entry.ExpireTime, true, nil
}

// QueryWithLogicalExpire serves pre-warmed hot keys. A missing key is
// reported as absent without calling loader. A fresh entry is returned
// directly. An expired entry is returned as-is while the first caller to
// take the per-key rebuild lock schedules a refresh on the rebuild pool; no
// caller ever waits for the loader.
func QueryWithLogicalExpire[ID any, T any](ctx context.Context, c *Client, keyPrefix string, id ID, loader Loader[ID, T], ttl time.Duration) (*T, error) {
	key := Key(keyPrefix, id)

	v, expireTime, ok, err := readLogical[T](ctx, c, key)
	if err != nil {
		metrics.RecordCacheLookup(StrategyLogical, "error")
		return nil, err
	}
	if !ok {
		metrics.RecordCacheLookup(StrategyLogical, "miss")
		return nil, nil
	}
	if expireTime.After(c.now()) {
		metrics.RecordCacheLookup(StrategyLogical, "hit")
		return v, nil
	}
	metrics.RecordCacheLookup(StrategyLogical, "stale")

	m := c.locks.NewMutex(key)
	acquired, err := m.TryLock(ctx, c.cfg.LockTTL)
	if err != nil {
		logging.Op().Warn("rebuild lock unavailable, serving stale entry", "key", key, "error", err)
		return v, nil
	}
	if !acquired {
		return v, nil
	}

	// Double-check: a rebuild may have finished since our first read.
	fresh, freshExpire, ok, err := readLogical[T](ctx, c, key)
	if err == nil && ok && freshExpire.After(c.now()) {
		unlockQuietly(ctx, m, key)
		return fresh, nil
	}

	scheduled := c.pool.Submit(func(poolCtx context.Context) {
		rebuildLogical(poolCtx, c, key, m, id, loader, ttl)
	})
	if !scheduled {
		logging.Op().Warn("rebuild pool saturated, serving stale entry", "key", key)
		metrics.RecordCacheRebuild(StrategyLogical, false)
		unlockQuietly(ctx, m, key)
	}
	return v, nil
}

// rebuildLogical runs on a pool worker. It never panics and always releases
// the lock; on failure the stale entry stays until the next expired read.
func rebuildLogical[ID any, T any](ctx context.Context, c *Client, key string, m *lock.Mutex, id ID, loader Loader[ID, T], ttl time.Duration) {
	ctx, span := observability.StartSpan(ctx, "cache.rebuild",
		observability.AttrCacheKey.String(key),
		observability.AttrCacheStrategy.String(StrategyLogical),
	)
	defer span.End()
	defer unlockQuietly(ctx, m, key)
	defer func() {
		if r := recover(); r != nil {
			logging.Op().Error("cache rebuild panicked",
				"key", key, "panic", r, "stack", string(debug.Stack()))
			observability.SetSpanError(span, fmt.Errorf("panic: %v", r))
			metrics.RecordCacheRebuild(StrategyLogical, false)
		}
	}()

	v, err := loader(ctx, id)
	if err == nil {
		err = c.SetWithLogicalExpire(ctx, key, v, ttl)
	}
	if err != nil {
		logging.Op().Error("cache rebuild failed", "key", key, "owner", m.Token(), "error", err)
		observability.SetSpanError(span, err)
		metrics.RecordCacheRebuild(StrategyLogical, false)
		return
	}
	observability.SetSpanOK(span)
	metrics.RecordCacheRebuild(StrategyLogical, true)
}

func unlockQuietly(ctx context.Context, m *lock.Mutex, key string) {
	owner := m.Token()
	if err := m.Unlock(context.WithoutCancel(ctx)); err != nil {
		logging.Op().Warn("release rebuild lock", "key", key, "owner", owner, "error", err)
	}
}
