package lock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
)

func newTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client, mr
}

func TestMutex_TryLockExclusive(t *testing.T) {
	client, _ := newTestRedis(t)
	c := NewClient(client)
	ctx := context.Background()

	a := c.NewMutex("order:1010")
	ok, err := a.TryLock(ctx, 10*time.Second)
	if err != nil || !ok {
		t.Fatalf("first TryLock should succeed: ok=%v err=%v", ok, err)
	}

	b := c.NewMutex("order:1010")
	ok, err = b.TryLock(ctx, 10*time.Second)
	if err != nil {
		t.Fatalf("TryLock failed: %v", err)
	}
	if ok {
		t.Fatal("second TryLock must fail while the lock is held")
	}

	if err := a.Unlock(ctx); err != nil {
		t.Fatalf("Unlock failed: %v", err)
	}
	ok, _ = b.TryLock(ctx, 10*time.Second)
	if !ok {
		t.Fatal("TryLock should succeed after release")
	}
}

func TestMutex_ConcurrentTryLockSingleWinner(t *testing.T) {
	client, _ := newTestRedis(t)
	c := NewClient(client)
	ctx := context.Background()

	var winners atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := c.NewMutex("shop:1").TryLock(ctx, time.Minute)
			if err != nil {
				t.Errorf("TryLock failed: %v", err)
				return
			}
			if ok {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()

	if n := winners.Load(); n != 1 {
		t.Fatalf("expected exactly one winner, got %d", n)
	}
}

func TestMutex_ExpiredHolderCannotReleaseNewHolder(t *testing.T) {
	client, mr := newTestRedis(t)
	ctx := context.Background()

	// Separate clients model separate processes.
	a := NewClient(client).NewMutex("shop:1")
	b := NewClient(client).NewMutex("shop:1")

	if ok, _ := a.TryLock(ctx, time.Second); !ok {
		t.Fatal("A should acquire")
	}
	tokenA := a.Token()

	mr.FastForward(2 * time.Second)

	if ok, _ := b.TryLock(ctx, 10*time.Second); !ok {
		t.Fatal("B should acquire after A's lease expired")
	}
	tokenB := b.Token()
	if tokenA == tokenB {
		t.Fatal("tokens must differ between acquisitions")
	}

	if err := a.Unlock(ctx); !errors.Is(err, ErrNotHeld) {
		t.Fatalf("expected ErrNotHeld for stale holder, got %v", err)
	}

	got, err := client.Get(ctx, Key("shop:1")).Result()
	if err != nil {
		t.Fatalf("lock key vanished: %v", err)
	}
	if got != tokenB {
		t.Fatalf("expected B's token to remain, got %q", got)
	}
}

func TestMutex_UnlockUnsafeRespectsToken(t *testing.T) {
	client, mr := newTestRedis(t)
	ctx := context.Background()

	a := NewClient(client).NewMutex("voucher:9")
	b := NewClient(client).NewMutex("voucher:9")

	a.TryLock(ctx, time.Second)
	mr.FastForward(2 * time.Second)
	b.TryLock(ctx, time.Minute)

	if err := a.UnlockUnsafe(ctx); !errors.Is(err, ErrNotHeld) {
		t.Fatalf("expected ErrNotHeld, got %v", err)
	}
	if !mr.Exists(Key("voucher:9")) {
		t.Fatal("B's lock must survive")
	}
	if err := b.UnlockUnsafe(ctx); err != nil {
		t.Fatalf("owner UnlockUnsafe failed: %v", err)
	}
	if mr.Exists(Key("voucher:9")) {
		t.Fatal("lock should be gone after owner release")
	}
}

func TestMutex_Extend(t *testing.T) {
	client, mr := newTestRedis(t)
	ctx := context.Background()
	m := NewClient(client).NewMutex("shop:2")

	if _, err := m.Extend(ctx, time.Minute); !errors.Is(err, ErrNotHeld) {
		t.Fatalf("extend before acquire should fail with ErrNotHeld, got %v", err)
	}

	m.TryLock(ctx, time.Second)
	ok, err := m.Extend(ctx, time.Minute)
	if err != nil || !ok {
		t.Fatalf("Extend failed: ok=%v err=%v", ok, err)
	}

	mr.FastForward(30 * time.Second)
	if !mr.Exists(Key("shop:2")) {
		t.Fatal("extended lock expired too early")
	}
}

func TestMutex_ExtendAfterLoss(t *testing.T) {
	client, mr := newTestRedis(t)
	ctx := context.Background()
	m := NewClient(client).NewMutex("shop:3")

	m.TryLock(ctx, time.Second)
	mr.FastForward(2 * time.Second)

	ok, err := m.Extend(ctx, time.Minute)
	if err != nil {
		t.Fatalf("Extend failed: %v", err)
	}
	if ok {
		t.Fatal("Extend must fail once the lease is gone")
	}
}

func TestMutex_DoubleUnlock(t *testing.T) {
	client, _ := newTestRedis(t)
	ctx := context.Background()
	m := NewClient(client).NewMutex("shop:4")

	m.TryLock(ctx, time.Minute)
	if err := m.Unlock(ctx); err != nil {
		t.Fatalf("Unlock failed: %v", err)
	}
	if err := m.Unlock(ctx); !errors.Is(err, ErrNotHeld) {
		t.Fatalf("second Unlock should report ErrNotHeld, got %v", err)
	}
}

func TestMutex_InvalidTTL(t *testing.T) {
	client, _ := newTestRedis(t)
	if _, err := NewClient(client).NewMutex("x").TryLock(context.Background(), 0); err == nil {
		t.Fatal("expected error for zero ttl")
	}
}
