package idgen

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client
}

func TestNextID_Layout(t *testing.T) {
	g := New(newTestRedis(t))
	fixed := time.Date(2026, 10, 17, 8, 30, 0, 0, time.UTC)
	g.now = func() time.Time { return fixed }

	id, err := g.NextID(context.Background(), "order")
	if err != nil {
		t.Fatalf("NextID failed: %v", err)
	}
	if got := Timestamp(id); !got.Equal(fixed) {
		t.Fatalf("expected timestamp %v, got %v", fixed, got)
	}
	if got := Sequence(id); got != 1 {
		t.Fatalf("expected sequence 1, got %d", got)
	}
}

func TestNextID_ConcurrentDistinct(t *testing.T) {
	g := New(newTestRedis(t))
	ctx := context.Background()

	const m = 500
	ids := make([]int64, m)
	var wg sync.WaitGroup
	for i := 0; i < m; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := g.NextID(ctx, "order")
			if err != nil {
				t.Errorf("NextID failed: %v", err)
				return
			}
			ids[i] = id
		}(i)
	}
	wg.Wait()

	seen := make(map[int64]struct{}, m)
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate id %d", id)
		}
		seen[id] = struct{}{}
	}
}

func TestNextID_MonotonicAcrossWallClock(t *testing.T) {
	g := New(newTestRedis(t))
	ctx := context.Background()

	clock := time.Date(2026, 10, 17, 0, 0, 1, 0, time.UTC)
	g.now = func() time.Time { return clock }

	var ids []int64
	for i := 0; i < 20; i++ {
		if i%5 == 0 {
			clock = clock.Add(time.Second)
		}
		id, err := g.NextID(ctx, "order")
		if err != nil {
			t.Fatalf("NextID failed: %v", err)
		}
		ids = append(ids, id)
	}

	if !sort.SliceIsSorted(ids, func(i, j int) bool { return ids[i] < ids[j] }) {
		t.Fatalf("ids not increasing in call order: %v", ids)
	}
}

func TestNextID_SequenceResetsDaily(t *testing.T) {
	client := newTestRedis(t)
	g := New(client)
	ctx := context.Background()

	day1 := time.Date(2026, 10, 17, 23, 59, 59, 0, time.UTC)
	g.now = func() time.Time { return day1 }
	for i := 0; i < 3; i++ {
		if _, err := g.NextID(ctx, "order"); err != nil {
			t.Fatal(err)
		}
	}

	g.now = func() time.Time { return day1.Add(2 * time.Second) }
	id, err := g.NextID(ctx, "order")
	if err != nil {
		t.Fatal(err)
	}
	if Sequence(id) != 1 {
		t.Fatalf("expected sequence to restart at 1 on a new day, got %d", Sequence(id))
	}

	n, err := client.Get(ctx, "icr:order:2026:10:17").Int64()
	if err != nil || n != 3 {
		t.Fatalf("expected day-one counter 3, got %d (%v)", n, err)
	}
}

func TestNextID_PrefixesAreIndependent(t *testing.T) {
	g := New(newTestRedis(t))
	ctx := context.Background()

	a, _ := g.NextID(ctx, "order")
	b, _ := g.NextID(ctx, "refund")
	if Sequence(a) != 1 || Sequence(b) != 1 {
		t.Fatalf("expected independent sequences, got %d and %d", Sequence(a), Sequence(b))
	}
}

func TestNextID_StoreFailure(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	mr.Close()

	if _, err := New(client).NextID(context.Background(), "order"); err == nil {
		t.Fatal("expected error when redis is down")
	}
}
