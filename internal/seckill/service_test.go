package seckill

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Eklps/Dianping/internal/cache"
	"github.com/Eklps/Dianping/internal/domain"
	"github.com/Eklps/Dianping/internal/idgen"
	"github.com/Eklps/Dianping/internal/lock"
)

type fakeVouchers struct {
	vouchers map[int64]*domain.SeckillVoucher
	calls    atomic.Int32
}

func (f *fakeVouchers) GetSeckillVoucher(ctx context.Context, id int64) (*domain.SeckillVoucher, error) {
	f.calls.Add(1)
	return f.vouchers[id], nil
}

func TestService_Seckill(t *testing.T) {
	client, mr := newTestRedis(t)
	now := time.Date(2024, 6, 18, 20, 0, 0, 0, time.UTC)

	vouchers := &fakeVouchers{vouchers: map[int64]*domain.SeckillVoucher{
		1: {VoucherID: 1, Stock: 5, BeginTime: now.Add(-time.Hour), EndTime: now.Add(time.Hour)},
		2: {VoucherID: 2, Stock: 5, BeginTime: now.Add(time.Hour), EndTime: now.Add(2 * time.Hour)},
		3: {VoucherID: 3, Stock: 5, BeginTime: now.Add(-2 * time.Hour), EndTime: now.Add(-time.Hour)},
	}}
	engine := cache.NewClient(cache.NewRedisCache(client, ""), lock.NewClient(client), nil, cache.DefaultConfig())
	admission := NewAdmission(client, idgen.New(client), AdmissionConfig{Stream: testStream})
	svc := NewService(engine, vouchers, admission, time.Minute)
	svc.now = func() time.Time { return now }
	seedStock(t, mr, 1, 5)

	ctx := context.Background()
	if _, err := svc.Seckill(ctx, 1, 100); err != nil {
		t.Fatalf("expected admission inside the window, got %v", err)
	}
	if _, err := svc.Seckill(ctx, 2, 100); err != ErrNotStarted {
		t.Fatalf("expected ErrNotStarted, got %v", err)
	}
	if _, err := svc.Seckill(ctx, 3, 100); err != ErrEnded {
		t.Fatalf("expected ErrEnded, got %v", err)
	}
	if _, err := svc.Seckill(ctx, 404, 100); err != ErrVoucherNotFound {
		t.Fatalf("expected ErrVoucherNotFound, got %v", err)
	}
	if _, err := svc.Seckill(ctx, 404, 101); err != ErrVoucherNotFound {
		t.Fatalf("expected ErrVoucherNotFound, got %v", err)
	}

	// Voucher rows are served from cache after the first read, including the
	// tombstone for 404.
	before := vouchers.calls.Load()
	svc.Seckill(ctx, 1, 101)
	svc.Seckill(ctx, 404, 102)
	if vouchers.calls.Load() != before {
		t.Fatalf("expected cached voucher reads, loader calls went from %d to %d", before, vouchers.calls.Load())
	}
	if before != 4 {
		t.Fatalf("expected 4 distinct loads, got %d", before)
	}
}
