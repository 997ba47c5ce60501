package seckill

import (
	"context"
	"time"

	"github.com/Eklps/Dianping/internal/cache"
	"github.com/Eklps/Dianping/internal/domain"
)

// VoucherKeyPrefix is the cache key prefix for seckill voucher rows.
const VoucherKeyPrefix = "cache:seckill-voucher:"

// VoucherStore loads seckill vouchers from the relational store. A missing
// voucher is (nil, nil).
type VoucherStore interface {
	GetSeckillVoucher(ctx context.Context, voucherID int64) (*domain.SeckillVoucher, error)
}

// Service is the request-facing seckill entry point. It checks the sale
// window from the cached voucher before running admission.
type Service struct {
	engine     *cache.Client
	vouchers   VoucherStore
	admission  *Admission
	voucherTTL time.Duration
	now        func() time.Time
}

// NewService creates a seckill service.
func NewService(engine *cache.Client, vouchers VoucherStore, admission *Admission, voucherTTL time.Duration) *Service {
	if voucherTTL <= 0 {
		voucherTTL = 10 * time.Minute
	}
	return &Service{
		engine:     engine,
		vouchers:   vouchers,
		admission:  admission,
		voucherTTL: voucherTTL,
		now:        time.Now,
	}
}

// Seckill validates the sale window and submits the order.
func (s *Service) Seckill(ctx context.Context, voucherID, userID int64) (int64, error) {
	voucher, err := cache.QueryWithPassThrough(ctx, s.engine, VoucherKeyPrefix, voucherID, s.vouchers.GetSeckillVoucher, s.voucherTTL)
	if err != nil {
		return 0, err
	}
	if voucher == nil {
		return 0, ErrVoucherNotFound
	}
	now := s.now()
	if !voucher.Started(now) {
		return 0, ErrNotStarted
	}
	if voucher.Ended(now) {
		return 0, ErrEnded
	}
	return s.admission.Submit(ctx, voucherID, userID)
}
