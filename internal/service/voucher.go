package service

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/Eklps/Dianping/internal/cache"
	"github.com/Eklps/Dianping/internal/domain"
	"github.com/Eklps/Dianping/internal/seckill"
)

// SeckillVoucherStore persists seckill vouchers.
type SeckillVoucherStore interface {
	SaveSeckillVoucher(ctx context.Context, v *domain.SeckillVoucher) error
}

// VoucherService registers flash-sale vouchers.
type VoucherService struct {
	client   redis.Cmdable
	engine   *cache.Client
	vouchers SeckillVoucherStore
}

// NewVoucherService creates a voucher service.
func NewVoucherService(client redis.Cmdable, engine *cache.Client, vouchers SeckillVoucherStore) *VoucherService {
	return &VoucherService{client: client, engine: engine, vouchers: vouchers}
}

// AddSeckillVoucher stores the voucher and seeds the admission stock counter
// with its stock. The cached voucher row is dropped so the new sale window
// is visible to the next request.
func (s *VoucherService) AddSeckillVoucher(ctx context.Context, v *domain.SeckillVoucher) error {
	if err := v.Validate(); err != nil {
		return fmt.Errorf("invalid voucher: %w", err)
	}
	if err := s.vouchers.SaveSeckillVoucher(ctx, v); err != nil {
		return fmt.Errorf("save voucher %d: %w", v.VoucherID, err)
	}
	if err := s.client.Set(ctx, seckill.StockKey(v.VoucherID), v.Stock, 0).Err(); err != nil {
		return fmt.Errorf("seed stock for voucher %d: %w", v.VoucherID, err)
	}
	return s.engine.Delete(ctx, cache.Key(seckill.VoucherKeyPrefix, v.VoucherID))
}
