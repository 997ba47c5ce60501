package store

import (
	"context"
	"fmt"
	"time"

	"github.com/Eklps/Dianping/internal/domain"
	"github.com/jackc/pgx/v5"
)

// GetSeckillVoucher loads a flash-sale voucher. A missing voucher is
// reported as (nil, nil).
func (s *PostgresStore) GetSeckillVoucher(ctx context.Context, voucherID int64) (*domain.SeckillVoucher, error) {
	var v domain.SeckillVoucher
	err := s.pool.QueryRow(ctx, `
		SELECT voucher_id, stock, begin_time, end_time, created_at, updated_at
		FROM seckill_vouchers
		WHERE voucher_id = $1
	`, voucherID).Scan(&v.VoucherID, &v.Stock, &v.BeginTime, &v.EndTime, &v.CreatedAt, &v.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get seckill voucher: %w", err)
	}
	return &v, nil
}

// SaveSeckillVoucher registers (or re-registers) a flash-sale voucher.
func (s *PostgresStore) SaveSeckillVoucher(ctx context.Context, v *domain.SeckillVoucher) error {
	now := time.Now()
	if v.CreatedAt.IsZero() {
		v.CreatedAt = now
	}
	v.UpdatedAt = now

	_, err := s.pool.Exec(ctx, `
		INSERT INTO seckill_vouchers (voucher_id, stock, begin_time, end_time, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (voucher_id) DO UPDATE SET
			stock = EXCLUDED.stock,
			begin_time = EXCLUDED.begin_time,
			end_time = EXCLUDED.end_time,
			updated_at = EXCLUDED.updated_at
	`, v.VoucherID, v.Stock, v.BeginTime, v.EndTime, v.CreatedAt, v.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save seckill voucher: %w", err)
	}
	return nil
}
