package store

import (
	"context"
	"fmt"
	"time"

	"github.com/Eklps/Dianping/internal/domain"
	"github.com/jackc/pgx/v5"
)

// SaveVoucherOrder persists an admitted order and decrements the
// authoritative stock in one transaction. It is idempotent: a redelivered
// order (same id, or same user/voucher pair) inserts nothing and leaves the
// stock untouched. The returned bool reports whether a row was written.
func (s *PostgresStore) SaveVoucherOrder(ctx context.Context, o *domain.VoucherOrder) (bool, error) {
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now()
	}
	if o.Status == 0 {
		o.Status = domain.OrderUnpaid
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, fmt.Errorf("begin order tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		INSERT INTO voucher_orders (id, user_id, voucher_id, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT DO NOTHING
	`, o.ID, o.UserID, o.VoucherID, int(o.Status), o.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("insert voucher order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	if _, err := tx.Exec(ctx, `
		UPDATE seckill_vouchers
		SET stock = stock - 1, updated_at = NOW()
		WHERE voucher_id = $1 AND stock > 0
	`, o.VoucherID); err != nil {
		return false, fmt.Errorf("decrement voucher stock: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit order tx: %w", err)
	}
	return true, nil
}

// GetVoucherOrder loads an order by id. A missing order is (nil, nil).
func (s *PostgresStore) GetVoucherOrder(ctx context.Context, id int64) (*domain.VoucherOrder, error) {
	var (
		o      domain.VoucherOrder
		status int
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, user_id, voucher_id, status, created_at
		FROM voucher_orders
		WHERE id = $1
	`, id).Scan(&o.ID, &o.UserID, &o.VoucherID, &status, &o.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get voucher order: %w", err)
	}
	o.Status = domain.OrderStatus(status)
	return &o, nil
}

// CountVoucherOrders returns the number of persisted orders for a voucher.
func (s *PostgresStore) CountVoucherOrders(ctx context.Context, voucherID int64) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM voucher_orders WHERE voucher_id = $1`, voucherID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count voucher orders: %w", err)
	}
	return n, nil
}
