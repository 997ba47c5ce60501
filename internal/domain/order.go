package domain

import "time"

// OrderStatus mirrors the voucher order lifecycle.
type OrderStatus int

const (
	OrderUnpaid OrderStatus = iota + 1
	OrderPaid
	OrderVerified
	OrderCancelled
	OrderRefunding
	OrderRefunded
)

func (s OrderStatus) String() string {
	switch s {
	case OrderUnpaid:
		return "unpaid"
	case OrderPaid:
		return "paid"
	case OrderVerified:
		return "verified"
	case OrderCancelled:
		return "cancelled"
	case OrderRefunding:
		return "refunding"
	case OrderRefunded:
		return "refunded"
	default:
		return "unknown"
	}
}

// VoucherOrder is an admitted flash-sale order. ID is produced by the
// distributed ID generator before admission and is the idempotency key for
// persistence.
type VoucherOrder struct {
	ID        int64       `json:"id"`
	UserID    int64       `json:"user_id"`
	VoucherID int64       `json:"voucher_id"`
	Status    OrderStatus `json:"status"`
	CreatedAt time.Time   `json:"created_at"`
}
