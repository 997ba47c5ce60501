package domain

import (
	"fmt"
	"time"
)

// SeckillVoucher is a limited-inventory voucher sold in a flash sale.
// Stock here is the authoritative count; the admission script works on a
// mirrored counter in Redis.
type SeckillVoucher struct {
	VoucherID int64     `json:"voucher_id"`
	Stock     int       `json:"stock"`
	BeginTime time.Time `json:"begin_time"`
	EndTime   time.Time `json:"end_time"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks the voucher fields before it is registered.
func (v *SeckillVoucher) Validate() error {
	if v.VoucherID <= 0 {
		return fmt.Errorf("voucher id must be positive")
	}
	if v.Stock < 0 {
		return fmt.Errorf("stock must not be negative")
	}
	if !v.EndTime.After(v.BeginTime) {
		return fmt.Errorf("end time must be after begin time")
	}
	return nil
}

// Started reports whether the sale window has opened at now.
func (v *SeckillVoucher) Started(now time.Time) bool {
	return !now.Before(v.BeginTime)
}

// Ended reports whether the sale window has closed at now.
func (v *SeckillVoucher) Ended(now time.Time) bool {
	return now.After(v.EndTime)
}
