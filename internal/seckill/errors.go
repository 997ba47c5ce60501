package seckill

import "errors"

// Admission rejections. ErrOutOfStock and ErrAlreadyOrdered are final for the
// request; ErrUnavailable is transient and wraps the store failure.
var (
	ErrOutOfStock      = errors.New("seckill: out of stock")
	ErrAlreadyOrdered  = errors.New("seckill: user already ordered this voucher")
	ErrUnavailable     = errors.New("seckill: admission unavailable")
	ErrVoucherNotFound = errors.New("seckill: voucher not found")
	ErrNotStarted      = errors.New("seckill: sale has not started")
	ErrEnded           = errors.New("seckill: sale has ended")
)
