package seckill

import "strconv"

const (
	stockKeyPrefix = "seckill:stock:"
	orderKeyPrefix = "seckill:order:"
)

// StockKey is the Redis counter holding the admissible stock of a voucher.
func StockKey(voucherID int64) string {
	return stockKeyPrefix + strconv.FormatInt(voucherID, 10)
}

// OrderSetKey is the Redis set of user IDs admitted for a voucher.
func OrderSetKey(voucherID int64) string {
	return orderKeyPrefix + strconv.FormatInt(voucherID, 10)
}
