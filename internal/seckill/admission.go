// Package seckill implements flash-sale admission and the order consumer.
//
// Admission decides in one Redis script whether a user gets a unit of stock
// and, if so, appends the order to a stream. The consumer drains that stream
// into the relational store at its own pace.
package seckill

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/Eklps/Dianping/internal/metrics"
	"github.com/Eklps/Dianping/internal/observability"
)

// admissionScript checks stock and membership, then appends the order
// message, decrements stock and records the user. The append runs first so
// a failure aborts the script before any write.
//
// KEYS[1] stock counter, KEYS[2] admitted-user set, KEYS[3] order stream
// ARGV[1] user id, ARGV[2] voucher id, ARGV[3] order id, ARGV[4..] extra
// field/value pairs for the stream entry
var admissionScript = redis.NewScript(`
local stock = tonumber(redis.call('GET', KEYS[1]))
if stock == nil or stock <= 0 then
	return 1
end
if redis.call('SISMEMBER', KEYS[2], ARGV[1]) == 1 then
	return 2
end
redis.call('XADD', KEYS[3], '*', 'userId', ARGV[1], 'voucherId', ARGV[2], 'id', ARGV[3], unpack(ARGV, 4))
redis.call('DECR', KEYS[1])
redis.call('SADD', KEYS[2], ARGV[1])
return 0
`)

const (
	admitOK             = 0
	admitOutOfStock     = 1
	admitAlreadyOrdered = 2
)

// IDGenerator issues order IDs.
type IDGenerator interface {
	NextID(ctx context.Context, prefix string) (int64, error)
}

// AdmissionConfig names the stream and ID prefix used by admission.
type AdmissionConfig struct {
	Stream      string
	OrderPrefix string
}

// Admission runs the atomic admission step.
type Admission struct {
	client redis.Cmdable
	ids    IDGenerator
	cfg    AdmissionConfig
}

// NewAdmission creates an admission pipeline.
func NewAdmission(client redis.Cmdable, ids IDGenerator, cfg AdmissionConfig) *Admission {
	if cfg.Stream == "" {
		cfg.Stream = "stream.orders"
	}
	if cfg.OrderPrefix == "" {
		cfg.OrderPrefix = "order"
	}
	return &Admission{client: client, ids: ids, cfg: cfg}
}

// Submit admits userID for voucherID and returns the order ID. The order is
// only queued here; the consumer persists it later. Rejections are
// ErrOutOfStock and ErrAlreadyOrdered. Any other failure is ErrUnavailable
// and leaves stock, membership and stream untouched.
func (a *Admission) Submit(ctx context.Context, voucherID, userID int64) (orderID int64, err error) {
	start := time.Now()
	ctx, span := observability.StartSpan(ctx, "seckill.admission",
		observability.AttrVoucherID.Int64(voucherID),
		observability.AttrUserID.Int64(userID),
	)
	defer func() {
		result := "ok"
		switch {
		case err == nil:
			observability.SetSpanOK(span)
		case err == ErrOutOfStock:
			result = "out_of_stock"
		case err == ErrAlreadyOrdered:
			result = "already_ordered"
		default:
			result = "error"
			observability.SetSpanError(span, err)
		}
		metrics.RecordAdmission(result, time.Since(start))
		span.End()
	}()

	orderID, err = a.ids.NextID(ctx, a.cfg.OrderPrefix)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	span.SetAttributes(observability.AttrOrderID.Int64(orderID))

	keys := []string{StockKey(voucherID), OrderSetKey(voucherID), a.cfg.Stream}
	args := []interface{}{
		strconv.FormatInt(userID, 10),
		strconv.FormatInt(voucherID, 10),
		strconv.FormatInt(orderID, 10),
	}
	args = append(args, traceArgs(ctx)...)

	code, err := admissionScript.Run(ctx, a.client, keys, args...).Int()
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	switch code {
	case admitOK:
		return orderID, nil
	case admitOutOfStock:
		return 0, ErrOutOfStock
	case admitAlreadyOrdered:
		return 0, ErrAlreadyOrdered
	default:
		return 0, fmt.Errorf("%w: unexpected script result %d", ErrUnavailable, code)
	}
}

// traceArgs flattens the trace context into field/value pairs so the
// consumer can continue the trace.
func traceArgs(ctx context.Context) []interface{} {
	fields := make(map[string]interface{})
	observability.InjectFields(ctx, fields)
	if len(fields) == 0 {
		return nil
	}
	names := make([]string, 0, len(fields))
	for k := range fields {
		names = append(names, k)
	}
	sort.Strings(names)
	out := make([]interface{}, 0, 2*len(names))
	for _, k := range names {
		out = append(out, k, fields[k])
	}
	return out
}
