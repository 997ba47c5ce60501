package seckill

import (
	"fmt"
	"strconv"

	"github.com/Eklps/Dianping/internal/domain"
	"github.com/Eklps/Dianping/internal/idgen"
	"github.com/Eklps/Dianping/internal/queue"
)

// Stream entry field names.
const (
	fieldUserID    = "userId"
	fieldVoucherID = "voucherId"
	fieldOrderID   = "id"
)

// decodeOrder turns a pending order message into the order to persist. The
// creation time is the second encoded in the order ID, so every redelivery
// of the same message produces an identical row.
func decodeOrder(msg queue.Message) (*domain.VoucherOrder, error) {
	userID, err := int64Field(msg, fieldUserID)
	if err != nil {
		return nil, err
	}
	voucherID, err := int64Field(msg, fieldVoucherID)
	if err != nil {
		return nil, err
	}
	orderID, err := int64Field(msg, fieldOrderID)
	if err != nil {
		return nil, err
	}
	return &domain.VoucherOrder{
		ID:        orderID,
		UserID:    userID,
		VoucherID: voucherID,
		Status:    domain.OrderUnpaid,
		CreatedAt: idgen.Timestamp(orderID),
	}, nil
}

func int64Field(msg queue.Message, name string) (int64, error) {
	raw, ok := msg.Fields[name]
	if !ok {
		return 0, fmt.Errorf("message %s: missing field %q", msg.ID, name)
	}
	s, ok := raw.(string)
	if !ok {
		return 0, fmt.Errorf("message %s: field %q has type %T", msg.ID, name, raw)
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("message %s: field %q: %w", msg.ID, name, err)
	}
	return v, nil
}
