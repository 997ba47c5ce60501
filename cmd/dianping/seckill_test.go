package main

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/Eklps/Dianping/internal/domain"
	"github.com/Eklps/Dianping/internal/seckill"
)

func TestDescribeOrder(t *testing.T) {
	created := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	got := describeOrder(42, &domain.VoucherOrder{
		ID: 42, UserID: 7, VoucherID: 10, Status: domain.OrderUnpaid, CreatedAt: created,
	})
	for _, want := range []string{"Order 42", "user=7", "voucher=10", "status=unpaid", "2024-03-01T10:00:00Z"} {
		if !strings.Contains(got, want) {
			t.Fatalf("expected %q in %q", want, got)
		}
	}

	if got := describeOrder(43, nil); !strings.Contains(got, "Order 43 not persisted") {
		t.Fatalf("unexpected missing-order text %q", got)
	}
}

func TestBenchResult_Record(t *testing.T) {
	res := &benchResult{outcomes: make(map[string]int)}
	res.record(nil)
	res.record(nil)
	res.record(seckill.ErrOutOfStock)
	res.record(seckill.ErrAlreadyOrdered)
	res.record(errors.New("boom"))

	if res.admitted != 2 {
		t.Fatalf("expected 2 admitted, got %d", res.admitted)
	}
	if res.outcomes["out of stock"] != 1 || res.outcomes["already ordered"] != 1 || res.outcomes["boom"] != 1 {
		t.Fatalf("unexpected outcomes %v", res.outcomes)
	}
}
