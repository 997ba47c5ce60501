package domain

import (
	"testing"
	"time"
)

func TestSeckillVoucher_Window(t *testing.T) {
	begin := time.Date(2026, 10, 17, 10, 0, 0, 0, time.UTC)
	v := &SeckillVoucher{VoucherID: 1, Stock: 10, BeginTime: begin, EndTime: begin.Add(time.Hour)}

	tests := []struct {
		name    string
		now     time.Time
		started bool
		ended   bool
	}{
		{"before", begin.Add(-time.Second), false, false},
		{"at begin", begin, true, false},
		{"during", begin.Add(30 * time.Minute), true, false},
		{"at end", begin.Add(time.Hour), true, false},
		{"after", begin.Add(time.Hour + time.Second), true, true},
	}
	for _, tt := range tests {
		if got := v.Started(tt.now); got != tt.started {
			t.Fatalf("%s: Started = %v, want %v", tt.name, got, tt.started)
		}
		if got := v.Ended(tt.now); got != tt.ended {
			t.Fatalf("%s: Ended = %v, want %v", tt.name, got, tt.ended)
		}
	}
}

func TestSeckillVoucher_Validate(t *testing.T) {
	now := time.Now()
	valid := SeckillVoucher{VoucherID: 7, Stock: 100, BeginTime: now, EndTime: now.Add(time.Hour)}
	if err := valid.Validate(); err != nil {
		t.Fatalf("expected valid voucher, got %v", err)
	}

	bad := []SeckillVoucher{
		{VoucherID: 0, Stock: 1, BeginTime: now, EndTime: now.Add(time.Hour)},
		{VoucherID: 1, Stock: -1, BeginTime: now, EndTime: now.Add(time.Hour)},
		{VoucherID: 1, Stock: 1, BeginTime: now, EndTime: now},
	}
	for i, v := range bad {
		if err := v.Validate(); err == nil {
			t.Fatalf("case %d: expected validation error", i)
		}
	}
}

func TestOrderStatus_String(t *testing.T) {
	if OrderUnpaid.String() != "unpaid" || OrderRefunded.String() != "refunded" {
		t.Fatal("unexpected status names")
	}
	if OrderStatus(42).String() != "unknown" {
		t.Fatal("expected unknown for out-of-range status")
	}
}
