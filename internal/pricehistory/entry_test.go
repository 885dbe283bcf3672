package pricehistory

import (
	"testing"
	"time"
)

func TestNewEntryMath(t *testing.T) {
	now := time.Now()
	e := NewEntry("v-1", 21500, 20000, "ftp:reliable-dms", now)

	if e.ChangeAmount != 1500 {
		t.Fatalf("expected change_amount 1500, got %d", e.ChangeAmount)
	}
	if e.ChangePercent != 6.98 {
		t.Fatalf("expected change_percent 6.98, got %v", e.ChangePercent)
	}
	if !e.IsDrop() {
		t.Fatalf("expected price drop")
	}
	// old = new + amount 恒等式
	if e.NewPrice+e.ChangeAmount != e.OldPrice {
		t.Fatalf("amount identity violated: %d + %d != %d", e.NewPrice, e.ChangeAmount, e.OldPrice)
	}
}

func TestNewEntryIncrease(t *testing.T) {
	e := NewEntry("v-1", 18000, 18900, "csv:upload", time.Now())
	if e.ChangeAmount != -900 {
		t.Fatalf("expected change_amount -900, got %d", e.ChangeAmount)
	}
	if e.IsDrop() {
		t.Fatalf("price increase must not be a drop")
	}
	if e.ChangePercent != -5.0 {
		t.Fatalf("expected change_percent -5.0, got %v", e.ChangePercent)
	}
}

func TestNewEntryZeroOldPrice(t *testing.T) {
	// 旧价为 0 时不做除法，百分比记 0
	e := NewEntry("v-1", 0, 5000, "api:dms", time.Now())
	if e.ChangePercent != 0 {
		t.Fatalf("expected change_percent 0 for zero old price, got %v", e.ChangePercent)
	}
}
