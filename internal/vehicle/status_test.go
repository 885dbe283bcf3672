package vehicle

import (
	"testing"
	"time"
)

func TestCanTransitionAndApply(t *testing.T) {
	if !CanTransition(StatusAvailable, StatusSold) {
		t.Fatalf("expected available -> sold allowed")
	}
	if !CanTransition(StatusPending, StatusAvailable) {
		t.Fatalf("expected pending -> available allowed")
	}
	if CanTransition(StatusSold, StatusAvailable) {
		t.Fatalf("expected sold -> available not allowed")
	}

	v := &Vehicle{Status: StatusAvailable}
	now := time.Now()
	if err := ApplyTransition(v, StatusSold, now); err != nil {
		t.Fatalf("ApplyTransition: %v", err)
	}
	if v.Status != StatusSold {
		t.Fatalf("expected status sold, got %s", v.Status)
	}
	if v.SoldAt == nil || !v.SoldAt.Equal(now) {
		t.Fatalf("expected sold_at stamped")
	}

	// 终态不可逆
	if err := ApplyTransition(v, StatusAvailable, now); err == nil {
		t.Fatalf("expected resurrect transition to fail")
	}
}

func TestParseStatusDefaultsToAvailable(t *testing.T) {
	if got := ParseStatus("pending"); got != StatusPending {
		t.Fatalf("expected pending, got %s", got)
	}
	if got := ParseStatus("In Stock"); got != StatusAvailable {
		t.Fatalf("expected unknown value to map to available, got %s", got)
	}
}

func TestSameMaterialFields(t *testing.T) {
	v := &Vehicle{
		Price:         20000,
		Mileage:       41000,
		Trim:          "XLT",
		ExteriorColor: "BLUE",
		Status:        StatusAvailable,
		Images:        StringList{"a.jpg", "b.jpg"},
	}
	if !v.SameMaterialFields(20000, 41000, "XLT", "BLUE", StatusAvailable, []string{"a.jpg", "b.jpg"}) {
		t.Fatalf("expected identical fields to match")
	}
	if v.SameMaterialFields(19500, 41000, "XLT", "BLUE", StatusAvailable, []string{"a.jpg", "b.jpg"}) {
		t.Fatalf("expected price diff to be material")
	}
	if v.SameMaterialFields(20000, 41000, "XLT", "BLUE", StatusAvailable, []string{"b.jpg", "a.jpg"}) {
		t.Fatalf("expected image order diff to be material")
	}
}
