package invoice

import (
	"testing"
	"time"
)

func TestAllocateUsesMinuteGranularity(t *testing.T) {
	alloc := NewAllocator(time.UTC)

	at := time.Date(2026, 3, 7, 14, 5, 59, 0, time.UTC)
	if got := alloc.Allocate(at); got != "202603071405" {
		t.Fatalf("expected 202603071405, got %s", got)
	}

	// Seconds never influence the id, so a whole cart shares one invoice.
	later := at.Add(30 * time.Second)
	if alloc.Allocate(at) != alloc.Allocate(later) {
		t.Fatalf("expected same invoice id within one minute")
	}
}

func TestAllocateConvertsToLocation(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Baghdad")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	alloc := NewAllocator(loc)

	// 21:00 UTC is 00:00 next day in Baghdad (UTC+3).
	at := time.Date(2026, 3, 7, 21, 0, 0, 0, time.UTC)
	if got := alloc.Allocate(at); got != "202603080000" {
		t.Fatalf("expected 202603080000, got %s", got)
	}
}

func TestNilLocationFallsBackToUTC(t *testing.T) {
	alloc := NewAllocator(nil)
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	if got := alloc.Allocate(at); got != "202601020304" {
		t.Fatalf("expected 202601020304, got %s", got)
	}
}
