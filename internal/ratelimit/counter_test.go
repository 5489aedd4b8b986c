package ratelimit

import (
	"testing"
	"time"
)

func TestCounterSuppressesWithinInterval(t *testing.T) {
	c := NewCounter(time.Hour)
	if skipped, ok := c.Inc(); !ok || skipped != 0 {
		t.Fatalf("first call should log, got ok=%v skipped=%d", ok, skipped)
	}
	for i := 0; i < 3; i++ {
		if _, ok := c.Inc(); ok {
			t.Fatalf("call %d inside interval should be suppressed", i+2)
		}
	}
	if c.Total() != 4 {
		t.Fatalf("expected total 4, got %d", c.Total())
	}

	c.lastLog.Store(time.Now().Add(-2 * time.Hour).UnixNano())
	if skipped, ok := c.Inc(); !ok || skipped != 3 {
		t.Fatalf("expected log with 3 skipped, got ok=%v skipped=%d", ok, skipped)
	}
}

func TestCounterWithoutIntervalAlwaysLogs(t *testing.T) {
	c := NewCounter(0)
	for i := 0; i < 3; i++ {
		if skipped, ok := c.Inc(); !ok || skipped != 0 {
			t.Fatalf("expected every call to log, got ok=%v skipped=%d", ok, skipped)
		}
	}
	var nilCounter *Counter
	if _, ok := nilCounter.Inc(); !ok {
		t.Fatalf("nil counter should not suppress")
	}
}
