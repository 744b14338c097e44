package collector_test

import (
	"context"
	"testing"
	"time"

	. "github.com/NwtsN/factor-investing-system/collector"
)

func TestRateLimiter_Backoff(t *testing.T) {
	limiter := NewRateLimiter(10*time.Millisecond, 80*time.Millisecond)

	if got := limiter.Interval(); got != 10*time.Millisecond {
		t.Errorf("Interval() = %v, want 10ms", got)
	}

	wantMultipliers := []float64{2, 4, 8, 8, 8}
	for idx, want := range wantMultipliers {
		if got := limiter.Backoff(); got != want {
			t.Errorf("Backoff() call %d = %v, want %v", idx+1, got, want)
		}
	}
	if got := limiter.Interval(); got != 80*time.Millisecond {
		t.Errorf("Interval() after capped backoff = %v, want 80ms", got)
	}

	limiter.Reset()
	if got := limiter.Multiplier(); got != 1.0 {
		t.Errorf("Multiplier() after Reset = %v, want 1.0", got)
	}
	if got := limiter.Interval(); got != 10*time.Millisecond {
		t.Errorf("Interval() after Reset = %v, want 10ms", got)
	}
}

func TestRateLimiter_WaitSpacing(t *testing.T) {
	limiter := NewRateLimiter(20*time.Millisecond, 200*time.Millisecond)

	start := time.Now()
	for idx := 0; idx < 3; idx++ {
		if err := limiter.Wait(context.Background()); err != nil {
			t.Fatalf("Wait() error = %v", err)
		}
	}
	elapsed := time.Since(start)

	// First call is free, the next two must each wait a full interval.
	if elapsed < 30*time.Millisecond {
		t.Errorf("three calls completed in %v, want at least ~40ms of spacing", elapsed)
	}
}

func TestRateLimiter_WaitCancelled(t *testing.T) {
	limiter := NewRateLimiter(time.Hour, 2*time.Hour)

	if err := limiter.Wait(context.Background()); err != nil {
		t.Fatalf("first Wait() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := limiter.Wait(ctx); err == nil {
		t.Error("Wait() with cancelled context should fail")
	}
}
