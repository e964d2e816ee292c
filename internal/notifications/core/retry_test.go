package core

import (
	"testing"
	"time"

	"hookrouter/internal/types"
)

func TestCalculateNextRetry_DefaultPolicy(t *testing.T) {
	// DefaultRetryPolicy: initial 1s, multiplier 2, max 30s
	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{0, 1 * time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{4, 16 * time.Second},
		{5, 30 * time.Second}, // 32s, capped
		{40, 30 * time.Second},
	}

	for _, tt := range tests {
		d := CalculateNextRetry(types.DefaultRetryPolicy, tt.attempt)
		if d != tt.expected {
			t.Errorf("attempt %d: expected %v, got %v", tt.attempt, tt.expected, d)
		}
	}
}

func TestCalculateNextRetry_NegativeAttempt(t *testing.T) {
	if d := CalculateNextRetry(types.DefaultRetryPolicy, -3); d != time.Second {
		t.Errorf("expected 1s for negative attempt, got %v", d)
	}
}

func TestCalculateNextRetry_FlatMultiplier(t *testing.T) {
	p := types.RetryPolicy{MaxAttempts: 5, BackoffMultiplier: 0, InitialDelayMs: 250, MaxDelayMs: 1000}
	for attempt := 0; attempt < 4; attempt++ {
		if d := CalculateNextRetry(p, attempt); d != 250*time.Millisecond {
			t.Errorf("attempt %d: expected 250ms, got %v", attempt, d)
		}
	}
}

func TestShouldRetry(t *testing.T) {
	p := types.RetryPolicy{MaxAttempts: 3}
	if !ShouldRetry(p, 1) || !ShouldRetry(p, 2) {
		t.Error("attempts 1 and 2 should be retried")
	}
	if ShouldRetry(p, 3) {
		t.Error("the third attempt is the last one")
	}
}
