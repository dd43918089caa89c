package server

import (
	"testing"
	"time"
)

// TestRateLimiterBurst tests that the bucket allows exactly its capacity
// before throttling.
func TestRateLimiterBurst(t *testing.T) {
	rl := newRateLimiter(3, time.Minute)

	for i := 0; i < 3; i++ {
		if !rl.allow() {
			t.Fatalf("Message %d denied within burst capacity", i+1)
		}
	}
	if rl.allow() {
		t.Error("Message allowed beyond burst capacity")
	}
}

// TestRateLimiterRefill tests that tokens come back over time.
func TestRateLimiterRefill(t *testing.T) {
	rl := newRateLimiter(2, 100*time.Millisecond)

	rl.allow()
	rl.allow()
	if rl.allow() {
		t.Fatal("Bucket should be empty")
	}

	time.Sleep(150 * time.Millisecond)
	if !rl.allow() {
		t.Error("Bucket did not refill after the interval")
	}
}

// TestRateLimiterDefensiveDefaults tests construction with nonsense inputs.
func TestRateLimiterDefensiveDefaults(t *testing.T) {
	rl := newRateLimiter(0, 0)
	if !rl.allow() {
		t.Error("Limiter with corrected defaults denied the first message")
	}
}
