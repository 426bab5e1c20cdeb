package ratelimiter

import (
	"context"
	"testing"
	"time"
)

// TestNew verifies rate limiter creation with different parameters.
func TestNew(t *testing.T) {
	tests := []struct {
		name              string
		requestsPerSecond float64
		burst             int
		unlimited         bool
	}{
		{name: "standard rate", requestsPerSecond: 100, burst: 200},
		{name: "fractional rate", requestsPerSecond: 0.5, burst: 1},
		{name: "zero burst", requestsPerSecond: 10, burst: 0},
		{name: "unlimited (zero rate)", requestsPerSecond: 0, burst: 0, unlimited: true},
		{name: "unlimited (negative rate)", requestsPerSecond: -1, burst: 5, unlimited: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limiter := New(tt.requestsPerSecond, tt.burst)
			if limiter.Unlimited() != tt.unlimited {
				t.Fatalf("Unlimited() = %v, want %v", limiter.Unlimited(), tt.unlimited)
			}
			if !limiter.Allow() {
				t.Fatal("first request should always be allowed")
			}
		})
	}
}

// TestAllow verifies that Allow() correctly enforces rate limits.
func TestAllow(t *testing.T) {
	limiter := New(10, 10)

	for i := 0; i < 10; i++ {
		if !limiter.Allow() {
			t.Fatalf("request %d should be allowed (within burst)", i)
		}
	}

	if limiter.Allow() {
		t.Fatal("request beyond burst should be rejected")
	}
	if d := limiter.RetryAfter(); d <= 0 || d > 200*time.Millisecond {
		t.Fatalf("RetryAfter() = %v, want about 100ms", d)
	}

	// Checking RetryAfter must not consume the next token.
	time.Sleep(150 * time.Millisecond)
	if !limiter.Allow() {
		t.Fatal("request should be allowed after refill")
	}
}

// TestWaitContextCancellation verifies that Wait respects its context.
func TestWaitContextCancellation(t *testing.T) {
	limiter := New(0.1, 1)
	if !limiter.Allow() {
		t.Fatal("first request should be allowed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := limiter.Wait(ctx); err == nil {
		t.Fatal("Wait should fail when the next token is 10s away")
	}
}

func TestUnlimitedRate(t *testing.T) {
	limiter := New(0, 0)
	for i := 0; i < 10000; i++ {
		if !limiter.Allow() {
			t.Fatalf("request %d should be allowed with unlimited rate", i)
		}
	}
	if d := limiter.RetryAfter(); d != 0 {
		t.Fatalf("RetryAfter() = %v, want 0", d)
	}
}

func TestKeyed_IndependentBuckets(t *testing.T) {
	k := NewKeyed(1, 2, time.Minute)

	for i := 0; i < 2; i++ {
		if !k.Allow("a") {
			t.Fatalf("request %d for a should be allowed", i)
		}
	}
	if k.Allow("a") {
		t.Fatal("a should be limited")
	}
	if !k.Allow("b") {
		t.Fatal("b has its own bucket")
	}
	if k.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", k.Len())
	}
}

func TestKeyed_DropsIdleBuckets(t *testing.T) {
	k := NewKeyed(1, 1, time.Minute)
	now := time.Unix(1000, 0)
	k.now = func() time.Time { return now }

	k.Allow("a")
	k.Allow("b")

	now = now.Add(2 * time.Minute)
	k.Allow("c")

	if k.Len() != 1 {
		t.Fatalf("Len() = %d, want 1 after idle sweep", k.Len())
	}
}

func BenchmarkAllow(b *testing.B) {
	limiter := New(0, 0)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		limiter.Allow()
	}
}

func BenchmarkKeyedAllowParallel(b *testing.B) {
	k := NewKeyed(1_000_000, 1_000_000, time.Minute)
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			k.Allow("client")
		}
	})
}
