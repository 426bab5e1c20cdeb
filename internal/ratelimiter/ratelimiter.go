package ratelimiter

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter provides request rate limiting using the token bucket algorithm.
//
// This implementation wraps golang.org/x/time/rate:
//  1. Tokens are added to the bucket at a constant rate (requests per second)
//  2. Each request consumes one token from the bucket
//  3. If the bucket is empty, the request is either rejected or waits for a token
//  4. Burst capacity allows temporary spikes above the sustained rate
//
// Thread safety:
// All methods are safe for concurrent use.
type RateLimiter struct {
	limiter *rate.Limiter
}

// New creates a new RateLimiter with the specified rate and burst capacity.
//
// Parameters:
//   - requestsPerSecond: Maximum sustained rate (tokens added per second)
//   - burst: Maximum burst size (bucket capacity in tokens)
//
// Special cases:
//   - requestsPerSecond <= 0: No rate limiting (unlimited)
//   - burst < 1 with a finite rate: a burst of 1, so requests can ever pass
func New(requestsPerSecond float64, burst int) *RateLimiter {
	return &RateLimiter{limiter: newLimiter(requestsPerSecond, burst)}
}

func newLimiter(requestsPerSecond float64, burst int) *rate.Limiter {
	if requestsPerSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(requestsPerSecond), burst)
}

// Allow reports whether a request may proceed now, consuming a token if so.
func (r *RateLimiter) Allow() bool {
	return r.limiter.Allow()
}

// Wait blocks until a token is available or the context is cancelled.
func (r *RateLimiter) Wait(ctx context.Context) error {
	return r.limiter.Wait(ctx)
}

// RetryAfter returns how long until the next token is available, without
// consuming it.
func (r *RateLimiter) RetryAfter() time.Duration {
	return retryAfter(r.limiter)
}

// Unlimited reports whether the limiter never rejects.
func (r *RateLimiter) Unlimited() bool {
	return r.limiter.Limit() == rate.Inf
}

// Tokens returns the current number of available tokens.
func (r *RateLimiter) Tokens() float64 {
	return r.limiter.Tokens()
}

func retryAfter(l *rate.Limiter) time.Duration {
	res := l.Reserve()
	defer res.Cancel()
	if !res.OK() {
		return time.Second
	}
	return res.Delay()
}

// ============================================================================
// Per-key limiting
// ============================================================================

// KeyedRateLimiter keeps one token bucket per key (typically the client
// address). Buckets idle for longer than the idle timeout are dropped.
//
// Thread safety:
// All methods are safe for concurrent use.
type KeyedRateLimiter struct {
	mu                sync.Mutex
	buckets           map[string]*bucket
	requestsPerSecond float64
	burst             int
	idle              time.Duration
	lastSweep         time.Time
	now               func() time.Time
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewKeyed creates a per-key limiter. idle <= 0 defaults to 10 minutes.
func NewKeyed(requestsPerSecond float64, burst int, idle time.Duration) *KeyedRateLimiter {
	if idle <= 0 {
		idle = 10 * time.Minute
	}
	return &KeyedRateLimiter{
		buckets:           make(map[string]*bucket),
		requestsPerSecond: requestsPerSecond,
		burst:             burst,
		idle:              idle,
		now:               time.Now,
	}
}

// Allow reports whether a request for key may proceed now.
func (k *KeyedRateLimiter) Allow(key string) bool {
	return k.get(key).Allow()
}

// RetryAfter returns how long until key's next token is available.
func (k *KeyedRateLimiter) RetryAfter(key string) time.Duration {
	return retryAfter(k.get(key))
}

// Len returns the number of tracked keys.
func (k *KeyedRateLimiter) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.buckets)
}

func (k *KeyedRateLimiter) get(key string) *rate.Limiter {
	k.mu.Lock()
	defer k.mu.Unlock()

	now := k.now()
	if now.Sub(k.lastSweep) >= k.idle {
		for name, b := range k.buckets {
			if now.Sub(b.lastSeen) >= k.idle {
				delete(k.buckets, name)
			}
		}
		k.lastSweep = now
	}

	b, ok := k.buckets[key]
	if !ok {
		b = &bucket{limiter: newLimiter(k.requestsPerSecond, k.burst)}
		k.buckets[key] = b
	}
	b.lastSeen = now
	return b.limiter
}
