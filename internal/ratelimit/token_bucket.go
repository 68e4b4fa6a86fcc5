// Package ratelimit implements token bucket rate limiting keyed by caller.
//
// A bucket allows bursts up to its capacity and refills at a constant rate,
// so an occasional burst of reports is fine while sustained flooding is not.
package ratelimit

import (
	"sync"
	"time"
)

// TokenBucket is a thread-safe token bucket.
//
//	bucket := NewTokenBucket(5, 1) // burst of 5, one token per second
//	if !bucket.Allow() {
//	    // reject
//	}
type TokenBucket struct {
	capacity   int
	tokens     int
	refillRate int
	lastRefill time.Time
	mu         sync.Mutex
	now        func() time.Time
}

// NewTokenBucket creates a full bucket holding capacity tokens that refills
// refillRate tokens per second.
func NewTokenBucket(capacity, refillRate int) *TokenBucket {
	return newTokenBucket(capacity, refillRate, time.Now)
}

func newTokenBucket(capacity, refillRate int, now func() time.Time) *TokenBucket {
	return &TokenBucket{
		capacity:   capacity,
		tokens:     capacity,
		refillRate: refillRate,
		lastRefill: now(),
		now:        now,
	}
}

// Allow consumes one token if available.
func (tb *TokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := tb.now()
	if add := int(now.Sub(tb.lastRefill).Seconds() * float64(tb.refillRate)); add > 0 {
		tb.tokens = min(tb.capacity, tb.tokens+add)
		tb.lastRefill = now
	}

	if tb.tokens > 0 {
		tb.tokens--
		return true
	}
	return false
}

// full reports whether the bucket has refilled to capacity as of now.
func (tb *TokenBucket) full(now time.Time) bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	refill := int(now.Sub(tb.lastRefill).Seconds() * float64(tb.refillRate))
	return tb.tokens+refill >= tb.capacity
}
