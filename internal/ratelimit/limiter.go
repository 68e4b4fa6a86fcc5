package ratelimit

import (
	"sync"
	"time"
)

// Config holds the configuration for rate limiting.
type Config struct {
	Capacity   int  // burst allowance per key
	RefillRate int  // tokens added per second
	Enabled    bool // false lets every call through
}

// KeyedLimiter keeps one token bucket per key, created lazily on first use.
type KeyedLimiter struct {
	buckets map[string]*TokenBucket
	mu      sync.RWMutex
	config  Config
	now     func() time.Time
}

// NewKeyedLimiter creates a limiter with the given configuration.
func NewKeyedLimiter(config Config) *KeyedLimiter {
	return &KeyedLimiter{
		buckets: make(map[string]*TokenBucket),
		config:  config,
		now:     time.Now,
	}
}

// Allow reports whether a call for key may proceed. It always returns true
// when the limiter is disabled or nil.
func (l *KeyedLimiter) Allow(key string) bool {
	if l == nil || !l.config.Enabled {
		return true
	}

	l.mu.RLock()
	bucket, ok := l.buckets[key]
	l.mu.RUnlock()

	if !ok {
		l.mu.Lock()
		bucket, ok = l.buckets[key]
		if !ok {
			bucket = newTokenBucket(l.config.Capacity, l.config.RefillRate, l.now)
			l.buckets[key] = bucket
		}
		l.mu.Unlock()
	}
	return bucket.Allow()
}

// Prune drops buckets that have fully refilled, bounding memory for
// callers that have gone quiet. It returns the number of buckets removed.
func (l *KeyedLimiter) Prune() int {
	if l == nil {
		return 0
	}
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	removed := 0
	for key, b := range l.buckets {
		if b.full(now) {
			delete(l.buckets, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked keys.
func (l *KeyedLimiter) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.buckets)
}
