package ratelimit

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func TestTokenBucket_Allow(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	bucket := newTokenBucket(5, 1, clock.Now)

	for i := 0; i < 5; i++ {
		assert.True(t, bucket.Allow(), "request %d", i+1)
	}
	assert.False(t, bucket.Allow(), "6th request must be blocked")

	clock.Advance(2 * time.Second)
	assert.True(t, bucket.Allow())
	assert.True(t, bucket.Allow())
	assert.False(t, bucket.Allow())
}

func TestKeyedLimiter_PerKey(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	l := NewKeyedLimiter(Config{Capacity: 2, RefillRate: 1, Enabled: true})
	l.now = clock.Now

	assert.True(t, l.Allow("alice"))
	assert.True(t, l.Allow("alice"))
	assert.False(t, l.Allow("alice"))
	assert.True(t, l.Allow("bob"), "buckets are independent")
	assert.Equal(t, 2, l.Len())

	clock.Advance(10 * time.Second)
	assert.Equal(t, 2, l.Prune())
	assert.Equal(t, 0, l.Len())
	assert.True(t, l.Allow("alice"))
}

func TestKeyedLimiter_Disabled(t *testing.T) {
	l := NewKeyedLimiter(Config{Capacity: 1, RefillRate: 1, Enabled: false})
	for i := 0; i < 10; i++ {
		assert.True(t, l.Allow("alice"))
	}

	var nilLimiter *KeyedLimiter
	assert.True(t, nilLimiter.Allow("alice"))
}
