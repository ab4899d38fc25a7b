package ratelimit

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestTokenBucketAllowAndRefill(t *testing.T) {
	clk := &fakeClock{now: time.Unix(0, 0)}
	b := NewTokenBucket(clk, 5, 5)

	assert.True(t, b.Allow(5), "initial burst")
	assert.False(t, b.Allow(1), "bucket empty")

	clk.Advance(200 * time.Millisecond)
	assert.True(t, b.Allow(1), "one token refilled")
	assert.False(t, b.Allow(1))
}

func TestTokenBucketClampsToBurst(t *testing.T) {
	clk := &fakeClock{now: time.Unix(0, 0)}
	b := NewTokenBucket(clk, 1, 1)

	assert.True(t, b.Allow(1))
	clk.Advance(10 * time.Second)
	assert.True(t, b.Allow(1))
	assert.False(t, b.Allow(1))
}

func TestTokenBucketPartialRefill(t *testing.T) {
	clk := &fakeClock{now: time.Unix(0, 0)}
	b := NewTokenBucket(clk, 10, 10)
	assert.True(t, b.Allow(10))

	clk.Advance(150 * time.Millisecond)
	assert.True(t, b.Allow(1))
	assert.False(t, b.Allow(1), "only 1.5 tokens refilled")

	clk.Advance(50 * time.Millisecond)
	assert.True(t, b.Allow(1))
}

func TestTokenBucketClockBackwards(t *testing.T) {
	clk := &fakeClock{now: time.Unix(100, 0)}
	b := NewTokenBucket(clk, 1, 1)
	assert.True(t, b.Allow(1))

	clk.Advance(-time.Hour)
	assert.False(t, b.Allow(1))
	clk.Advance(time.Second)
	assert.True(t, b.Allow(1))
}

func TestTokenBucketEdgeCases(t *testing.T) {
	clk := &fakeClock{now: time.Unix(0, 0)}
	assert.True(t, NewTokenBucket(clk, 0, 0).Allow(0))
	assert.False(t, NewTokenBucket(clk, 0, 10).Allow(1))

	b := NewTokenBucket(clk, 1, 0)
	assert.True(t, b.Allow(1))
	clk.Advance(time.Hour)
	assert.False(t, b.Allow(1), "zero rate never refills")

	huge := NewTokenBucket(clk, maxInt64, maxInt64)
	assert.True(t, huge.Allow(maxInt64))
}

func TestMessageLimiter(t *testing.T) {
	clk := &fakeClock{now: time.Unix(0, 0)}
	l := NewMessageLimiter(clk, 3)
	for i := 0; i < 3; i++ {
		assert.True(t, l.Allow(), "message %d", i)
	}
	assert.False(t, l.Allow())

	clk.Advance(time.Second)
	assert.True(t, l.Allow())
}
