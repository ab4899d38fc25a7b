package ratelimit

import (
	"sync"
	"time"
)

// Clock is the time source for buckets. Tests substitute a manual clock.
type Clock interface {
	Now() time.Time
}

type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// One token is stored as 1e9 nano-tokens so a rate of N tokens/sec refills
// exactly N nano-tokens per elapsed nanosecond.
const nanoPerToken int64 = int64(time.Second)

const maxInt64 = int64(^uint64(0) >> 1)

// TokenBucket refills at an integer rate in tokens/sec up to a fixed burst.
type TokenBucket struct {
	mu    sync.Mutex
	clock Clock

	burst int64 // nano-tokens
	rate  int64 // tokens/sec

	available int64 // nano-tokens
	last      time.Time
}

// NewTokenBucket returns a full bucket. A nil clock uses wall time.
func NewTokenBucket(clock Clock, burst, ratePerSecond int64) *TokenBucket {
	if clock == nil {
		clock = RealClock{}
	}
	b := &TokenBucket{
		clock: clock,
		burst: toNano(burst),
		rate:  max(ratePerSecond, 0),
		last:  clock.Now(),
	}
	b.available = b.burst
	return b
}

// Allow takes n tokens if they are available. n <= 0 always succeeds.
func (b *TokenBucket) Allow(n int64) bool {
	if n <= 0 {
		return true
	}
	cost := toNano(n)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill()
	if b.available < cost {
		return false
	}
	b.available -= cost
	return true
}

func (b *TokenBucket) refill() {
	now := b.clock.Now()
	elapsed := now.Sub(b.last).Nanoseconds()
	b.last = now
	// A clock that moved backwards only resets the reference point.
	if elapsed <= 0 || b.rate == 0 || b.available >= b.burst {
		return
	}
	missing := b.burst - b.available
	if elapsed >= missing/b.rate+1 {
		b.available = b.burst
		return
	}
	b.available += elapsed * b.rate
	if b.available > b.burst {
		b.available = b.burst
	}
}

func toNano(tokens int64) int64 {
	switch {
	case tokens <= 0:
		return 0
	case tokens > maxInt64/nanoPerToken:
		return maxInt64
	default:
		return tokens * nanoPerToken
	}
}
