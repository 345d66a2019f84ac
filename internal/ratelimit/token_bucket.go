// Package ratelimit provides the token buckets used to bound signaling frame
// rates and per-client REST request rates.
package ratelimit

import (
	"sync"
	"time"
)

const nanoTokensPerToken int64 = int64(time.Second)

const maxInt64 = int64(^uint64(0) >> 1)

// TokenBucket refills at an integer rate (tokens/sec) against a Clock.
//
// Balances are kept in fixed-point nano-tokens (1 token = 1e9), so a rate of
// X tokens/sec adds X nano-tokens per elapsed nanosecond.
type TokenBucket struct {
	clock Clock

	capacity int64
	rate     int64

	mu        sync.Mutex
	available int64
	last      time.Time
}

// NewTokenBucket returns a bucket that starts full. A nil clock uses
// wall-clock time.
func NewTokenBucket(clock Clock, capacity, rate int64) *TokenBucket {
	if clock == nil {
		clock = RealClock{}
	}
	if capacity < 0 {
		capacity = 0
	}
	if rate < 0 {
		rate = 0
	}
	return &TokenBucket{
		clock:     clock,
		capacity:  capacity,
		rate:      rate,
		available: toNano(capacity),
		last:      clock.Now(),
	}
}

// Allow consumes tokens if the bucket holds enough. tokens <= 0 always
// succeeds.
func (b *TokenBucket) Allow(tokens int64) bool {
	if tokens <= 0 {
		return true
	}
	cost := toNano(tokens)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked()
	if b.available < cost {
		return false
	}
	b.available -= cost
	return true
}

func (b *TokenBucket) refillLocked() {
	now := b.clock.Now()
	if now.Before(b.last) {
		// Clock stepped backwards; rebase without refilling.
		b.last = now
		return
	}
	elapsed := now.Sub(b.last).Nanoseconds()
	if elapsed <= 0 {
		return
	}
	b.last = now

	if b.rate <= 0 || b.capacity <= 0 {
		return
	}
	full := toNano(b.capacity)
	if b.available >= full {
		b.available = full
		return
	}

	// Clamp before multiplying so elapsed*rate cannot overflow.
	need := full - b.available
	if toFill := need / b.rate; toFill <= 0 || elapsed >= toFill {
		b.available = full
		return
	}
	b.available += elapsed * b.rate
	if b.available > full {
		b.available = full
	}
}

func toNano(tokens int64) int64 {
	if tokens <= 0 {
		return 0
	}
	if tokens > maxInt64/nanoTokensPerToken {
		return maxInt64
	}
	return tokens * nanoTokensPerToken
}
