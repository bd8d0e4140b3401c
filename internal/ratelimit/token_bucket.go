// Package ratelimit provides a deterministic token bucket used to bound the
// rate of inbound signaling messages per connection.
package ratelimit

import (
	"sync"
	"time"
)

// scale is the fixed-point factor: one token is 1e9 sub-tokens, so a fill
// rate of N tokens/sec adds exactly N sub-tokens per elapsed nanosecond.
const scale = int64(time.Second)

// TokenBucket refills at an integer rate (tokens/sec) against a Clock.
// Fixed-point accounting avoids float drift under fast tick rates.
type TokenBucket struct {
	mu    sync.Mutex
	clock Clock

	capacity int64 // tokens
	rate     int64 // tokens/sec

	avail int64 // sub-tokens
	last  time.Time
}

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
		clock:    clock,
		capacity: capacity,
		rate:     rate,
		avail:    saturatingScale(capacity),
		last:     clock.Now(),
	}
}

// Allow consumes tokens if available. tokens <= 0 always succeeds.
func (b *TokenBucket) Allow(tokens int64) bool {
	if tokens <= 0 {
		return true
	}
	cost := saturatingScale(tokens)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill()
	if b.avail < cost {
		return false
	}
	b.avail -= cost
	return true
}

func (b *TokenBucket) refill() {
	now := b.clock.Now()
	if now.Before(b.last) {
		// Clock went backwards; re-anchor without refilling.
		b.last = now
		return
	}
	elapsed := now.Sub(b.last).Nanoseconds()
	b.last = now

	if elapsed <= 0 || b.rate <= 0 || b.capacity <= 0 {
		return
	}

	full := saturatingScale(b.capacity)
	missing := full - b.avail
	if missing <= 0 {
		b.avail = full
		return
	}
	// rate tokens/sec == rate sub-tokens/ns. Clamp before multiplying so the
	// product cannot overflow.
	if elapsed >= missing/b.rate+1 {
		b.avail = full
		return
	}
	b.avail += elapsed * b.rate
	if b.avail > full {
		b.avail = full
	}
}

func saturatingScale(tokens int64) int64 {
	const maxInt64 = int64(^uint64(0) >> 1)
	if tokens <= 0 {
		return 0
	}
	if tokens > maxInt64/scale {
		return maxInt64
	}
	return tokens * scale
}
