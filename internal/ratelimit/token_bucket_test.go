package ratelimit

import (
	"sync"
	"testing"
	"time"
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

func TestTokenBucket_BurstThenRefill(t *testing.T) {
	clk := &fakeClock{now: time.Unix(0, 0)}
	b := NewTokenBucket(clk, 10, 10)

	for i := 0; i < 10; i++ {
		if !b.Allow(1) {
			t.Fatalf("initial burst token %d denied", i)
		}
	}
	if b.Allow(1) {
		t.Fatalf("expected empty bucket to deny")
	}

	clk.Advance(100 * time.Millisecond) // exactly one token at 10/sec
	if !b.Allow(1) {
		t.Fatalf("expected one refilled token")
	}
	if b.Allow(1) {
		t.Fatalf("expected only one refilled token")
	}
}

func TestTokenBucket_ClampsAtCapacity(t *testing.T) {
	clk := &fakeClock{now: time.Unix(0, 0)}
	b := NewTokenBucket(clk, 2, 1)

	if !b.Allow(2) {
		t.Fatalf("expected initial capacity")
	}

	clk.Advance(time.Hour)
	if !b.Allow(2) {
		t.Fatalf("expected refill up to capacity")
	}
	if b.Allow(1) {
		t.Fatalf("expected capacity clamp")
	}
}

func TestTokenBucket_ZeroAndNegativeCosts(t *testing.T) {
	b := NewTokenBucket(&fakeClock{now: time.Unix(0, 0)}, 1, 1)
	if !b.Allow(0) {
		t.Fatalf("zero cost must always succeed")
	}
	if !b.Allow(-5) {
		t.Fatalf("negative cost must always succeed")
	}
}

func TestTokenBucket_BackwardsClockDoesNotRefill(t *testing.T) {
	clk := &fakeClock{now: time.Unix(100, 0)}
	b := NewTokenBucket(clk, 1, 1)

	if !b.Allow(1) {
		t.Fatalf("expected initial token")
	}
	clk.Advance(-time.Minute)
	if b.Allow(1) {
		t.Fatalf("expected no refill after clock regression")
	}
}
