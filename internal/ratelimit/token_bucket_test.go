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

func TestTokenBucketAllowAndRefill(t *testing.T) {
	clk := &fakeClock{now: time.Unix(0, 0)}
	b := NewTokenBucket(clk, 5, 5) // 5 tokens capacity, 5 tokens/sec.

	if !b.Allow(5) {
		t.Fatal("expected initial burst to succeed")
	}
	if b.Allow(1) {
		t.Fatal("expected bucket to be empty")
	}

	clk.Advance(200 * time.Millisecond) // refills one token at 5 tokens/sec
	if !b.Allow(1) {
		t.Fatal("expected refill after time advance")
	}
}

func TestTokenBucketDoesNotExceedCapacity(t *testing.T) {
	clk := &fakeClock{now: time.Unix(0, 0)}
	b := NewTokenBucket(clk, 1, 1)

	if !b.Allow(1) {
		t.Fatal("expected initial token")
	}
	clk.Advance(10 * time.Second)
	if !b.Allow(1) {
		t.Fatal("expected refill up to capacity")
	}
	if b.Allow(1) {
		t.Fatal("expected capacity clamp")
	}
}

func TestTokenBucketBackwardsClock(t *testing.T) {
	clk := &fakeClock{now: time.Unix(1000, 0)}
	b := NewTokenBucket(clk, 2, 1)

	if !b.Allow(2) {
		t.Fatal("expected initial burst")
	}
	clk.Advance(-30 * time.Second)
	if b.Allow(1) {
		t.Fatal("backwards clock must not refill")
	}
	clk.Advance(31 * time.Second)
	if !b.Allow(1) {
		t.Fatal("expected refill once time moves forward again")
	}
}

func TestTokenBucketNonPositiveCost(t *testing.T) {
	b := NewTokenBucket(&fakeClock{now: time.Unix(0, 0)}, 0, 0)
	if !b.Allow(0) {
		t.Fatal("zero cost must always succeed")
	}
	if !b.Allow(-5) {
		t.Fatal("negative cost must always succeed")
	}
	if b.Allow(1) {
		t.Fatal("zero-capacity bucket must reject real costs")
	}
}
