package ratelimit

import (
	"fmt"
	"testing"
	"time"
)

func TestKeyed_IndependentBuckets(t *testing.T) {
	clk := &fakeClock{now: time.Unix(0, 0)}
	k := NewKeyed(clk, KeyedConfig{PerSecond: 2})

	if !k.Allow("a") || !k.Allow("a") {
		t.Fatalf("expected burst of 2 for a")
	}
	if k.Allow("a") {
		t.Fatalf("expected a to be limited")
	}
	if !k.Allow("b") {
		t.Fatalf("b should have its own bucket")
	}

	clk.Advance(500 * time.Millisecond)
	if !k.Allow("a") {
		t.Fatalf("expected a to refill after 500ms at 2/s")
	}
}

func TestKeyed_DisabledAllowsEverything(t *testing.T) {
	k := NewKeyed(nil, KeyedConfig{})
	for i := 0; i < 100; i++ {
		if !k.Allow("a") {
			t.Fatalf("disabled limiter rejected request %d", i)
		}
	}
	if k.Len() != 0 {
		t.Fatalf("disabled limiter allocated %d buckets", k.Len())
	}

	var nilLimiter *Keyed
	if !nilLimiter.Allow("a") {
		t.Fatalf("nil limiter should allow")
	}
}

func TestKeyed_EvictsLeastRecentlyUsed(t *testing.T) {
	var evicted []string
	k := NewKeyed(nil, KeyedConfig{
		PerSecond: 100,
		MaxKeys:   2,
		OnEvict:   func(key string) { evicted = append(evicted, key) },
	})

	k.Allow("a")
	k.Allow("b")
	k.Allow("a")
	k.Allow("c")

	if len(evicted) != 1 || evicted[0] != "b" {
		t.Fatalf("evicted=%v, want [b]", evicted)
	}

	for i := 0; i < 10; i++ {
		k.Allow(fmt.Sprintf("k%d", i))
		if n := k.Len(); n > 2 {
			t.Fatalf("buckets=%d, want <= 2", n)
		}
	}
}
