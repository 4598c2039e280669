package cache_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/MrWong99/agentfield/internal/cache"
)

func TestGetPut(t *testing.T) {
	t.Parallel()
	c := cache.New(10, time.Minute)

	c.Put("agent:1", "marn")
	got, ok := c.Get("agent:1")
	if !ok || got.(string) != "marn" {
		t.Fatalf("get: got %v ok=%v", got, ok)
	}
	if _, ok := c.Get("agent:2"); ok {
		t.Fatal("missing key must miss")
	}

	stats := c.Stats()
	if stats.Hits != 1 || stats.Misses != 1 {
		t.Errorf("stats: got %+v, want 1 hit 1 miss", stats)
	}
}

func TestEvictsLeastRecentlyUsed(t *testing.T) {
	t.Parallel()
	c := cache.New(3, time.Minute)

	for i := 1; i <= 3; i++ {
		c.Put(fmt.Sprintf("k%d", i), i)
	}
	// Touch k1 so k2 is the eviction victim.
	if _, ok := c.Get("k1"); !ok {
		t.Fatal("k1 should be present")
	}
	c.Put("k4", 4)

	if _, ok := c.Get("k2"); ok {
		t.Error("k2 should have been evicted")
	}
	for _, key := range []string{"k1", "k3", "k4"} {
		if _, ok := c.Get(key); !ok {
			t.Errorf("%s should survive eviction", key)
		}
	}
	if c.Len() != 3 {
		t.Errorf("len: got %d, want 3", c.Len())
	}
}

func TestTTLExpiry(t *testing.T) {
	t.Parallel()
	now := time.Unix(1000, 0)
	c := cache.New(10, 300*time.Second, cache.WithNow(func() time.Time { return now }))

	c.Put("agent:1", "marn")
	if _, ok := c.Get("agent:1"); !ok {
		t.Fatal("fresh entry must hit")
	}

	now = now.Add(301 * time.Second)
	if _, ok := c.Get("agent:1"); ok {
		t.Fatal("expired entry must miss")
	}
	if c.Len() != 0 {
		t.Errorf("expired entry not dropped: len=%d", c.Len())
	}

	// A put after expiry resets the TTL.
	c.Put("agent:1", "marn")
	now = now.Add(299 * time.Second)
	if _, ok := c.Get("agent:1"); !ok {
		t.Error("re-put entry expired too early")
	}
}

func TestInvalidatePrefix(t *testing.T) {
	t.Parallel()
	c := cache.New(10, time.Minute)

	c.Put("agent:1", "a")
	c.Put("agent:1:memories", "b")
	c.Put("agent:2", "c")
	c.Put("faction:guards", "d")

	n := c.InvalidatePrefix("agent:1")
	if n != 2 {
		t.Errorf("invalidated: got %d, want 2", n)
	}
	if _, ok := c.Get("agent:2"); !ok {
		t.Error("agent:2 should survive")
	}
	if _, ok := c.Get("faction:guards"); !ok {
		t.Error("faction:guards should survive")
	}
	if _, ok := c.Get("agent:1"); ok {
		t.Error("agent:1 should be gone")
	}
}
