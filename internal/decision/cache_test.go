package decision

import (
	"testing"
	"time"
)

func TestCache_GetMissAndHit(t *testing.T) {
	now := time.Now()
	c := NewCache(time.Minute, 0)
	c.SetNow(func() time.Time { return now })

	if _, ok := c.Get("a1"); ok {
		t.Error("expected miss on empty cache")
	}

	v := Verdict{Respond: true, Reason: "model said yes", DecidedAt: now}
	c.Put("a1", v)

	got, ok := c.Get("a1")
	if !ok || got != v {
		t.Errorf("Get = %+v, %v, want stored verdict", got, ok)
	}
}

func TestCache_ExpiresAfterTTL(t *testing.T) {
	now := time.Now()
	c := NewCache(time.Minute, 0)
	c.SetNow(func() time.Time { return now })

	c.Put("a1", Verdict{Respond: true, DecidedAt: now})
	now = now.Add(time.Minute)

	if _, ok := c.Get("a1"); ok {
		t.Error("expected expired entry to miss")
	}
	if c.Len() != 0 {
		t.Error("expected expired entry evicted on read")
	}
}

func TestCache_SweepRemovesExpired(t *testing.T) {
	now := time.Now()
	c := NewCache(time.Minute, 0)
	c.SetNow(func() time.Time { return now })

	c.Put("old", Verdict{DecidedAt: now.Add(-2 * time.Minute)})
	c.Put("fresh", Verdict{DecidedAt: now})

	if removed := c.Sweep(); removed != 1 {
		t.Errorf("Sweep removed %d, want 1", removed)
	}
	if _, ok := c.Get("fresh"); !ok {
		t.Error("sweep must keep fresh entries")
	}
}
