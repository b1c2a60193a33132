// Package decision produces the final speak/stay-silent verdict for an
// agent in a channel: cheap heuristics first, then a short-lived cached
// verdict, then a single adjudication call to the completion service.
package decision

import (
	"sync"
	"time"
)

// Verdict is a binary decision with its justification.
type Verdict struct {
	Respond   bool      `json:"respond"`
	Reason    string    `json:"reason"`
	DecidedAt time.Time `json:"decided_at"`
}

// Cache memoizes verdicts per agent to bound completion-service call volume.
// A cached verdict is reused verbatim while younger than the TTL.
type Cache struct {
	mu      sync.Mutex
	entries map[string]Verdict
	ttl     time.Duration
	maxSize int
	now     func() time.Time
}

// NewCache creates a verdict cache with the given TTL.
func NewCache(ttl time.Duration, maxSize int) *Cache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if maxSize <= 0 {
		maxSize = 10000
	}
	return &Cache{
		entries: make(map[string]Verdict),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
	}
}

// SetNow overrides the clock, for tests.
func (c *Cache) SetNow(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if now != nil {
		c.now = now
	}
}

// Get returns the cached verdict for an agent if still fresh.
func (c *Cache) Get(agentID string) (Verdict, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	v, ok := c.entries[agentID]
	if !ok {
		return Verdict{}, false
	}
	if c.now().Sub(v.DecidedAt) >= c.ttl {
		delete(c.entries, agentID)
		return Verdict{}, false
	}
	return v, true
}

// Put stores a fresh verdict, pruning expired entries when the cache is at
// capacity.
func (c *Cache) Put(agentID string, v Verdict) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) >= c.maxSize {
		c.sweepLocked()
	}
	c.entries[agentID] = v
}

// Sweep removes expired entries and returns the count.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sweepLocked()
}

func (c *Cache) sweepLocked() int {
	cutoff := c.now().Add(-c.ttl)
	removed := 0
	for k, v := range c.entries {
		if v.DecidedAt.Before(cutoff) {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

// Len returns the number of cached verdicts.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
