package orchestrator

import "sync"

type pairKey struct {
	channelID string
	agentID   string
}

// inflightGuard is the mutual-exclusion set over (channel, agent) pairs: at
// most one response pipeline per pair at a time. Acquire fails instead of
// blocking; a skipped candidate is handled again on a later tick.
type inflightGuard struct {
	mu   sync.Mutex
	keys map[pairKey]struct{}
}

func newInflightGuard() *inflightGuard {
	return &inflightGuard{keys: make(map[pairKey]struct{})}
}

// tryAcquire marks the pair in flight. Returns false if already held.
func (g *inflightGuard) tryAcquire(channelID, agentID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	k := pairKey{channelID, agentID}
	if _, held := g.keys[k]; held {
		return false
	}
	g.keys[k] = struct{}{}
	return true
}

// release frees the pair. Releasing an unheld pair is a no-op.
func (g *inflightGuard) release(channelID, agentID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.keys, pairKey{channelID, agentID})
}

// held reports how many pairs are currently in flight.
func (g *inflightGuard) held() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.keys)
}
