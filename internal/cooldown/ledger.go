// Package cooldown enforces minimum spacing between responses from the same
// agent in the same channel. Human-triggered responses should feel near
// immediate; bot-triggered ones are throttled an order of magnitude harder,
// because unchecked bot-to-bot exchanges degenerate into rapid loops.
package cooldown

import (
	"sync"
	"time"
)

// Config configures the ledger windows.
type Config struct {
	// HumanCooldown applies when the response was triggered by a human.
	HumanCooldown time.Duration
	// BotCooldown applies when the response was triggered by another agent.
	BotCooldown time.Duration
	// EntryTTL bounds how long stale entries linger before Sweep drops them.
	EntryTTL time.Duration
}

// DefaultConfig returns the default cooldown windows.
func DefaultConfig() Config {
	return Config{
		HumanCooldown: 5 * time.Second,
		BotCooldown:   2 * time.Minute,
		EntryTTL:      24 * time.Hour,
	}
}

type pairKey struct {
	agentID   string
	channelID string
}

// Entry is one recorded response, exported for snapshots.
type Entry struct {
	AgentID      string    `json:"agent_id"`
	ChannelID    string    `json:"channel_id"`
	RespondedAt  time.Time `json:"responded_at"`
	BotTriggered bool      `json:"bot_triggered"`
}

// Ledger tracks last-response timestamps per (agent, channel). Safe for
// concurrent use.
type Ledger struct {
	mu      sync.Mutex
	entries map[pairKey]Entry
	config  Config
}

// NewLedger creates a ledger, filling zero windows from defaults.
func NewLedger(config Config) *Ledger {
	def := DefaultConfig()
	if config.HumanCooldown <= 0 {
		config.HumanCooldown = def.HumanCooldown
	}
	if config.BotCooldown <= 0 {
		config.BotCooldown = def.BotCooldown
	}
	if config.EntryTTL <= 0 {
		config.EntryTTL = def.EntryTTL
	}
	return &Ledger{
		entries: make(map[pairKey]Entry),
		config:  config,
	}
}

// CanRespond reports whether the applicable cooldown window has elapsed
// since the last recorded response for the pair. The window is picked by
// what triggered the candidate response, not by what was recorded last.
func (l *Ledger) CanRespond(agentID, channelID string, now time.Time, triggeredByBot bool) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.entries[pairKey{agentID, channelID}]
	if !ok {
		return true
	}
	window := l.config.HumanCooldown
	if triggeredByBot {
		window = l.config.BotCooldown
	}
	return now.Sub(entry.RespondedAt) >= window
}

// Record notes that a response was dispatched for the pair.
func (l *Ledger) Record(agentID, channelID string, now time.Time, triggeredByBot bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries[pairKey{agentID, channelID}] = Entry{
		AgentID:      agentID,
		ChannelID:    channelID,
		RespondedAt:  now,
		BotTriggered: triggeredByBot,
	}
}

// Sweep removes entries older than the entry TTL and returns the count.
func (l *Ledger) Sweep(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := now.Add(-l.config.EntryTTL)
	removed := 0
	for k, e := range l.entries {
		if e.RespondedAt.Before(cutoff) {
			delete(l.entries, k)
			removed++
		}
	}
	return removed
}

// Snapshot returns all entries for persistence.
func (l *Ledger) Snapshot() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Entry, 0, len(l.entries))
	for _, e := range l.entries {
		out = append(out, e)
	}
	return out
}

// Restore loads entries from a snapshot, keeping the newest per pair.
func (l *Ledger) Restore(entries []Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, e := range entries {
		k := pairKey{e.AgentID, e.ChannelID}
		if cur, ok := l.entries[k]; ok && cur.RespondedAt.After(e.RespondedAt) {
			continue
		}
		l.entries[k] = e
	}
}

// Len returns the number of tracked pairs.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
