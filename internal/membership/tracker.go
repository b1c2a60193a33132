// Package membership tracks which agents are present in which channels and
// enforces the per-agent channel cap. It also keeps per-guild recency so
// cross-guild bookkeeping can find an agent's "home" community.
package membership

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

// DefaultMaxChannelsPerAgent caps how many channels one agent may inhabit.
const DefaultMaxChannelsPerAgent = 5

type agentState struct {
	channels map[string]struct{}
	// guild ID -> last time the agent was active there
	guildRecency map[string]time.Time
}

// Tracker records agent presence. Adding past the channel cap is rejected,
// never evicted. Safe for concurrent use.
type Tracker struct {
	mu          sync.RWMutex
	agents      map[string]*agentState
	byChannel   map[string]map[string]struct{}
	maxChannels int
	now         func() time.Time
	logger      *slog.Logger
}

// Option configures the tracker.
type Option func(*Tracker)

// WithNow overrides the clock for tests.
func WithNow(now func() time.Time) Option {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

// WithLogger configures the tracker logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Tracker) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// NewTracker creates a tracker with the given per-agent channel cap.
// A non-positive cap falls back to the default.
func NewTracker(maxChannels int, opts ...Option) *Tracker {
	if maxChannels <= 0 {
		maxChannels = DefaultMaxChannelsPerAgent
	}
	t := &Tracker{
		agents:      make(map[string]*agentState),
		byChannel:   make(map[string]map[string]struct{}),
		maxChannels: maxChannels,
		now:         time.Now,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = t.logger.With("component", "membership")
	return t
}

// Add records that an agent joined a channel in a guild. Returns false
// without mutating state if the agent already holds the maximum number of
// channels. Re-adding an existing membership refreshes guild recency only.
func (t *Tracker) Add(channelID, agentID, guildID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	state := t.agents[agentID]
	if state == nil {
		state = &agentState{
			channels:     make(map[string]struct{}),
			guildRecency: make(map[string]time.Time),
		}
		t.agents[agentID] = state
	}

	if _, member := state.channels[channelID]; !member {
		if len(state.channels) >= t.maxChannels {
			t.logger.Debug("channel cap reached, membership rejected",
				"agent_id", agentID, "channel_id", channelID, "cap", t.maxChannels)
			return false
		}
		state.channels[channelID] = struct{}{}
		members := t.byChannel[channelID]
		if members == nil {
			members = make(map[string]struct{})
			t.byChannel[channelID] = members
		}
		members[agentID] = struct{}{}
	}
	if guildID != "" {
		state.guildRecency[guildID] = t.now()
	}
	return true
}

// Remove drops a membership. Unknown pairs are a no-op.
func (t *Tracker) Remove(channelID, agentID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if state := t.agents[agentID]; state != nil {
		delete(state.channels, channelID)
	}
	if members := t.byChannel[channelID]; members != nil {
		delete(members, agentID)
		if len(members) == 0 {
			delete(t.byChannel, channelID)
		}
	}
}

// Touch refreshes guild recency for an agent without changing membership.
func (t *Tracker) Touch(agentID, guildID string) {
	if guildID == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	state := t.agents[agentID]
	if state == nil {
		state = &agentState{
			channels:     make(map[string]struct{}),
			guildRecency: make(map[string]time.Time),
		}
		t.agents[agentID] = state
	}
	state.guildRecency[guildID] = t.now()
}

// IsMember reports whether the agent is present in the channel.
func (t *Tracker) IsMember(channelID, agentID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	members := t.byChannel[channelID]
	_, ok := members[agentID]
	return ok
}

// ListAgents returns the agents present in a channel, sorted.
func (t *Tracker) ListAgents(channelID string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	members := t.byChannel[channelID]
	out := make([]string, 0, len(members))
	for id := range members {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// ListChannels returns the channels an agent is present in, sorted.
func (t *Tracker) ListChannels(agentID string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	state := t.agents[agentID]
	if state == nil {
		return nil
	}
	out := make([]string, 0, len(state.channels))
	for id := range state.channels {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// MostRecentGuild returns the guild the agent was most recently active in.
func (t *Tracker) MostRecentGuild(agentID string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	state := t.agents[agentID]
	if state == nil {
		return "", false
	}
	var best string
	var bestAt time.Time
	for guild, at := range state.guildRecency {
		if best == "" || at.After(bestAt) || (at.Equal(bestAt) && guild < best) {
			best = guild
			bestAt = at
		}
	}
	return best, best != ""
}

// ChannelCount returns how many channels the agent currently holds.
func (t *Tracker) ChannelCount(agentID string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if state := t.agents[agentID]; state != nil {
		return len(state.channels)
	}
	return 0
}
