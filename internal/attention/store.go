// Package attention tracks how engaged each agent currently is in each
// channel: a decaying [0,1] scalar per (channel, agent) pair plus a
// short-lived memory of explicit mentions.
package attention

import (
	"log/slog"
	"math"
	"math/rand"
	"sync"
	"time"
)

// Attention thresholds. Levels at or above ForceThreshold demand a response;
// the band between ConsiderLow and ConsiderHigh is worth weighing; anything
// below ConsiderLow only speaks on a level-weighted coin flip.
const (
	ForceThreshold = 1.0
	ConsiderLow    = 0.3
	ConsiderHigh   = 0.7
)

// Config configures the attention store.
type Config struct {
	// DecayStep is subtracted from every level on each decay tick.
	DecayStep float64
	// MentionBudget is how many subsequent channel messages a mention
	// stays "recent" for.
	MentionBudget int
	// MentionTTL bounds mention memory by wall time regardless of traffic.
	MentionTTL time.Duration
}

// DefaultConfig returns the default attention configuration.
func DefaultConfig() Config {
	return Config{
		DecayStep:     0.1,
		MentionBudget: 3,
		MentionTTL:    10 * time.Minute,
	}
}

type pairKey struct {
	channelID string
	agentID   string
}

type levelEntry struct {
	level     float64
	updatedAt time.Time
}

type mentionEntry struct {
	remaining   int
	mentionedBy string
	openedAt    time.Time
}

// Store holds attention levels and mention memory. All methods are safe for
// concurrent use.
type Store struct {
	mu       sync.Mutex
	levels   map[pairKey]*levelEntry
	mentions map[pairKey]*mentionEntry
	config   Config
	now      func() time.Time
	rng      *rand.Rand
	logger   *slog.Logger
}

// Option configures the store.
type Option func(*Store)

// WithNow overrides the clock for tests.
func WithNow(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithRand overrides the random source used by RandomRespond.
func WithRand(rng *rand.Rand) Option {
	return func(s *Store) {
		if rng != nil {
			s.rng = rng
		}
	}
}

// WithLogger configures the store logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewStore creates an attention store.
func NewStore(config Config, opts ...Option) *Store {
	if config.DecayStep <= 0 {
		config.DecayStep = DefaultConfig().DecayStep
	}
	if config.MentionBudget <= 0 {
		config.MentionBudget = DefaultConfig().MentionBudget
	}
	if config.MentionTTL <= 0 {
		config.MentionTTL = DefaultConfig().MentionTTL
	}
	s := &Store{
		levels:   make(map[pairKey]*levelEntry),
		mentions: make(map[pairKey]*mentionEntry),
		config:   config,
		now:      time.Now,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())), // #nosec G404 -- scheduling jitter, not security
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "attention")
	return s
}

// clamp bounds a level to [0,1]. Non-finite input collapses to 0 rather
// than being rejected.
func clamp(level float64) float64 {
	if math.IsNaN(level) || math.IsInf(level, 0) {
		return 0
	}
	return math.Min(1, math.Max(0, level))
}

// Increase raises the attention level by amount, clamped to [0,1].
func (s *Store) Increase(channelID, agentID string, amount float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := pairKey{channelID, agentID}
	e := s.levels[k]
	if e == nil {
		e = &levelEntry{}
		s.levels[k] = e
	}
	e.level = clamp(e.level + clamp(amount))
	e.updatedAt = s.now()
}

// RecordMention pins the attention level to 1.0 and opens a mention memory
// entry with the configured message budget. A mention overrides any decay.
func (s *Store) RecordMention(channelID, agentID, mentionedBy string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := pairKey{channelID, agentID}
	s.levels[k] = &levelEntry{level: ForceThreshold, updatedAt: s.now()}
	s.mentions[k] = &mentionEntry{
		remaining:   s.config.MentionBudget,
		mentionedBy: mentionedBy,
		openedAt:    s.now(),
	}
	s.logger.Debug("mention recorded",
		"channel_id", channelID, "agent_id", agentID, "mentioned_by", mentionedBy)
}

// Level returns the current attention level for a pair (0 when untracked).
func (s *Store) Level(channelID, agentID string) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e := s.levels[pairKey{channelID, agentID}]; e != nil {
		return e.level
	}
	return 0
}

// DecayTick lowers every level by the decay step. Entries that reach zero
// are dropped, and their mention memory is cleared with them.
func (s *Store) DecayTick() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for k, e := range s.levels {
		e.level = math.Max(0, e.level-s.config.DecayStep)
		e.updatedAt = s.now()
		if e.level <= 0 {
			delete(s.levels, k)
			delete(s.mentions, k)
		}
	}
}

// TrackMessage consumes one message of budget from every mention memory
// entry scoped to the channel. Exhausted entries are removed.
func (s *Store) TrackMessage(channelID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for k, m := range s.mentions {
		if k.channelID != channelID {
			continue
		}
		m.remaining--
		if m.remaining <= 0 {
			delete(s.mentions, k)
		}
	}
}

// IsRecentlyMentioned reports whether a mention memory entry is open for the
// pair. Entry existence is the definition of "recently mentioned".
func (s *Store) IsRecentlyMentioned(channelID, agentID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.mentions[pairKey{channelID, agentID}]
	return ok
}

// MentionedBy returns who opened the mention memory entry, if any.
func (s *Store) MentionedBy(channelID, agentID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.mentions[pairKey{channelID, agentID}]; ok {
		return m.mentionedBy, true
	}
	return "", false
}

// MentionedAgents returns agent IDs with an open mention entry in a channel.
func (s *Store) MentionedAgents(channelID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []string
	for k := range s.mentions {
		if k.channelID == channelID {
			out = append(out, k.agentID)
		}
	}
	return out
}

// ForceRespond reports whether the level demands a response.
func (s *Store) ForceRespond(channelID, agentID string) bool {
	return s.Level(channelID, agentID) >= ForceThreshold
}

// ConsiderRespond reports whether the level sits in the deliberation band.
func (s *Store) ConsiderRespond(channelID, agentID string) bool {
	level := s.Level(channelID, agentID)
	return level >= ConsiderLow && level <= ConsiderHigh
}

// RandomRespond flips a coin weighted by the level for pairs below the
// deliberation band. Zero attention never responds.
func (s *Store) RandomRespond(channelID, agentID string) bool {
	level := s.Level(channelID, agentID)
	if level <= 0 || level >= ConsiderLow {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64() < level
}

// Sweep drops mention entries older than the mention TTL. Levels are pruned
// by decay already; this bounds mention memory in quiet channels.
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-s.config.MentionTTL)
	removed := 0
	for k, m := range s.mentions {
		if m.openedAt.Before(cutoff) {
			delete(s.mentions, k)
			removed++
		}
	}
	return removed
}

// Entry is an exported view of one attention level, used for snapshots.
type Entry struct {
	ChannelID string    `json:"channel_id"`
	AgentID   string    `json:"agent_id"`
	Level     float64   `json:"level"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Snapshot returns all current levels.
func (s *Store) Snapshot() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Entry, 0, len(s.levels))
	for k, e := range s.levels {
		out = append(out, Entry{
			ChannelID: k.channelID,
			AgentID:   k.agentID,
			Level:     e.level,
			UpdatedAt: e.updatedAt,
		})
	}
	return out
}

// Restore loads levels from a snapshot, clamping as it goes. Mention memory
// is deliberately not restored; it is too short-lived to survive a restart.
func (s *Store) Restore(entries []Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range entries {
		level := clamp(e.Level)
		if level <= 0 {
			continue
		}
		s.levels[pairKey{e.ChannelID, e.AgentID}] = &levelEntry{
			level:     level,
			updatedAt: e.UpdatedAt,
		}
	}
}
