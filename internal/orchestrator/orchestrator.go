// Package orchestrator drives the agent population: a periodic pass over
// active channels that gathers candidate agents, consults the decision
// pipeline, and dispatches response generation without duplicate or runaway
// activity. It also owns the slower ambient drivers (background rotation,
// idle watchdog) and the TTL sweeps that bound long-uptime memory use.
package orchestrator

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/ssergorp/menagerie/internal/attention"
	"github.com/ssergorp/menagerie/internal/cooldown"
	"github.com/ssergorp/menagerie/internal/decision"
	"github.com/ssergorp/menagerie/internal/membership"
	"github.com/ssergorp/menagerie/internal/observability"
	"github.com/ssergorp/menagerie/internal/platform"
	"github.com/ssergorp/menagerie/internal/roster"
	"github.com/ssergorp/menagerie/internal/scheduler"
)

// ResponseGenerator is the response-generation collaborator. Failures are
// contained per candidate and never abort a tick.
type ResponseGenerator interface {
	Generate(ctx context.Context, agent roster.Agent, channelID string) error
}

// Config configures the orchestrator and its ambient drivers.
type Config struct {
	// TickInterval spaces orchestration passes.
	TickInterval time.Duration
	// ActivityWindow defines which channels count as active.
	ActivityWindow time.Duration
	// RecentWindow is how many messages are fetched per channel.
	RecentWindow int
	// SaturationWindow sizes the bot-saturation pre-filter.
	SaturationWindow int
	// MaxDispatchesPerChannel caps candidates processed per channel per tick.
	MaxDispatchesPerChannel int
	// MentionTopK is how many recently mentioned agents join the candidate set.
	MentionTopK int
	// MemberBoost is the attention bump members get per inbound human message.
	MemberBoost float64
	// DecayInterval spaces attention decay ticks.
	DecayInterval time.Duration
	// RotationSpec schedules the background rotation pass (cron form).
	RotationSpec string
	// RotationStale is how long a channel must be quiet to qualify for rotation.
	RotationStale time.Duration
	// RotationBatch caps channels touched per rotation pass.
	RotationBatch int
	// WatchdogInterval spaces idle checks.
	WatchdogInterval time.Duration
	// IdleThreshold is the global silence that trips the watchdog.
	IdleThreshold time.Duration
	// SweepSpec schedules the TTL sweep over all keyed maps (cron form).
	SweepSpec string
	// SettleGrace bounds the shutdown drain of in-flight dispatches.
	SettleGrace time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		TickInterval:            15 * time.Second,
		ActivityWindow:          5 * time.Minute,
		RecentWindow:            18,
		SaturationWindow:        8,
		MaxDispatchesPerChannel: 2,
		MentionTopK:             3,
		MemberBoost:             0.1,
		DecayInterval:           time.Minute,
		RotationSpec:            "@every 5m",
		RotationStale:           5 * time.Minute,
		RotationBatch:           3,
		WatchdogInterval:        5 * time.Second,
		IdleThreshold:           30 * time.Second,
		SweepSpec:               "@every 10m",
		SettleGrace:             10 * time.Second,
	}
}

type channelState struct {
	guildID      string
	lastActivity time.Time
}

// Orchestrator owns the orchestration state machine. All sub-component
// state is constructor-injected; there are no package-level singletons.
type Orchestrator struct {
	platform   platform.Platform
	roster     roster.Roster
	attention  *attention.Store
	membership *membership.Tracker
	cooldowns  *cooldown.Ledger
	decider    *decision.Decider
	generator  ResponseGenerator
	metrics    *observability.Metrics
	guard      *inflightGuard
	config     Config
	logger     *slog.Logger
	now        func() time.Time
	rng        *rand.Rand

	mu            sync.Mutex
	channels      map[string]*channelState
	lastMessageAt time.Time

	dispatches sync.WaitGroup
}

// Option configures the orchestrator.
type Option func(*Orchestrator)

// WithLogger configures the orchestrator logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithNow overrides the clock for tests.
func WithNow(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// WithRand overrides the random source for tests.
func WithRand(rng *rand.Rand) Option {
	return func(o *Orchestrator) {
		if rng != nil {
			o.rng = rng
		}
	}
}

// WithMetrics attaches a metric set.
func WithMetrics(m *observability.Metrics) Option {
	return func(o *Orchestrator) {
		if m != nil {
			o.metrics = m
		}
	}
}

// New creates an orchestrator over the given collaborators.
func New(
	p platform.Platform,
	r roster.Roster,
	att *attention.Store,
	mem *membership.Tracker,
	cd *cooldown.Ledger,
	dec *decision.Decider,
	gen ResponseGenerator,
	config Config,
	opts ...Option,
) *Orchestrator {
	def := DefaultConfig()
	if config.TickInterval <= 0 {
		config.TickInterval = def.TickInterval
	}
	if config.ActivityWindow <= 0 {
		config.ActivityWindow = def.ActivityWindow
	}
	if config.RecentWindow <= 0 {
		config.RecentWindow = def.RecentWindow
	}
	if config.SaturationWindow <= 0 {
		config.SaturationWindow = def.SaturationWindow
	}
	if config.MaxDispatchesPerChannel <= 0 {
		config.MaxDispatchesPerChannel = def.MaxDispatchesPerChannel
	}
	if config.MentionTopK <= 0 {
		config.MentionTopK = def.MentionTopK
	}
	if config.MemberBoost <= 0 {
		config.MemberBoost = def.MemberBoost
	}
	if config.DecayInterval <= 0 {
		config.DecayInterval = def.DecayInterval
	}
	if config.RotationSpec == "" {
		config.RotationSpec = def.RotationSpec
	}
	if config.RotationStale <= 0 {
		config.RotationStale = def.RotationStale
	}
	if config.RotationBatch <= 0 {
		config.RotationBatch = def.RotationBatch
	}
	if config.WatchdogInterval <= 0 {
		config.WatchdogInterval = def.WatchdogInterval
	}
	if config.IdleThreshold <= 0 {
		config.IdleThreshold = def.IdleThreshold
	}
	if config.SweepSpec == "" {
		config.SweepSpec = def.SweepSpec
	}
	if config.SettleGrace <= 0 {
		config.SettleGrace = def.SettleGrace
	}

	o := &Orchestrator{
		platform:   p,
		roster:     r,
		attention:  att,
		membership: mem,
		cooldowns:  cd,
		decider:    dec,
		generator:  gen,
		metrics:    observability.NewMetrics(),
		guard:      newInflightGuard(),
		config:     config,
		logger:     slog.Default(),
		now:        time.Now,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())), // #nosec G404 -- scheduling jitter, not security
		channels:   make(map[string]*channelState),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.With("component", "orchestrator")
	o.lastMessageAt = o.now()
	return o
}

// Register wires every periodic driver onto the scheduler.
func (o *Orchestrator) Register(s *scheduler.Scheduler) error {
	s.Every("orchestrator", o.config.TickInterval, o.Tick)
	s.Every("attention_decay", o.config.DecayInterval, func(context.Context) {
		o.attention.DecayTick()
	})
	s.Every("idle_watchdog", o.config.WatchdogInterval, o.WatchdogTick)
	if err := s.Cron("background_rotation", o.config.RotationSpec, o.RotationTick); err != nil {
		return err
	}
	return s.Cron("state_sweep", o.config.SweepSpec, o.SweepTick)
}

// OnMessage feeds one inbound platform message into the engine: attention
// boosts, mention detection, presence recency, and watchdog bookkeeping.
func (o *Orchestrator) OnMessage(msg platform.Message) {
	now := o.now()

	o.mu.Lock()
	st := o.channels[msg.ChannelID]
	if st == nil {
		st = &channelState{}
		o.channels[msg.ChannelID] = st
	}
	if msg.GuildID != "" {
		st.guildID = msg.GuildID
	}
	st.lastActivity = now
	o.lastMessageAt = now
	o.mu.Unlock()

	kind := "human"
	if msg.AuthorIsAgent {
		kind = "agent"
	}
	o.metrics.MessageCounter.WithLabelValues(kind).Inc()

	// Consume mention budgets before possibly opening new ones, so the
	// triggering message does not count against its own mention.
	o.attention.TrackMessage(msg.ChannelID)

	agents, err := o.roster.ListAgents(context.Background())
	if err != nil {
		o.logger.Warn("roster unavailable during message intake", "error", err)
		return
	}
	for _, agent := range agents {
		if agent.ID == msg.AuthorID {
			o.membership.Touch(agent.ID, msg.GuildID)
			continue
		}
		if agent.MentionedIn(msg.Content) {
			o.attention.RecordMention(msg.ChannelID, agent.ID, msg.AuthorID)
			continue
		}
		if !msg.AuthorIsAgent && o.membership.IsMember(msg.ChannelID, agent.ID) {
			o.attention.Increase(msg.ChannelID, agent.ID, o.config.MemberBoost)
		}
	}
}

// Tick runs one orchestration pass. Errors are contained per channel and
// per candidate; a tick never aborts as a whole.
func (o *Orchestrator) Tick(ctx context.Context) {
	o.metrics.TickCounter.WithLabelValues("orchestrator").Inc()

	channels, err := o.platform.ActiveChannels(ctx, o.config.ActivityWindow)
	if err != nil {
		o.logger.Warn("active channel enumeration failed", "error", err)
		return
	}

	for _, ch := range channels {
		if ctx.Err() != nil {
			return
		}
		o.processChannel(ctx, ch)
	}
}

func (o *Orchestrator) processChannel(ctx context.Context, ch platform.Channel) {
	msgs, err := o.platform.RecentMessages(ctx, ch.ID, o.config.RecentWindow)
	if err != nil {
		o.logger.Warn("recent message fetch failed", "channel_id", ch.ID, "error", err)
		return
	}
	if len(msgs) == 0 {
		return
	}

	candidates, err := o.gatherCandidates(ctx, ch, msgs)
	if err != nil {
		o.logger.Warn("candidate gathering failed", "channel_id", ch.ID, "error", err)
		return
	}

	// Shuffle to avoid positional bias, then cap the per-channel budget.
	o.shuffle(len(candidates), func(i, j int) {
		candidates[i], candidates[j] = candidates[j], candidates[i]
	})
	if len(candidates) > o.config.MaxDispatchesPerChannel {
		candidates = candidates[:o.config.MaxDispatchesPerChannel]
	}

	triggeredByBot := msgs[len(msgs)-1].AuthorIsAgent
	saturation := decision.BotSaturation(msgs, o.config.SaturationWindow)

	for _, c := range candidates {
		o.Dispatch(ctx, ch, c.agent, dispatchOpts{
			force:          c.forced,
			triggeredByBot: triggeredByBot,
			saturation:     saturation,
			messages:       msgs,
			weighAttention: true,
		})
	}
}

type candidate struct {
	agent  roster.Agent
	forced bool
}

// gatherCandidates builds the deduplicated candidate set for a channel:
// agents with an open mention memory entry (forced), the top recently
// mentioned agents, and current channel members.
func (o *Orchestrator) gatherCandidates(ctx context.Context, ch platform.Channel, msgs []platform.Message) ([]candidate, error) {
	agents, err := o.roster.ListAgents(ctx)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]roster.Agent, len(agents))
	for _, a := range agents {
		byID[a.ID] = a
	}

	seen := make(map[string]bool)
	var out []candidate
	add := func(id string, forced bool) {
		agent, ok := byID[id]
		if !ok {
			return
		}
		if seen[id] {
			if forced {
				for i := range out {
					if out[i].agent.ID == id {
						out[i].forced = true
					}
				}
			}
			return
		}
		seen[id] = true
		out = append(out, candidate{agent: agent, forced: forced})
	}

	for _, id := range o.attention.MentionedAgents(ch.ID) {
		add(id, true)
	}

	type mentionCount struct {
		id    string
		count int
	}
	var counts []mentionCount
	for _, a := range agents {
		n := 0
		for _, m := range msgs {
			if m.AuthorID != a.ID && a.MentionedIn(m.Content) {
				n++
			}
		}
		if n > 0 {
			counts = append(counts, mentionCount{a.ID, n})
		}
	}
	for k := 0; k < o.config.MentionTopK && len(counts) > 0; k++ {
		best := 0
		for i := range counts {
			if counts[i].count > counts[best].count {
				best = i
			}
		}
		add(counts[best].id, false)
		counts = append(counts[:best], counts[best+1:]...)
	}

	for _, id := range o.membership.ListAgents(ch.ID) {
		add(id, false)
	}
	return out, nil
}

type dispatchOpts struct {
	force          bool
	triggeredByBot bool
	saturation     float64
	messages       []platform.Message
	// weighAttention applies the attention-level gate ahead of the decider.
	// The tick path sets it; rotation and the watchdog dispatch regardless
	// of level because their candidates start cold by construction.
	weighAttention bool
}

// Dispatch runs one candidate through the full pipeline: in-flight guard,
// bot-saturation damper, cooldown, verdict, generation, bookkeeping.
// It returns the outcome label recorded in metrics.
func (o *Orchestrator) Dispatch(ctx context.Context, ch platform.Channel, agent roster.Agent, opts dispatchOpts) string {
	outcome := o.dispatch(ctx, ch, agent, opts)
	o.metrics.DispatchCounter.WithLabelValues(outcome).Inc()
	return outcome
}

func (o *Orchestrator) dispatch(ctx context.Context, ch platform.Channel, agent roster.Agent, opts dispatchOpts) string {
	if !o.guard.tryAcquire(ch.ID, agent.ID) {
		return "skipped_inflight"
	}
	o.dispatches.Add(1)
	o.metrics.InFlight.Inc()
	defer func() {
		o.guard.release(ch.ID, agent.ID)
		o.metrics.InFlight.Dec()
		o.dispatches.Done()
	}()

	// A level at the force threshold demands a response just like an open
	// mention memory entry does.
	force := opts.force || o.attention.ForceRespond(ch.ID, agent.ID)

	// Saturation damper: the sampled value must clear the bot fraction
	// before the decider is even consulted. Forced dispatches skip it.
	if !force && opts.saturation > 0 && o.randFloat() < opts.saturation {
		return "skipped_saturated"
	}

	now := o.now()
	if !o.cooldowns.CanRespond(agent.ID, ch.ID, now, opts.triggeredByBot) {
		return "skipped_cooldown"
	}

	if force {
		o.metrics.VerdictCounter.WithLabelValues("yes", "forced").Inc()
	} else {
		if opts.weighAttention && !o.worthWeighing(ch.ID, agent.ID) {
			return "skipped_attention"
		}
		v := o.decider.Decide(ctx, decision.Input{
			Agent:     agent,
			ChannelID: ch.ID,
			Messages:  opts.messages,
		})
		verdictLabel := "no"
		if v.Respond {
			verdictLabel = "yes"
		}
		o.metrics.VerdictCounter.WithLabelValues(verdictLabel, "decision").Inc()
		if !v.Respond {
			o.logger.Debug("declined",
				"agent_id", agent.ID, "channel_id", ch.ID, "reason", v.Reason)
			return "declined"
		}
	}

	if err := o.generator.Generate(ctx, agent, ch.ID); err != nil {
		o.logger.Warn("response generation failed",
			"agent_id", agent.ID, "channel_id", ch.ID, "error", err)
		return "error"
	}

	o.cooldowns.Record(agent.ID, ch.ID, o.now(), opts.triggeredByBot)
	o.membership.Add(ch.ID, agent.ID, ch.GuildID)
	o.attention.Increase(ch.ID, agent.ID, o.config.MemberBoost)
	o.markDispatched(ch)
	return "sent"
}

// worthWeighing is the attention gate ahead of the decider. Levels in the
// deliberation band and above always reach the decider; below the band the
// candidate only passes on a level-weighted coin flip.
func (o *Orchestrator) worthWeighing(channelID, agentID string) bool {
	if o.attention.ConsiderRespond(channelID, agentID) {
		return true
	}
	if o.attention.Level(channelID, agentID) > attention.ConsiderHigh {
		return true
	}
	return o.attention.RandomRespond(channelID, agentID)
}

func (o *Orchestrator) markDispatched(ch platform.Channel) {
	o.mu.Lock()
	defer o.mu.Unlock()
	st := o.channels[ch.ID]
	if st == nil {
		st = &channelState{}
		o.channels[ch.ID] = st
	}
	if ch.GuildID != "" {
		st.guildID = ch.GuildID
	}
	st.lastActivity = o.now()
}

func (o *Orchestrator) randFloat() float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.rng.Float64()
}

func (o *Orchestrator) randIntn(n int) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.rng.Intn(n)
}

func (o *Orchestrator) shuffle(n int, swap func(i, j int)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.rng.Shuffle(n, swap)
}

// Drain waits for in-flight dispatches to settle or abandons them after
// the configured grace period.
func (o *Orchestrator) Drain() bool {
	done := make(chan struct{})
	go func() {
		o.dispatches.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(o.config.SettleGrace):
		o.logger.Warn("abandoning in-flight dispatches after grace period",
			"grace", o.config.SettleGrace)
		return false
	}
}

// SweepTick prunes every TTL-bounded keyed map.
func (o *Orchestrator) SweepTick(context.Context) {
	mentions := o.attention.Sweep()
	cooldowns := o.cooldowns.Sweep(o.now())
	verdicts := o.decider.Cache().Sweep()
	o.logger.Debug("state sweep",
		"mentions_removed", mentions,
		"cooldowns_removed", cooldowns,
		"verdicts_removed", verdicts)
}
