package orchestrator

import (
	"context"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/ssergorp/menagerie/internal/attention"
	"github.com/ssergorp/menagerie/internal/cooldown"
	"github.com/ssergorp/menagerie/internal/decision"
	"github.com/ssergorp/menagerie/internal/llm"
	"github.com/ssergorp/menagerie/internal/membership"
	"github.com/ssergorp/menagerie/internal/platform"
	"github.com/ssergorp/menagerie/internal/roster"
)

type scriptedCompletion struct {
	mu    sync.Mutex
	text  string
	err   error
	calls int
}

func (s *scriptedCompletion) Complete(context.Context, string, llm.Request) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.text, s.err
}

type fakeGenerator struct {
	mu      sync.Mutex
	calls   []string
	err     error
	entered chan struct{}
	block   chan struct{}
}

func (g *fakeGenerator) Generate(_ context.Context, agent roster.Agent, channelID string) error {
	if g.entered != nil {
		close(g.entered)
		g.entered = nil
	}
	if g.block != nil {
		<-g.block
	}
	g.mu.Lock()
	g.calls = append(g.calls, agent.ID+"@"+channelID)
	g.mu.Unlock()
	return g.err
}

func (g *fakeGenerator) count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

func (g *fakeGenerator) last() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.calls) == 0 {
		return ""
	}
	return g.calls[len(g.calls)-1]
}

type fixture struct {
	mp  *platform.MemoryPlatform
	ros *roster.MemoryRoster
	att *attention.Store
	mem *membership.Tracker
	cd  *cooldown.Ledger
	gen *fakeGenerator
	cmp *scriptedCompletion
	orc *Orchestrator

	now time.Time
}

func (f *fixture) clock() time.Time { return f.now }

// inbound records a message on the platform and feeds it to the engine,
// the way a subscribed adapter would.
func (f *fixture) inbound(msg platform.Message) {
	msg.Timestamp = f.now
	f.mp.Append(msg)
	f.orc.OnMessage(msg)
}

func newFixture(t *testing.T, verdictText string, agents ...roster.Agent) *fixture {
	t.Helper()
	f := &fixture{
		mp:  platform.NewMemoryPlatform(),
		ros: roster.NewMemoryRoster(agents...),
		gen: &fakeGenerator{},
		cmp: &scriptedCompletion{text: verdictText},
		now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	f.mp.SetNow(f.clock)
	f.att = attention.NewStore(attention.Config{},
		attention.WithNow(f.clock),
		attention.WithRand(rand.New(rand.NewSource(1))), // #nosec G404 -- deterministic test source
	)
	f.mem = membership.NewTracker(membership.DefaultMaxChannelsPerAgent, membership.WithNow(f.clock))
	f.cd = cooldown.NewLedger(cooldown.Config{})
	dec := decision.NewDecider(f.cmp, decision.Config{}, decision.WithNow(f.clock))
	f.orc = New(f.mp, f.ros, f.att, f.mem, f.cd, dec, f.gen, Config{},
		WithNow(f.clock),
		WithRand(rand.New(rand.NewSource(1))), // #nosec G404 -- deterministic test source
	)
	return f
}

func testAgent(id, name string) roster.Agent {
	return roster.Agent{ID: id, Name: name, Tag: "<@" + id + ">"}
}

func TestOrchestrator_OnMessage_MentionRaisesAttention(t *testing.T) {
	f := newFixture(t, "NO", testAgent("a1", "Ada"))

	f.inbound(platform.Message{
		ChannelID: "c1", AuthorID: "u1", AuthorName: "sam",
		Content: "hey Ada, what do you think?",
	})

	if got := f.att.Level("c1", "a1"); got != 1.0 {
		t.Fatalf("Level = %v, want 1.0", got)
	}
	if !f.att.IsRecentlyMentioned("c1", "a1") {
		t.Error("expected open mention memory for a1")
	}
}

func TestOrchestrator_OnMessage_MemberBoost(t *testing.T) {
	f := newFixture(t, "NO", testAgent("a1", "Ada"))
	f.mem.Add("c1", "a1", "g1")

	f.inbound(platform.Message{
		ChannelID: "c1", AuthorID: "u1", Content: "morning all",
	})
	if got := f.att.Level("c1", "a1"); got != 0.1 {
		t.Fatalf("Level after human message = %v, want 0.1", got)
	}

	// Agent-authored traffic must not boost fellow members.
	f.inbound(platform.Message{
		ChannelID: "c1", AuthorID: "a2", AuthorIsAgent: true, Content: "hello",
	})
	if got := f.att.Level("c1", "a1"); got != 0.1 {
		t.Fatalf("Level after agent message = %v, want 0.1", got)
	}
}

func TestOrchestrator_OnMessage_OwnMessageTouchesPresence(t *testing.T) {
	f := newFixture(t, "NO", testAgent("a1", "Ada"))

	f.inbound(platform.Message{
		ChannelID: "c1", GuildID: "g1", AuthorID: "a1", AuthorIsAgent: true,
		Content: "I am here",
	})

	guild, ok := f.mem.MostRecentGuild("a1")
	if !ok || guild != "g1" {
		t.Fatalf("MostRecentGuild = %q, %v, want g1, true", guild, ok)
	}
	if f.att.Level("c1", "a1") != 0 {
		t.Error("agent's own message must not raise its attention")
	}
}

func TestOrchestrator_Tick_MentionForcesDispatch(t *testing.T) {
	// The completion service errors; a forced dispatch must not consult it.
	f := newFixture(t, "NO", testAgent("a1", "Ada"))
	f.cmp.err = context.DeadlineExceeded

	f.inbound(platform.Message{
		ChannelID: "c1", AuthorID: "u1", Content: "Ada, are you around?",
	})
	f.orc.Tick(context.Background())

	if f.gen.count() != 1 {
		t.Fatalf("generator calls = %d, want 1", f.gen.count())
	}
	if got := f.gen.last(); got != "a1@c1" {
		t.Errorf("dispatched %q, want a1@c1", got)
	}
	if f.cmp.calls != 0 {
		t.Errorf("completion calls = %d, want 0", f.cmp.calls)
	}
	if !f.mem.IsMember("c1", "a1") {
		t.Error("a successful dispatch should join the agent to the channel")
	}
}

func TestOrchestrator_Tick_CooldownBlocksSecondPass(t *testing.T) {
	f := newFixture(t, "NO", testAgent("a1", "Ada"))

	f.inbound(platform.Message{
		ChannelID: "c1", AuthorID: "u1", Content: "Ada?",
	})
	f.orc.Tick(context.Background())
	f.orc.Tick(context.Background())

	if f.gen.count() != 1 {
		t.Fatalf("generator calls after two ticks = %d, want 1", f.gen.count())
	}

	// Past the human cooldown the still-open mention memory fires again.
	f.now = f.now.Add(6 * time.Second)
	f.orc.Tick(context.Background())
	if f.gen.count() != 2 {
		t.Fatalf("generator calls after cooldown = %d, want 2", f.gen.count())
	}
}

func TestOrchestrator_Tick_DeclinedVerdictStaysSilent(t *testing.T) {
	f := newFixture(t, "NO", testAgent("a1", "Ada"))
	f.mem.Add("c1", "a1", "g1")
	f.att.Increase("c1", "a1", 0.4)

	f.inbound(platform.Message{
		ChannelID: "c1", AuthorID: "u1", Content: "anyone read the news?",
	})
	f.orc.Tick(context.Background())

	if f.gen.count() != 0 {
		t.Fatalf("generator calls = %d, want 0", f.gen.count())
	}
	if f.cmp.calls != 1 {
		t.Errorf("completion calls = %d, want 1", f.cmp.calls)
	}
}

func TestOrchestrator_Tick_ApprovedVerdictDispatches(t *testing.T) {
	f := newFixture(t, "YES", testAgent("a1", "Ada"))
	f.mem.Add("c1", "a1", "g1")
	f.att.Increase("c1", "a1", 0.4)

	f.inbound(platform.Message{
		ChannelID: "c1", AuthorID: "u1", Content: "anyone read the news?",
	})
	f.orc.Tick(context.Background())

	if f.gen.count() != 1 {
		t.Fatalf("generator calls = %d, want 1", f.gen.count())
	}
}

func TestOrchestrator_Tick_LowAttentionSkipsDecider(t *testing.T) {
	// A member at a level below the deliberation band only reaches the
	// decider on a level-weighted coin flip; the seeded source fails it.
	f := newFixture(t, "YES", testAgent("a1", "Ada"))
	f.mem.Add("c1", "a1", "g1")

	f.inbound(platform.Message{
		ChannelID: "c1", AuthorID: "u1", Content: "anyone read the news?",
	})
	if got := f.att.Level("c1", "a1"); got != 0.1 {
		t.Fatalf("Level = %v, want 0.1", got)
	}
	f.orc.Tick(context.Background())

	if f.cmp.calls != 0 {
		t.Fatalf("completion calls = %d, want 0", f.cmp.calls)
	}
	if f.gen.count() != 0 {
		t.Fatalf("generator calls = %d, want 0", f.gen.count())
	}
}

func TestOrchestrator_Dispatch_HighAttentionForces(t *testing.T) {
	// At the force threshold the dispatch must not consult the decider at
	// all, so a completion failure cannot silence it.
	f := newFixture(t, "NO", testAgent("a1", "Ada"))
	f.cmp.err = context.DeadlineExceeded
	f.att.Increase("c1", "a1", 1.0)

	got := f.orc.Dispatch(context.Background(), platform.Channel{ID: "c1"}, testAgent("a1", "Ada"), dispatchOpts{
		weighAttention: true,
	})
	if got != "sent" {
		t.Fatalf("outcome = %q, want sent", got)
	}
	if f.cmp.calls != 0 {
		t.Errorf("completion calls = %d, want 0", f.cmp.calls)
	}
}

func TestOrchestrator_Dispatch_BandAttentionConsultsDecider(t *testing.T) {
	f := newFixture(t, "YES", testAgent("a1", "Ada"))
	f.att.Increase("c1", "a1", 0.5)

	got := f.orc.Dispatch(context.Background(), platform.Channel{ID: "c1"}, testAgent("a1", "Ada"), dispatchOpts{
		weighAttention: true,
		messages: []platform.Message{
			{ChannelID: "c1", AuthorID: "u1", Content: "anyone read the news?"},
		},
	})
	if got != "sent" {
		t.Fatalf("outcome = %q, want sent", got)
	}
	if f.cmp.calls != 1 {
		t.Errorf("completion calls = %d, want 1", f.cmp.calls)
	}
}

func TestOrchestrator_Dispatch_ZeroAttentionSkipped(t *testing.T) {
	f := newFixture(t, "YES", testAgent("a1", "Ada"))

	got := f.orc.Dispatch(context.Background(), platform.Channel{ID: "c1"}, testAgent("a1", "Ada"), dispatchOpts{
		weighAttention: true,
	})
	if got != "skipped_attention" {
		t.Fatalf("outcome = %q, want skipped_attention", got)
	}
	if f.cmp.calls != 0 {
		t.Errorf("completion calls = %d, want 0", f.cmp.calls)
	}
}

func TestOrchestrator_Dispatch_InflightGuard(t *testing.T) {
	f := newFixture(t, "NO", testAgent("a1", "Ada"))
	f.gen.entered = make(chan struct{})
	f.gen.block = make(chan struct{})
	entered := f.gen.entered

	ch := platform.Channel{ID: "c1"}
	agent := testAgent("a1", "Ada")

	go f.orc.Dispatch(context.Background(), ch, agent, dispatchOpts{force: true})
	<-entered

	if got := f.orc.Dispatch(context.Background(), ch, agent, dispatchOpts{force: true}); got != "skipped_inflight" {
		t.Fatalf("second dispatch outcome = %q, want skipped_inflight", got)
	}

	close(f.gen.block)
	if !f.orc.Drain() {
		t.Fatal("Drain timed out with generator unblocked")
	}
	if f.gen.count() != 1 {
		t.Errorf("generator calls = %d, want 1", f.gen.count())
	}
}

func TestOrchestrator_Dispatch_SaturationDamper(t *testing.T) {
	f := newFixture(t, "YES", testAgent("a1", "Ada"))

	got := f.orc.Dispatch(context.Background(), platform.Channel{ID: "c1"}, testAgent("a1", "Ada"), dispatchOpts{
		saturation: 1.0,
	})
	if got != "skipped_saturated" {
		t.Fatalf("outcome = %q, want skipped_saturated", got)
	}
	if f.gen.count() != 0 {
		t.Errorf("generator calls = %d, want 0", f.gen.count())
	}
}

func TestOrchestrator_Dispatch_GenerationFailure(t *testing.T) {
	f := newFixture(t, "YES", testAgent("a1", "Ada"))
	f.gen.err = context.DeadlineExceeded

	got := f.orc.Dispatch(context.Background(), platform.Channel{ID: "c1"}, testAgent("a1", "Ada"), dispatchOpts{
		force: true,
	})
	if got != "error" {
		t.Fatalf("outcome = %q, want error", got)
	}
	// A failed send must not start a cooldown.
	if !f.cd.CanRespond("a1", "c1", f.now, false) {
		t.Error("cooldown recorded despite generation failure")
	}
}

func TestOrchestrator_WatchdogTick(t *testing.T) {
	f := newFixture(t, "NO", testAgent("a1", "Ada"))

	f.inbound(platform.Message{
		ChannelID: "c1", GuildID: "g1", AuthorID: "u1", Content: "hello",
	})

	// Not idle yet.
	f.now = f.now.Add(10 * time.Second)
	f.orc.WatchdogTick(context.Background())
	if f.gen.count() != 0 {
		t.Fatalf("generator calls before threshold = %d, want 0", f.gen.count())
	}

	f.now = f.now.Add(25 * time.Second)
	f.orc.WatchdogTick(context.Background())
	if f.gen.count() != 1 {
		t.Fatalf("generator calls after threshold = %d, want 1", f.gen.count())
	}
	if got := f.gen.last(); got != "a1@c1" {
		t.Errorf("dispatched %q, want a1@c1", got)
	}

	// The idle clock was reset; an immediate second check stays quiet.
	f.orc.WatchdogTick(context.Background())
	if f.gen.count() != 1 {
		t.Fatalf("generator calls after reset = %d, want 1", f.gen.count())
	}
}

func TestOrchestrator_WatchdogTick_PrefersActiveChannels(t *testing.T) {
	f := newFixture(t, "NO", testAgent("a1", "Ada"))

	for _, id := range []string{"dead1", "dead2", "dead3"} {
		f.inbound(platform.Message{
			ChannelID: id, AuthorID: "u1", Content: "old traffic",
		})
	}

	// Long after the dead channels fell out of the activity window, one
	// channel sees a message and then goes quiet past the idle threshold.
	f.now = f.now.Add(30 * time.Minute)
	f.inbound(platform.Message{
		ChannelID: "quiet", AuthorID: "u1", Content: "anybody home?",
	})
	f.now = f.now.Add(35 * time.Second)
	f.orc.WatchdogTick(context.Background())

	if f.gen.count() != 1 {
		t.Fatalf("generator calls = %d, want 1", f.gen.count())
	}
	if got := f.gen.last(); got != "a1@quiet" {
		t.Errorf("dispatched %q, want a1@quiet", got)
	}
}

func TestOrchestrator_RotationTick(t *testing.T) {
	f := newFixture(t, "YES", testAgent("a1", "Ada"))

	f.inbound(platform.Message{
		ChannelID: "stale", AuthorID: "u1", Content: "it got quiet in here",
	})

	f.now = f.now.Add(6 * time.Minute)
	f.inbound(platform.Message{
		ChannelID: "fresh", AuthorID: "u2", Content: "busy channel",
	})

	f.orc.RotationTick(context.Background())

	if f.gen.count() != 1 {
		t.Fatalf("generator calls = %d, want 1", f.gen.count())
	}
	if got := f.gen.last(); got != "a1@stale" {
		t.Errorf("rotation dispatched %q, want a1@stale", got)
	}
}

func TestOrchestrator_RotationTick_NothingStale(t *testing.T) {
	f := newFixture(t, "YES", testAgent("a1", "Ada"))

	f.inbound(platform.Message{
		ChannelID: "c1", AuthorID: "u1", Content: "hi",
	})
	f.orc.RotationTick(context.Background())

	if f.gen.count() != 0 {
		t.Fatalf("generator calls = %d, want 0", f.gen.count())
	}
}

func TestOrchestrator_SweepTick(t *testing.T) {
	f := newFixture(t, "NO", testAgent("a1", "Ada"))

	f.inbound(platform.Message{
		ChannelID: "c1", AuthorID: "u1", Content: "hello Ada",
	})
	f.cd.Record("a1", "c1", f.now, false)

	f.now = f.now.Add(48 * time.Hour)
	f.orc.SweepTick(context.Background())

	if f.cd.Len() != 0 {
		t.Errorf("cooldown entries after sweep = %d, want 0", f.cd.Len())
	}
	if f.att.IsRecentlyMentioned("c1", "a1") {
		t.Error("mention memory survived the sweep")
	}
}
