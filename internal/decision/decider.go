package decision

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/ssergorp/menagerie/internal/llm"
	"github.com/ssergorp/menagerie/internal/platform"
	"github.com/ssergorp/menagerie/internal/roster"
)

// Completion is the slice of the completion service the decider needs.
type Completion interface {
	Complete(ctx context.Context, modelHint string, req llm.Request) (string, error)
}

// Config configures the decider.
type Config struct {
	// CacheTTL is how long a verdict is reused per agent.
	CacheTTL time.Duration
	// ContextWindow is how many recent messages go into the prompt.
	ContextWindow int
	// BotRunLength is the all-bot run that short-circuits to NO.
	BotRunLength int
	// CallTimeout bounds each completion-service call.
	CallTimeout time.Duration
}

// DefaultConfig returns the default decider configuration.
func DefaultConfig() Config {
	return Config{
		CacheTTL:      5 * time.Minute,
		ContextWindow: 5,
		BotRunLength:  4,
		CallTimeout:   20 * time.Second,
	}
}

// Input is one decision request: should this agent speak in this channel
// right now, given its recent messages (oldest first).
type Input struct {
	Agent     roster.Agent
	ChannelID string
	Messages  []platform.Message
}

// Decider arbitrates between heuristics and the completion service.
// It fails closed: any external failure yields a NO verdict.
type Decider struct {
	completion Completion
	cache      *Cache
	config     Config
	now        func() time.Time
	logger     *slog.Logger
}

// Option configures the decider.
type Option func(*Decider)

// WithNow overrides the clock for tests.
func WithNow(now func() time.Time) Option {
	return func(d *Decider) {
		if now != nil {
			d.now = now
		}
	}
}

// WithLogger configures the decider logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Decider) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// NewDecider creates a decider backed by the given completion service.
func NewDecider(completion Completion, config Config, opts ...Option) *Decider {
	def := DefaultConfig()
	if config.CacheTTL <= 0 {
		config.CacheTTL = def.CacheTTL
	}
	if config.ContextWindow <= 0 {
		config.ContextWindow = def.ContextWindow
	}
	if config.BotRunLength <= 0 {
		config.BotRunLength = def.BotRunLength
	}
	if config.CallTimeout <= 0 {
		config.CallTimeout = def.CallTimeout
	}
	d := &Decider{
		completion: completion,
		cache:      NewCache(config.CacheTTL, 0),
		config:     config,
		now:        time.Now,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With("component", "decision")
	d.cache.SetNow(d.now)
	return d
}

// Cache exposes the verdict cache for sweeping.
func (d *Decider) Cache() *Cache { return d.cache }

// Decide runs the ordered short-circuit pipeline and returns the verdict.
//
// Order matters: an explicit mention must win ahead of the cache, so an
// agent whose last adjudication was NO still answers when called by name.
func (d *Decider) Decide(ctx context.Context, in Input) Verdict {
	if len(in.Messages) == 0 {
		return d.verdict(false, "no messages in channel")
	}

	last := in.Messages[len(in.Messages)-1]
	if last.AuthorID == in.Agent.ID {
		return d.verdict(false, "avoid replying to yourself")
	}

	if d.allAgentAuthored(in.Messages) {
		return d.verdict(false,
			fmt.Sprintf("last %d messages were from bots", d.config.BotRunLength))
	}

	if in.Agent.MentionedIn(last.Content) {
		return d.verdict(true, "mentioned by name")
	}

	if cached, ok := d.cache.Get(in.Agent.ID); ok {
		return cached
	}

	v := d.adjudicate(ctx, in)
	d.cache.Put(in.Agent.ID, v)
	return v
}

// allAgentAuthored reports whether the newest BotRunLength messages exist
// and are all agent-authored.
func (d *Decider) allAgentAuthored(msgs []platform.Message) bool {
	n := d.config.BotRunLength
	if len(msgs) < n {
		return false
	}
	for _, m := range msgs[len(msgs)-n:] {
		if !m.AuthorIsAgent {
			return false
		}
	}
	return true
}

// adjudicate issues one completion call and parses the YES/NO token from
// the last non-empty line of the response.
func (d *Decider) adjudicate(ctx context.Context, in Input) Verdict {
	callCtx, cancel := context.WithTimeout(ctx, d.config.CallTimeout)
	defer cancel()

	text, err := d.completion.Complete(callCtx, in.Agent.Model, llm.Request{
		System:   d.systemPrompt(in.Agent),
		Messages: d.contextWindow(in),
	})
	if err != nil {
		d.logger.Warn("adjudication call failed, staying silent",
			"agent_id", in.Agent.ID, "channel_id", in.ChannelID, "error", err)
		return d.verdict(false, "completion call failed")
	}

	respond, ok := parseVerdict(text)
	if !ok {
		d.logger.Warn("unparseable adjudication response, staying silent",
			"agent_id", in.Agent.ID, "channel_id", in.ChannelID, "raw", text)
		return d.verdict(false, "invalid verdict format")
	}
	reason := "model said no"
	if respond {
		reason = "model said yes"
	}
	return d.verdict(respond, reason)
}

func (d *Decider) systemPrompt(agent roster.Agent) string {
	var sb strings.Builder
	sb.WriteString("You judge whether the persona \"")
	sb.WriteString(agent.Name)
	sb.WriteString("\" should send a message in this chat right now.\n")
	if agent.Description != "" {
		sb.WriteString("Persona: ")
		sb.WriteString(agent.Description)
		sb.WriteString("\n")
	}
	sb.WriteString("Consider whether the persona has something to add, whether the ")
	sb.WriteString("conversation involves it, and whether speaking would feel natural.\n")
	sb.WriteString("Reason briefly if you need to, then answer with a single word, ")
	sb.WriteString("YES or NO, on the final line.")
	return sb.String()
}

// contextWindow builds the role-tagged prompt from the newest messages.
// The agent's own turns are tagged as assistant, everything else as user.
func (d *Decider) contextWindow(in Input) []llm.Message {
	msgs := in.Messages
	if len(msgs) > d.config.ContextWindow {
		msgs = msgs[len(msgs)-d.config.ContextWindow:]
	}
	out := make([]llm.Message, 0, len(msgs))
	for _, m := range msgs {
		role := llm.RoleOther
		if m.AuthorID == in.Agent.ID {
			role = llm.RoleAgent
		}
		name := m.AuthorName
		if name == "" {
			name = m.AuthorID
		}
		out = append(out, llm.Message{
			Role:    role,
			Content: name + ": " + m.Content,
		})
	}
	return out
}

// parseVerdict scans the last non-empty line for a terminal YES/NO token,
// tolerating free-form reasoning above it. Tokens only count as standalone
// words, so "EYES" carries no verdict. A line with both tokens or neither
// is invalid.
func parseVerdict(text string) (respond, ok bool) {
	lines := strings.Split(text, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		upper := strings.ToUpper(line)
		hasYes := hasToken(upper, "YES")
		hasNo := hasToken(upper, "NO")
		switch {
		case hasYes && !hasNo:
			return true, true
		case hasNo && !hasYes:
			return false, true
		default:
			return false, false
		}
	}
	return false, false
}

// hasToken reports whether line carries token as a whole word.
func hasToken(line, token string) bool {
	fields := strings.FieldsFunc(line, func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	for _, f := range fields {
		if f == token {
			return true
		}
	}
	return false
}

func (d *Decider) verdict(respond bool, reason string) Verdict {
	return Verdict{Respond: respond, Reason: reason, DecidedAt: d.now()}
}

// BotSaturation returns the fraction of the newest window messages that are
// agent-authored. The scheduling layer samples a uniform value against it
// before even consulting the decider, to keep bot-dominated channels from
// self-amplifying.
func BotSaturation(msgs []platform.Message, window int) float64 {
	if window <= 0 || len(msgs) == 0 {
		return 0
	}
	if len(msgs) > window {
		msgs = msgs[len(msgs)-window:]
	}
	bots := 0
	for _, m := range msgs {
		if m.AuthorIsAgent {
			bots++
		}
	}
	return float64(bots) / float64(len(msgs))
}
