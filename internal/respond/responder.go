// Package respond implements the default response-generation collaborator:
// build a persona prompt from recent channel context, call the completion
// service, and deliver the reply through the platform under the agent's
// identity.
package respond

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ssergorp/menagerie/internal/llm"
	"github.com/ssergorp/menagerie/internal/platform"
	"github.com/ssergorp/menagerie/internal/roster"
)

// Completion is the slice of the completion service the responder needs.
type Completion interface {
	Complete(ctx context.Context, modelHint string, req llm.Request) (string, error)
}

// Config configures the responder.
type Config struct {
	// ContextWindow is how many recent messages shape the reply.
	ContextWindow int
	// MaxTokens caps reply length.
	MaxTokens int
	// CallTimeout bounds the completion call per reply.
	CallTimeout time.Duration
}

// DefaultConfig returns the default responder configuration.
func DefaultConfig() Config {
	return Config{
		ContextWindow: 12,
		MaxTokens:     300,
		CallTimeout:   45 * time.Second,
	}
}

// Responder generates and delivers one reply per Generate call.
type Responder struct {
	completion Completion
	platform   platform.Platform
	config     Config
	logger     *slog.Logger
}

// Option configures the responder.
type Option func(*Responder)

// WithLogger configures the responder logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Responder) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewResponder creates a responder.
func NewResponder(completion Completion, p platform.Platform, config Config, opts ...Option) *Responder {
	def := DefaultConfig()
	if config.ContextWindow <= 0 {
		config.ContextWindow = def.ContextWindow
	}
	if config.MaxTokens <= 0 {
		config.MaxTokens = def.MaxTokens
	}
	if config.CallTimeout <= 0 {
		config.CallTimeout = def.CallTimeout
	}
	r := &Responder{
		completion: completion,
		platform:   p,
		config:     config,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "respond")
	return r
}

// Generate produces and sends one reply for the agent in the channel.
// Empty completion output is an error; nothing is sent.
func (r *Responder) Generate(ctx context.Context, agent roster.Agent, channelID string) error {
	msgs, err := r.platform.RecentMessages(ctx, channelID, r.config.ContextWindow)
	if err != nil {
		return fmt.Errorf("respond: fetch context for %s: %w", channelID, err)
	}

	callCtx, cancel := context.WithTimeout(ctx, r.config.CallTimeout)
	defer cancel()

	text, err := r.completion.Complete(callCtx, agent.Model, llm.Request{
		System:    r.systemPrompt(agent),
		Messages:  r.contextWindow(agent, msgs),
		MaxTokens: r.config.MaxTokens,
	})
	if err != nil {
		return fmt.Errorf("respond: completion for %s in %s: %w", agent.ID, channelID, err)
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return errors.New("respond: completion returned empty reply")
	}

	persona := platform.Persona{Name: agent.Name, AvatarURL: agent.AvatarURL}
	msgID, err := r.platform.SendAs(ctx, channelID, persona, text)
	if err != nil {
		return fmt.Errorf("respond: send as %s in %s: %w", agent.ID, channelID, err)
	}

	r.logger.Debug("reply delivered",
		"agent_id", agent.ID, "channel_id", channelID, "message_id", msgID)
	return nil
}

func (r *Responder) systemPrompt(agent roster.Agent) string {
	var sb strings.Builder
	sb.WriteString("You are \"")
	sb.WriteString(agent.Name)
	sb.WriteString("\", a persona chatting in a group channel.\n")
	if agent.Description != "" {
		sb.WriteString(agent.Description)
		sb.WriteString("\n")
	}
	sb.WriteString("Reply with a single short chat message in character. ")
	sb.WriteString("Do not prefix your name; the platform shows it already.")
	return sb.String()
}

func (r *Responder) contextWindow(agent roster.Agent, msgs []platform.Message) []llm.Message {
	out := make([]llm.Message, 0, len(msgs))
	for _, m := range msgs {
		role := llm.RoleOther
		if m.AuthorID == agent.ID {
			role = llm.RoleAgent
		}
		name := m.AuthorName
		if name == "" {
			name = m.AuthorID
		}
		out = append(out, llm.Message{Role: role, Content: name + ": " + m.Content})
	}
	return out
}
