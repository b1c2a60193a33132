// Package discord adapts a Discord gateway session to the platform
// contract. Agent messages go out through per-channel webhooks so each
// persona carries its own display name and avatar.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/ssergorp/menagerie/internal/backoff"
	"github.com/ssergorp/menagerie/internal/platform"
)

const webhookName = "menagerie"

// discordSession allows mocking the Discord session in tests.
type discordSession interface {
	Open() error
	Close() error
	AddHandler(handler interface{}) func()
	ChannelMessages(channelID string, limit int, beforeID, afterID, aroundID string, options ...discordgo.RequestOption) ([]*discordgo.Message, error)
	ChannelMessageSend(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelWebhooks(channelID string, options ...discordgo.RequestOption) ([]*discordgo.Webhook, error)
	WebhookCreate(channelID, name, avatar string, options ...discordgo.RequestOption) (*discordgo.Webhook, error)
	WebhookExecute(webhookID, token string, wait bool, data *discordgo.WebhookParams, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Config holds configuration for the Discord adapter.
type Config struct {
	// Token is the bot token from the Discord developer portal (required).
	Token string

	// GuildIDs limits the adapter to specific guilds; empty means all.
	GuildIDs []string

	// UseWebhooks routes agent sends through per-channel webhooks. When
	// false, sends fall back to a name-prefixed bot message.
	UseWebhooks bool

	// ConnectAttempts is how many times to try opening the gateway.
	ConnectAttempts int

	// ConnectBackoff shapes the delay between connection attempts.
	ConnectBackoff backoff.Policy
}

// Validate checks the configuration and applies defaults.
func (c *Config) Validate() error {
	if c.Token == "" {
		return fmt.Errorf("discord: token is required")
	}
	if c.ConnectAttempts == 0 {
		c.ConnectAttempts = 5
	}
	if c.ConnectBackoff == (backoff.Policy{}) {
		c.ConnectBackoff = backoff.DefaultPolicy()
	}
	return nil
}

type channelActivity struct {
	guildID  string
	lastSeen time.Time
}

// Adapter implements platform.Platform over a Discord gateway session.
type Adapter struct {
	config  Config
	session discordSession
	logger  *slog.Logger
	now     func() time.Time

	// resolveAuthor maps a webhook display name back to an agent ID, so
	// agents recognize each other's messages in the history.
	resolveAuthor func(username string) (string, bool)

	mu        sync.RWMutex
	started   bool
	selfID    string
	guilds    map[string]bool
	activity  map[string]*channelActivity
	webhooks  map[string]*discordgo.Webhook
	listeners []platform.Listener

	removeHandlers []func()
}

// Option configures the adapter.
type Option func(*Adapter)

// WithLogger configures the adapter logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Adapter) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithNow overrides the clock for tests.
func WithNow(now func() time.Time) Option {
	return func(a *Adapter) {
		if now != nil {
			a.now = now
		}
	}
}

// WithSession overrides the gateway session, for tests.
func WithSession(s discordSession) Option {
	return func(a *Adapter) {
		a.session = s
	}
}

// WithAuthorResolver maps webhook display names back to agent IDs.
func WithAuthorResolver(resolve func(username string) (string, bool)) Option {
	return func(a *Adapter) {
		a.resolveAuthor = resolve
	}
}

// NewAdapter creates a Discord adapter with the given configuration.
func NewAdapter(config Config, opts ...Option) (*Adapter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	a := &Adapter{
		config:   config,
		logger:   slog.Default(),
		now:      time.Now,
		guilds:   make(map[string]bool),
		activity: make(map[string]*channelActivity),
		webhooks: make(map[string]*discordgo.Webhook),
	}
	for _, g := range config.GuildIDs {
		a.guilds[g] = true
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With("adapter", "discord")
	return a, nil
}

// Subscribe registers a listener for inbound messages. Listeners added
// after Start still receive subsequent events.
func (a *Adapter) Subscribe(l platform.Listener) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.listeners = append(a.listeners, l)
}

// Start opens the gateway connection and registers event handlers.
func (a *Adapter) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.started {
		a.mu.Unlock()
		return fmt.Errorf("discord: adapter already started")
	}
	if a.session == nil {
		dg, err := discordgo.New("Bot " + a.config.Token)
		if err != nil {
			a.mu.Unlock()
			return fmt.Errorf("discord: create session: %w", err)
		}
		dg.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsMessageContent
		a.session = dg
	}
	session := a.session
	a.mu.Unlock()

	a.removeHandlers = append(a.removeHandlers,
		session.AddHandler(a.handleReady),
		session.AddHandler(a.handleMessageCreate),
	)

	err := backoff.Retry(ctx, a.config.ConnectBackoff, a.config.ConnectAttempts,
		func(error) bool { return true },
		func(context.Context) error { return session.Open() })
	if err != nil {
		return fmt.Errorf("discord: open gateway: %w", err)
	}

	a.mu.Lock()
	a.started = true
	a.mu.Unlock()

	a.logger.Info("discord adapter started", "webhooks", a.config.UseWebhooks)
	return nil
}

// Stop closes the gateway connection.
func (a *Adapter) Stop() error {
	a.mu.Lock()
	if !a.started {
		a.mu.Unlock()
		return nil
	}
	a.started = false
	a.mu.Unlock()

	for _, remove := range a.removeHandlers {
		remove()
	}
	a.removeHandlers = nil

	if err := a.session.Close(); err != nil {
		return fmt.Errorf("discord: close gateway: %w", err)
	}
	a.logger.Info("discord adapter stopped")
	return nil
}

func (a *Adapter) handleReady(_ *discordgo.Session, r *discordgo.Ready) {
	a.mu.Lock()
	if r.User != nil {
		a.selfID = r.User.ID
	}
	a.mu.Unlock()

	a.logger.Info("discord gateway ready", "guilds", len(r.Guilds))
}

func (a *Adapter) handleMessageCreate(_ *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil {
		return
	}
	if !a.inScope(m.GuildID) {
		return
	}

	msg := a.convertMessage(m.Message)

	a.mu.Lock()
	act := a.activity[msg.ChannelID]
	if act == nil {
		act = &channelActivity{}
		a.activity[msg.ChannelID] = act
	}
	act.guildID = m.GuildID
	act.lastSeen = a.now()
	listeners := make([]platform.Listener, len(a.listeners))
	copy(listeners, a.listeners)
	a.mu.Unlock()

	for _, l := range listeners {
		l.OnMessage(msg)
	}
}

func (a *Adapter) inScope(guildID string) bool {
	if len(a.guilds) == 0 {
		return true
	}
	return a.guilds[guildID]
}

// convertMessage maps one gateway message to the platform contract.
// Webhook and bot authors count as agents; webhook display names resolve
// back to agent IDs when a resolver is installed.
func (a *Adapter) convertMessage(m *discordgo.Message) platform.Message {
	msg := platform.Message{
		ID:         m.ID,
		ChannelID:  m.ChannelID,
		GuildID:    m.GuildID,
		AuthorID:   m.Author.ID,
		AuthorName: m.Author.Username,
		Content:    m.Content,
		Timestamp:  m.Timestamp,
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = a.now()
	}
	if m.WebhookID != "" || m.Author.Bot {
		msg.AuthorIsAgent = true
		if a.resolveAuthor != nil {
			if id, ok := a.resolveAuthor(m.Author.Username); ok {
				msg.AuthorID = id
			}
		}
	}
	return msg
}

// RecentMessages returns up to limit newest messages, oldest first.
func (a *Adapter) RecentMessages(_ context.Context, channelID string, limit int) ([]platform.Message, error) {
	raw, err := a.session.ChannelMessages(channelID, limit, "", "", "")
	if err != nil {
		if isRateLimitError(err) {
			return nil, fmt.Errorf("discord: rate limited fetching messages: %w", err)
		}
		return nil, fmt.Errorf("discord: fetch messages for %s: %w", channelID, err)
	}

	// The API returns newest first.
	out := make([]platform.Message, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		if raw[i].Author == nil {
			continue
		}
		out = append(out, a.convertMessage(raw[i]))
	}
	return out, nil
}

// ActiveChannels returns channels that saw gateway traffic inside the
// window. The set is built from observed messages, not API enumeration,
// so a freshly started adapter reports nothing until traffic arrives.
func (a *Adapter) ActiveChannels(_ context.Context, window time.Duration) ([]platform.Channel, error) {
	cutoff := a.now().Add(-window)

	a.mu.RLock()
	defer a.mu.RUnlock()
	var out []platform.Channel
	for id, act := range a.activity {
		if act.lastSeen.After(cutoff) {
			out = append(out, platform.Channel{ID: id, GuildID: act.guildID})
		}
	}
	return out, nil
}

// SendAs delivers text to a channel under the persona's name and avatar.
func (a *Adapter) SendAs(ctx context.Context, channelID string, persona platform.Persona, text string) (string, error) {
	if !a.config.UseWebhooks {
		sent, err := a.session.ChannelMessageSend(channelID, "**"+persona.Name+"**: "+text)
		if err != nil {
			return "", fmt.Errorf("discord: send as %s: %w", persona.Name, err)
		}
		return sent.ID, nil
	}

	hook, err := a.channelWebhook(channelID)
	if err != nil {
		return "", err
	}
	sent, err := a.session.WebhookExecute(hook.ID, hook.Token, true, &discordgo.WebhookParams{
		Content:   text,
		Username:  persona.Name,
		AvatarURL: persona.AvatarURL,
	})
	if err != nil {
		// The cached webhook may have been deleted out from under us.
		a.mu.Lock()
		delete(a.webhooks, channelID)
		a.mu.Unlock()
		return "", fmt.Errorf("discord: webhook send as %s: %w", persona.Name, err)
	}
	return sent.ID, nil
}

// channelWebhook returns the adapter-owned webhook for a channel, creating
// it on first use.
func (a *Adapter) channelWebhook(channelID string) (*discordgo.Webhook, error) {
	a.mu.RLock()
	hook := a.webhooks[channelID]
	a.mu.RUnlock()
	if hook != nil {
		return hook, nil
	}

	existing, err := a.session.ChannelWebhooks(channelID)
	if err != nil {
		return nil, fmt.Errorf("discord: list webhooks for %s: %w", channelID, err)
	}
	for _, wh := range existing {
		if wh.Name == webhookName && wh.Token != "" {
			a.mu.Lock()
			a.webhooks[channelID] = wh
			a.mu.Unlock()
			return wh, nil
		}
	}

	created, err := a.session.WebhookCreate(channelID, webhookName, "")
	if err != nil {
		return nil, fmt.Errorf("discord: create webhook for %s: %w", channelID, err)
	}
	a.mu.Lock()
	a.webhooks[channelID] = created
	a.mu.Unlock()
	return created, nil
}

// SelfID returns the bot user ID once the gateway is ready.
func (a *Adapter) SelfID() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.selfID
}

func isRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "rate limit") ||
		strings.Contains(s, "429") ||
		strings.Contains(s, "Too Many Requests")
}
