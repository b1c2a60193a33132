package discord

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/ssergorp/menagerie/internal/platform"
)

// mockSession is a mock gateway session for testing.
type mockSession struct {
	mu          sync.Mutex
	openCalled  int
	closeCalled int
	openErr     error

	messages    map[string][]*discordgo.Message
	sent        []string
	webhooks    map[string][]*discordgo.Webhook
	executed    []*discordgo.WebhookParams
	executeErr  error
	messagesErr error
}

func newMockSession() *mockSession {
	return &mockSession{
		messages: make(map[string][]*discordgo.Message),
		webhooks: make(map[string][]*discordgo.Webhook),
	}
}

func (m *mockSession) Open() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.openCalled++
	return m.openErr
}

func (m *mockSession) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeCalled++
	return nil
}

func (m *mockSession) AddHandler(interface{}) func() {
	return func() {}
}

func (m *mockSession) ChannelMessages(channelID string, limit int, _, _, _ string, _ ...discordgo.RequestOption) ([]*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.messagesErr != nil {
		return nil, m.messagesErr
	}
	msgs := m.messages[channelID]
	if limit > 0 && limit < len(msgs) {
		msgs = msgs[:limit]
	}
	return msgs, nil
}

func (m *mockSession) ChannelMessageSend(channelID string, content string, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, content)
	return &discordgo.Message{ID: "sent-1", ChannelID: channelID, Content: content}, nil
}

func (m *mockSession) ChannelWebhooks(channelID string, _ ...discordgo.RequestOption) ([]*discordgo.Webhook, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.webhooks[channelID], nil
}

func (m *mockSession) WebhookCreate(channelID, name, _ string, _ ...discordgo.RequestOption) (*discordgo.Webhook, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wh := &discordgo.Webhook{ID: "wh-" + channelID, Token: "tok", Name: name, ChannelID: channelID}
	m.webhooks[channelID] = append(m.webhooks[channelID], wh)
	return wh, nil
}

func (m *mockSession) WebhookExecute(_, _ string, _ bool, data *discordgo.WebhookParams, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.executeErr != nil {
		return nil, m.executeErr
	}
	m.executed = append(m.executed, data)
	return &discordgo.Message{ID: "wh-msg-1"}, nil
}

func newTestAdapter(t *testing.T, s *mockSession, opts ...Option) *Adapter {
	t.Helper()
	opts = append([]Option{WithSession(s)}, opts...)
	a, err := NewAdapter(Config{Token: "test-token", UseWebhooks: true}, opts...)
	if err != nil {
		t.Fatalf("NewAdapter: %v", err)
	}
	return a
}

func TestConfig_Validate(t *testing.T) {
	cfg := Config{}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for missing token")
	}

	cfg = Config{Token: "t"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.ConnectAttempts != 5 {
		t.Errorf("ConnectAttempts = %d, want 5", cfg.ConnectAttempts)
	}
}

func TestAdapter_StartStop(t *testing.T) {
	s := newMockSession()
	a := newTestAdapter(t, s)

	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if s.openCalled != 1 {
		t.Errorf("openCalled = %d, want 1", s.openCalled)
	}
	if err := a.Start(context.Background()); err == nil {
		t.Error("expected error starting twice")
	}

	if err := a.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if s.closeCalled != 1 {
		t.Errorf("closeCalled = %d, want 1", s.closeCalled)
	}
	if err := a.Stop(); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
	if s.closeCalled != 1 {
		t.Errorf("closeCalled after second stop = %d, want 1", s.closeCalled)
	}
}

func TestAdapter_RecentMessages(t *testing.T) {
	s := newMockSession()
	// Newest first, matching the API.
	s.messages["c1"] = []*discordgo.Message{
		{ID: "m2", ChannelID: "c1", Content: "second", Author: &discordgo.User{ID: "u1", Username: "sam"}},
		{ID: "m1", ChannelID: "c1", Content: "first", Author: &discordgo.User{ID: "u1", Username: "sam"}},
	}
	a := newTestAdapter(t, s)

	got, err := a.RecentMessages(context.Background(), "c1", 10)
	if err != nil {
		t.Fatalf("RecentMessages: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].ID != "m1" || got[1].ID != "m2" {
		t.Errorf("order = %s, %s, want m1, m2", got[0].ID, got[1].ID)
	}
}

func TestAdapter_MessageEventDelivery(t *testing.T) {
	s := newMockSession()
	a := newTestAdapter(t, s)

	var received []platform.Message
	a.Subscribe(platform.ListenerFunc(func(msg platform.Message) {
		received = append(received, msg)
	}))

	a.handleMessageCreate(nil, &discordgo.MessageCreate{Message: &discordgo.Message{
		ID: "m1", ChannelID: "c1", GuildID: "g1", Content: "hello",
		Author: &discordgo.User{ID: "u1", Username: "sam"},
	}})

	if len(received) != 1 {
		t.Fatalf("received %d messages, want 1", len(received))
	}
	if received[0].AuthorIsAgent {
		t.Error("human author flagged as agent")
	}

	chans, err := a.ActiveChannels(context.Background(), time.Minute)
	if err != nil {
		t.Fatalf("ActiveChannels: %v", err)
	}
	if len(chans) != 1 || chans[0].ID != "c1" || chans[0].GuildID != "g1" {
		t.Errorf("ActiveChannels = %+v", chans)
	}
}

func TestAdapter_GuildScope(t *testing.T) {
	s := newMockSession()
	a, err := NewAdapter(Config{Token: "t", GuildIDs: []string{"g1"}}, WithSession(s))
	if err != nil {
		t.Fatalf("NewAdapter: %v", err)
	}

	var received int
	a.Subscribe(platform.ListenerFunc(func(platform.Message) { received++ }))

	a.handleMessageCreate(nil, &discordgo.MessageCreate{Message: &discordgo.Message{
		ID: "m1", ChannelID: "c1", GuildID: "g2", Content: "out of scope",
		Author: &discordgo.User{ID: "u1"},
	}})
	if received != 0 {
		t.Errorf("received = %d, want 0 for out-of-scope guild", received)
	}
}

func TestAdapter_WebhookAuthorResolution(t *testing.T) {
	s := newMockSession()
	a := newTestAdapter(t, s, WithAuthorResolver(func(username string) (string, bool) {
		if username == "Ada" {
			return "agent-ada", true
		}
		return "", false
	}))

	var received []platform.Message
	a.Subscribe(platform.ListenerFunc(func(msg platform.Message) {
		received = append(received, msg)
	}))

	a.handleMessageCreate(nil, &discordgo.MessageCreate{Message: &discordgo.Message{
		ID: "m1", ChannelID: "c1", WebhookID: "wh-1", Content: "hi",
		Author: &discordgo.User{ID: "wh-user", Username: "Ada"},
	}})

	if len(received) != 1 {
		t.Fatalf("received %d messages, want 1", len(received))
	}
	if !received[0].AuthorIsAgent {
		t.Error("webhook author not flagged as agent")
	}
	if received[0].AuthorID != "agent-ada" {
		t.Errorf("AuthorID = %q, want agent-ada", received[0].AuthorID)
	}
}

func TestAdapter_SendAsWebhook(t *testing.T) {
	s := newMockSession()
	a := newTestAdapter(t, s)

	id, err := a.SendAs(context.Background(), "c1", platform.Persona{Name: "Ada", AvatarURL: "http://a"}, "hello")
	if err != nil {
		t.Fatalf("SendAs: %v", err)
	}
	if id != "wh-msg-1" {
		t.Errorf("message id = %q", id)
	}
	if len(s.executed) != 1 {
		t.Fatalf("executed %d webhooks, want 1", len(s.executed))
	}
	if s.executed[0].Username != "Ada" || s.executed[0].Content != "hello" {
		t.Errorf("webhook params = %+v", s.executed[0])
	}

	// Second send reuses the cached webhook.
	if _, err := a.SendAs(context.Background(), "c1", platform.Persona{Name: "Ada"}, "again"); err != nil {
		t.Fatalf("second SendAs: %v", err)
	}
	if len(s.webhooks["c1"]) != 1 {
		t.Errorf("created %d webhooks, want 1", len(s.webhooks["c1"]))
	}
}

func TestAdapter_SendAsWebhookFailureEvictsCache(t *testing.T) {
	s := newMockSession()
	a := newTestAdapter(t, s)

	if _, err := a.SendAs(context.Background(), "c1", platform.Persona{Name: "Ada"}, "hello"); err != nil {
		t.Fatalf("SendAs: %v", err)
	}

	s.mu.Lock()
	s.executeErr = errors.New("unknown webhook")
	s.mu.Unlock()
	if _, err := a.SendAs(context.Background(), "c1", platform.Persona{Name: "Ada"}, "again"); err == nil {
		t.Fatal("expected webhook failure")
	}

	a.mu.RLock()
	_, cached := a.webhooks["c1"]
	a.mu.RUnlock()
	if cached {
		t.Error("failed webhook left in cache")
	}
}

func TestAdapter_SendAsFallback(t *testing.T) {
	s := newMockSession()
	a, err := NewAdapter(Config{Token: "t"}, WithSession(s))
	if err != nil {
		t.Fatalf("NewAdapter: %v", err)
	}

	if _, err := a.SendAs(context.Background(), "c1", platform.Persona{Name: "Ada"}, "hello"); err != nil {
		t.Fatalf("SendAs: %v", err)
	}
	if len(s.sent) != 1 || s.sent[0] != "**Ada**: hello" {
		t.Errorf("sent = %v", s.sent)
	}
}

func TestIsRateLimitError(t *testing.T) {
	if !isRateLimitError(errors.New("HTTP 429 Too Many Requests")) {
		t.Error("429 not classified as rate limit")
	}
	if isRateLimitError(errors.New("boom")) {
		t.Error("generic error classified as rate limit")
	}
	if isRateLimitError(nil) {
		t.Error("nil classified as rate limit")
	}
}
