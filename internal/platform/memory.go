package platform

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"
)

// MemoryPlatform is an in-memory Platform implementation. It backs unit
// tests and local development; messages appended via Append are visible to
// RecentMessages and delivered to registered listeners.
type MemoryPlatform struct {
	mu        sync.RWMutex
	channels  map[string]Channel
	messages  map[string][]Message
	listeners []Listener
	sendErr   error
	nextID    int
	now       func() time.Time
}

// NewMemoryPlatform creates an empty in-memory platform.
func NewMemoryPlatform() *MemoryPlatform {
	return &MemoryPlatform{
		channels: make(map[string]Channel),
		messages: make(map[string][]Message),
		now:      time.Now,
	}
}

// SetNow overrides the clock, for tests.
func (m *MemoryPlatform) SetNow(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if now != nil {
		m.now = now
	}
}

// SetSendError forces SendAs to fail with err until cleared.
func (m *MemoryPlatform) SetSendError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendErr = err
}

// AddChannel registers a channel so it can show up in ActiveChannels.
func (m *MemoryPlatform) AddChannel(ch Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[ch.ID] = ch
}

// Subscribe registers a listener for inbound messages.
func (m *MemoryPlatform) Subscribe(l Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

// Append records an inbound message and notifies listeners.
func (m *MemoryPlatform) Append(msg Message) {
	m.mu.Lock()
	if msg.Timestamp.IsZero() {
		msg.Timestamp = m.now()
	}
	if msg.ID == "" {
		m.nextID++
		msg.ID = "mem-" + strconv.Itoa(m.nextID)
	}
	if _, ok := m.channels[msg.ChannelID]; !ok {
		m.channels[msg.ChannelID] = Channel{ID: msg.ChannelID, GuildID: msg.GuildID}
	}
	m.messages[msg.ChannelID] = append(m.messages[msg.ChannelID], msg)
	listeners := make([]Listener, len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.Unlock()

	for _, l := range listeners {
		l.OnMessage(msg)
	}
}

// RecentMessages returns up to limit newest messages, oldest first.
func (m *MemoryPlatform) RecentMessages(_ context.Context, channelID string, limit int) ([]Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	msgs := m.messages[channelID]
	if limit <= 0 || limit > len(msgs) {
		limit = len(msgs)
	}
	out := make([]Message, limit)
	copy(out, msgs[len(msgs)-limit:])
	return out, nil
}

// ActiveChannels returns channels whose newest message is inside the window.
func (m *MemoryPlatform) ActiveChannels(_ context.Context, window time.Duration) ([]Channel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cutoff := m.now().Add(-window)
	var out []Channel
	for id, ch := range m.channels {
		msgs := m.messages[id]
		if len(msgs) == 0 {
			continue
		}
		if msgs[len(msgs)-1].Timestamp.After(cutoff) {
			out = append(out, ch)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// SendAs appends an agent-authored message under the persona name.
func (m *MemoryPlatform) SendAs(_ context.Context, channelID string, persona Persona, text string) (string, error) {
	m.mu.Lock()
	if m.sendErr != nil {
		err := m.sendErr
		m.mu.Unlock()
		return "", err
	}
	m.nextID++
	msg := Message{
		ID:            "mem-" + strconv.Itoa(m.nextID),
		ChannelID:     channelID,
		AuthorID:      persona.Name,
		AuthorName:    persona.Name,
		AuthorIsAgent: true,
		Content:       text,
		Timestamp:     m.now(),
	}
	if ch, ok := m.channels[channelID]; ok {
		msg.GuildID = ch.GuildID
	}
	m.messages[channelID] = append(m.messages[channelID], msg)
	m.mu.Unlock()
	return msg.ID, nil
}

// Sent returns all agent-authored messages for a channel, for assertions.
func (m *MemoryPlatform) Sent(channelID string) []Message {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Message
	for _, msg := range m.messages[channelID] {
		if msg.AuthorIsAgent {
			out = append(out, msg)
		}
	}
	return out
}
