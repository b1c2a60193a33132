// Package platform defines the narrow contract between the engine and the
// chat platform it inhabits. The engine treats message authorship as binary
// (agent vs. other) and never interprets platform-specific formatting.
package platform

import (
	"context"
	"time"
)

// Message is a single chat message as seen by the engine.
type Message struct {
	ID            string    `json:"id"`
	ChannelID     string    `json:"channel_id"`
	GuildID       string    `json:"guild_id,omitempty"`
	AuthorID      string    `json:"author_id"`
	AuthorName    string    `json:"author_name,omitempty"`
	AuthorIsAgent bool      `json:"author_is_agent"`
	Content       string    `json:"content"`
	Timestamp     time.Time `json:"timestamp"`
}

// Channel identifies a conversation stream and the guild (community) it
// belongs to. The engine does not own channel lifecycle.
type Channel struct {
	ID      string `json:"id"`
	GuildID string `json:"guild_id,omitempty"`
}

// Persona is the outward identity a message is sent under.
type Persona struct {
	Name      string
	AvatarURL string
}

// Platform is the chat-platform collaborator.
//
// RecentMessages returns the newest messages for a channel, oldest first,
// capped at limit. ActiveChannels returns channels with inbound traffic
// inside the activity window. SendAs delivers text under the given persona
// and returns the platform message ID.
type Platform interface {
	RecentMessages(ctx context.Context, channelID string, limit int) ([]Message, error)
	ActiveChannels(ctx context.Context, window time.Duration) ([]Channel, error)
	SendAs(ctx context.Context, channelID string, persona Persona, text string) (string, error)
}

// Listener receives inbound message events. Implementations must not block;
// the adapter delivers events from its own goroutine.
type Listener interface {
	OnMessage(msg Message)
}

// ListenerFunc adapts a function to the Listener interface.
type ListenerFunc func(msg Message)

// OnMessage calls f(msg).
func (f ListenerFunc) OnMessage(msg Message) { f(msg) }
