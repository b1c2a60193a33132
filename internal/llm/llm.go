// Package llm wraps the completion-service collaborators. The engine sends
// a small role-tagged message list and receives free-form text; callers own
// any further parsing of that text.
package llm

import (
	"context"
	"strings"
)

// Roles used in completion requests. The engine only distinguishes between
// agent-authored and other-authored turns.
const (
	RoleSystem    = "system"
	RoleAgent     = "assistant"
	RoleOther     = "user"
)

// Message is one role-tagged turn of conversation context.
type Message struct {
	Role    string
	Content string
}

// Request is a single completion call.
type Request struct {
	// Model selects the model; empty falls back to the provider default.
	Model string
	// System is an optional system prompt.
	System string
	// Messages is the role-tagged context window, oldest first.
	Messages []Message
	// MaxTokens caps the response length; zero uses the provider default.
	MaxTokens int
}

// Completer is the completion-service collaborator.
type Completer interface {
	// Complete returns the model's full text response.
	Complete(ctx context.Context, req Request) (string, error)
	// Name identifies the provider for routing and logging.
	Name() string
}

// retryableCallError classifies transient completion failures by message:
// rate limits, 5xx, timeouts, and connection problems.
func retryableCallError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"rate_limit", "429", "too many requests",
		"500", "502", "503", "504",
		"internal server error", "bad gateway", "service unavailable", "overloaded",
		"timeout", "deadline exceeded",
		"connection reset", "connection refused", "no such host", "eof",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
