// Package roster holds the agent population: who the personas are, what they
// look like, and which completion model each one currently speaks through.
package roster

import (
	"context"
	"math/rand"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Agent is one autonomous chat persona. The engine mutates Model (rotating
// reselection) and channel assignment; it never creates or destroys agents.
type Agent struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Tag         string `json:"tag,omitempty"` // symbolic marker, e.g. an emoji
	Description string `json:"description"`   // personality blob, opaque here
	AvatarURL   string `json:"avatar_url,omitempty"`
	Model       string `json:"model"` // completion model hint
}

// MentionedIn reports whether the message text contains the agent's name or
// symbolic tag, case-insensitively. Names only match as whole words, so a
// short name cannot fire inside a longer one. An explicit mention always
// wins in the decision pipeline.
func (a Agent) MentionedIn(text string) bool {
	if a.Name == "" && a.Tag == "" {
		return false
	}
	lower := strings.ToLower(text)
	if a.Tag != "" && strings.Contains(lower, strings.ToLower(a.Tag)) {
		return true
	}
	return a.Name != "" && containsWord(lower, strings.ToLower(a.Name))
}

// containsWord reports whether s contains sub with no letter or digit
// adjacent on either side of the match.
func containsWord(s, sub string) bool {
	if sub == "" {
		return false
	}
	for from := 0; from+len(sub) <= len(s); {
		i := strings.Index(s[from:], sub)
		if i < 0 {
			return false
		}
		start := from + i
		end := start + len(sub)
		prev, _ := utf8.DecodeLastRuneInString(s[:start])
		next, _ := utf8.DecodeRuneInString(s[end:])
		if !isWordRune(prev) && !isWordRune(next) {
			return true
		}
		from = start + 1
	}
	return false
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

// Roster is the agent-roster collaborator.
type Roster interface {
	ListAgents(ctx context.Context) ([]Agent, error)
	GetAgent(ctx context.Context, id string) (Agent, bool, error)
	// SetModel persists a model reselection for an agent.
	SetModel(ctx context.Context, id, model string) error
}

// PickRandom returns a uniformly random agent from the roster, or false when
// the roster is empty.
func PickRandom(ctx context.Context, r Roster, rng *rand.Rand) (Agent, bool, error) {
	agents, err := r.ListAgents(ctx)
	if err != nil {
		return Agent{}, false, err
	}
	if len(agents) == 0 {
		return Agent{}, false, nil
	}
	return agents[rng.Intn(len(agents))], true, nil
}
