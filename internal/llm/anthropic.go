package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/ssergorp/menagerie/internal/backoff"
)

// AnthropicConfig configures the Anthropic completion provider.
type AnthropicConfig struct {
	// APIKey is the Anthropic API key (required).
	APIKey string
	// DefaultModel is used when a request carries no model hint.
	DefaultModel string
	// MaxRetries bounds retry attempts for transient failures.
	MaxRetries int
	// RetryPolicy shapes the backoff between attempts.
	RetryPolicy backoff.Policy
}

// AnthropicProvider implements Completer against the Anthropic Messages API.
// Safe for concurrent use.
type AnthropicProvider struct {
	client       anthropic.Client
	defaultModel string
	maxRetries   int
	retryPolicy  backoff.Policy
}

// NewAnthropicProvider creates an Anthropic-backed completer.
func NewAnthropicProvider(config AnthropicConfig) (*AnthropicProvider, error) {
	if config.APIKey == "" {
		return nil, errors.New("anthropic: api key is required")
	}
	if config.DefaultModel == "" {
		config.DefaultModel = "claude-sonnet-4-20250514"
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = 3
	}
	if config.RetryPolicy == (backoff.Policy{}) {
		config.RetryPolicy = backoff.Policy{
			Initial: time.Second,
			Max:     15 * time.Second,
			Factor:  2,
			Jitter:  0.1,
		}
	}
	return &AnthropicProvider{
		client:       anthropic.NewClient(option.WithAPIKey(config.APIKey)),
		defaultModel: config.DefaultModel,
		maxRetries:   config.MaxRetries,
		retryPolicy:  config.RetryPolicy,
	}, nil
}

// Name returns "anthropic".
func (p *AnthropicProvider) Name() string { return "anthropic" }

// Complete issues one Messages API call and returns the concatenated text
// blocks of the response.
func (p *AnthropicProvider) Complete(ctx context.Context, req Request) (string, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model(req.Model)),
		Messages:  convertAnthropicMessages(req.Messages),
		MaxTokens: int64(maxTokens(req.MaxTokens)),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: req.System}}
	}

	var out string
	err := backoff.Retry(ctx, p.retryPolicy, p.maxRetries, retryableCallError, func(ctx context.Context) error {
		msg, err := p.client.Messages.New(ctx, params)
		if err != nil {
			return err
		}
		var sb strings.Builder
		for _, block := range msg.Content {
			if block.Type == "text" {
				sb.WriteString(block.Text)
			}
		}
		out = sb.String()
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("anthropic: completion failed: %w", err)
	}
	return out, nil
}

func (p *AnthropicProvider) model(hint string) string {
	if hint != "" {
		return hint
	}
	return p.defaultModel
}

func convertAnthropicMessages(msgs []Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		block := anthropic.NewTextBlock(m.Content)
		if m.Role == RoleAgent {
			out = append(out, anthropic.NewAssistantMessage(block))
		} else {
			out = append(out, anthropic.NewUserMessage(block))
		}
	}
	return out
}

func maxTokens(n int) int {
	if n > 0 {
		return n
	}
	return 512
}
