package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/ssergorp/menagerie/internal/backoff"
)

// OpenAIConfig configures the OpenAI completion provider.
type OpenAIConfig struct {
	// APIKey is the OpenAI API key (required).
	APIKey string
	// DefaultModel is used when a request carries no model hint.
	DefaultModel string
	// MaxRetries bounds retry attempts for transient failures.
	MaxRetries int
	// RetryPolicy shapes the backoff between attempts.
	RetryPolicy backoff.Policy
}

// OpenAIProvider implements Completer against the OpenAI chat completions
// API. Safe for concurrent use.
type OpenAIProvider struct {
	client       *openai.Client
	defaultModel string
	maxRetries   int
	retryPolicy  backoff.Policy
}

// NewOpenAIProvider creates an OpenAI-backed completer.
func NewOpenAIProvider(config OpenAIConfig) (*OpenAIProvider, error) {
	if config.APIKey == "" {
		return nil, errors.New("openai: api key is required")
	}
	if config.DefaultModel == "" {
		config.DefaultModel = openai.GPT4oMini
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
	return &OpenAIProvider{
		client:       openai.NewClient(config.APIKey),
		defaultModel: config.DefaultModel,
		maxRetries:   config.MaxRetries,
		retryPolicy:  config.RetryPolicy,
	}, nil
}

// Name returns "openai".
func (p *OpenAIProvider) Name() string { return "openai" }

// Complete issues one chat completion call and returns the first choice.
func (p *OpenAIProvider) Complete(ctx context.Context, req Request) (string, error) {
	chatReq := openai.ChatCompletionRequest{
		Model:     p.model(req.Model),
		Messages:  convertOpenAIMessages(req.System, req.Messages),
		MaxTokens: maxTokens(req.MaxTokens),
	}

	var out string
	err := backoff.Retry(ctx, p.retryPolicy, p.maxRetries, retryableCallError, func(ctx context.Context) error {
		resp, err := p.client.CreateChatCompletion(ctx, chatReq)
		if err != nil {
			return err
		}
		if len(resp.Choices) == 0 {
			return errors.New("empty choices in response")
		}
		out = resp.Choices[0].Message.Content
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("openai: completion failed: %w", err)
	}
	return out, nil
}

func (p *OpenAIProvider) model(hint string) string {
	if hint != "" {
		return hint
	}
	return p.defaultModel
}

func convertOpenAIMessages(system string, msgs []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(msgs)+1)
	if system != "" {
		out = append(out, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}
	for _, m := range msgs {
		role := openai.ChatMessageRoleUser
		if m.Role == RoleAgent {
			role = openai.ChatMessageRoleAssistant
		}
		out = append(out, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	return out
}
