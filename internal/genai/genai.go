// Package genai wraps the OpenAI chat completion API behind a narrow
// gateway interface so conversation logic can be tested without network
// access.
package genai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// ErrNoChoices indicates the API returned an envelope without a usable
// completion. Callers treat it the same as a transport failure.
var ErrNoChoices = errors.New("no choices returned from completion API")

// DefaultTimeout bounds a single completion round trip.
const DefaultTimeout = 30 * time.Second

// ClientInterface defines the gateway contract consumed by the
// conversation flow.
type ClientInterface interface {
	GenerateWithMessages(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (string, error)
}

// chatService is the minimal seam over the OpenAI SDK used for mocking.
type chatService interface {
	New(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// Client wraps the OpenAI chat completion service.
type Client struct {
	chat    chatService
	model   openai.ChatModel
	timeout time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithAPIKey sets an explicit API key instead of $OPENAI_API_KEY.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		cli := openai.NewClient(option.WithAPIKey(key))
		c.chat = &cli.Chat.Completions
	}
}

// WithModel overrides the completion model.
func WithModel(model string) Option {
	return func(c *Client) {
		if model != "" {
			c.model = openai.ChatModel(model)
		}
	}
}

// WithTimeout overrides the per-call deadline applied to completions.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// NewClient initializes a gateway client. Without WithAPIKey the
// OPENAI_API_KEY environment variable is required; a missing key is a
// startup failure, never a mid-conversation one.
func NewClient(opts ...Option) (*Client, error) {
	c := &Client{
		model:   openai.ChatModelGPT4oMini,
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.chat == nil {
		apiKey := os.Getenv("OPENAI_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY not set")
		}
		cli := openai.NewClient(option.WithAPIKey(apiKey))
		c.chat = &cli.Chat.Completions
	}
	slog.Debug("genai.NewClient: client initialized", "model", c.model, "timeout", c.timeout)
	return c, nil
}

// GenerateWithMessages sends an ordered message sequence to the
// completion API and returns the raw text of the first choice.
func (c *Client) GenerateWithMessages(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (string, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	slog.Debug("genai.GenerateWithMessages: sending completion request", "model", c.model, "messageCount", len(messages))
	resp, err := c.chat.New(ctx, openai.ChatCompletionNewParams{
		Model:    c.model,
		Messages: messages,
	})
	if err != nil {
		slog.Error("genai.GenerateWithMessages: completion request failed", "error", err)
		return "", fmt.Errorf("completion request failed: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		slog.Error("genai.GenerateWithMessages: empty completion envelope")
		return "", ErrNoChoices
	}

	content := resp.Choices[0].Message.Content
	if content == "" {
		slog.Error("genai.GenerateWithMessages: completion contained no content")
		return "", ErrNoChoices
	}
	slog.Debug("genai.GenerateWithMessages: completion received", "responseLength", len(content))
	return content, nil
}
