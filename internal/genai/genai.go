// Package genai wraps the OpenAI API for the chat backend.
//
// It provides message and tool-calling generation with streaming, and owns
// the overload-fallback policy: when the primary model signals overload the
// same turn is retried against the secondary model with a small bounded
// retry count. Non-overload errors propagate without fallback.
package genai

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/stagelink/chatbot/internal/models"
)

// Default models. The fallback tier is cheaper and rarely saturated.
const (
	DefaultPrimaryModel  = openai.ChatModelGPT4o
	DefaultFallbackModel = openai.ChatModelGPT4oMini
)

// maxOverloadRetries bounds provider-level retries of the primary model
// before switching to the fallback model.
const maxOverloadRetries = 2

// ToolCallResponse is the provider's answer to a tool-enabled generation.
type ToolCallResponse struct {
	Content        string
	ToolCalls      []models.ToolCall
	Usage          TokenUsage
	UsageEstimated bool
	Model          string
	UsedFallback   bool
}

// ClientInterface is the seam the flows and the engine depend on.
type ClientInterface interface {
	GenerateWithMessages(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (string, error)
	GenerateWithTools(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion, tools []openai.ChatCompletionToolParam) (*ToolCallResponse, error)
}

// Client wraps the OpenAI chat completion service with model fallback.
type Client struct {
	client        openai.Client
	primaryModel  openai.ChatModel
	fallbackModel openai.ChatModel
}

// Option configures the Client.
type Option func(*Client)

// WithModels overrides the primary and fallback models.
func WithModels(primary, fallback string) Option {
	return func(c *Client) {
		if primary != "" {
			c.primaryModel = openai.ChatModel(primary)
		}
		if fallback != "" {
			c.fallbackModel = openai.ChatModel(fallback)
		}
	}
}

// NewClient initializes a client using the OPENAI_API_KEY environment
// variable.
func NewClient(opts ...Option) (*Client, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY not set")
	}
	return NewClientWithKey(apiKey, opts...), nil
}

// NewClientWithKey initializes a client with an explicit API key.
func NewClientWithKey(apiKey string, opts ...Option) *Client {
	c := &Client{
		client:        openai.NewClient(option.WithAPIKey(apiKey)),
		primaryModel:  DefaultPrimaryModel,
		fallbackModel: DefaultFallbackModel,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GenerateWithMessages generates plain text for the given messages.
func (c *Client) GenerateWithMessages(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (string, error) {
	resp, _, err := c.completeWithFallback(ctx, messages, nil)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices returned")
	}
	return resp.Choices[0].Message.Content, nil
}

// GenerateWithTools generates a response that may contain tool calls.
func (c *Client) GenerateWithTools(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion, tools []openai.ChatCompletionToolParam) (*ToolCallResponse, error) {
	resp, usedFallback, err := c.completeWithFallback(ctx, messages, tools)
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no choices returned")
	}

	choice := resp.Choices[0]
	out := &ToolCallResponse{
		Content:      choice.Message.Content,
		Model:        resp.Model,
		UsedFallback: usedFallback,
		Usage: TokenUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
		},
	}
	if out.Usage.PromptTokens == 0 && out.Usage.CompletionTokens == 0 {
		out.Usage = EstimateUsage(messages, choice.Message.Content)
		out.UsageEstimated = true
	}
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, models.ToolCall{
			ID:   tc.ID,
			Type: "function",
			Function: models.FunctionCall{
				Name:      tc.Function.Name,
				Arguments: []byte(tc.Function.Arguments),
			},
		})
	}
	return out, nil
}

// completeWithFallback streams a completion from the primary model, retrying
// on overload and switching to the fallback model after the retry budget is
// spent. The boolean result reports whether the fallback model answered.
func (c *Client) completeWithFallback(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion, tools []openai.ChatCompletionToolParam) (*openai.ChatCompletion, bool, error) {
	var lastErr error

	for attempt := 0; attempt <= maxOverloadRetries; attempt++ {
		resp, err := c.streamCompletion(ctx, c.primaryModel, messages, tools)
		if err == nil {
			return resp, false, nil
		}
		if !IsOverloaded(err) {
			return nil, false, err
		}
		lastErr = err
		slog.Warn("genai.completeWithFallback: primary model overloaded",
			"model", c.primaryModel, "attempt", attempt+1, "error", err)
	}

	slog.Info("genai.completeWithFallback: switching to fallback model",
		"primary", c.primaryModel, "fallback", c.fallbackModel)
	resp, err := c.streamCompletion(ctx, c.fallbackModel, messages, tools)
	if err != nil {
		return nil, true, fmt.Errorf("fallback model failed after overload (%v): %w", lastErr, err)
	}
	return resp, true, nil
}

// streamCompletion runs one streaming completion and accumulates it into a
// full ChatCompletion.
func (c *Client) streamCompletion(ctx context.Context, model openai.ChatModel, messages []openai.ChatCompletionMessageParamUnion, tools []openai.ChatCompletionToolParam) (*openai.ChatCompletion, error) {
	params := openai.ChatCompletionNewParams{
		Model:    model,
		Messages: messages,
		StreamOptions: openai.ChatCompletionStreamOptionsParam{
			IncludeUsage: openai.Bool(true),
		},
	}
	if len(tools) > 0 {
		params.Tools = tools
	}

	start := time.Now()
	stream := c.client.Chat.Completions.NewStreaming(ctx, params)
	acc := openai.ChatCompletionAccumulator{}
	for stream.Next() {
		acc.AddChunk(stream.Current())
	}
	if err := stream.Err(); err != nil {
		return nil, err
	}
	slog.Debug("genai.streamCompletion: completed",
		"model", model,
		"duration_ms", time.Since(start).Milliseconds(),
		"choices", len(acc.Choices))
	return &acc.ChatCompletion, nil
}
