package genai

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Default model parameters.
const (
	DefaultModel       = "gpt-4o-mini"
	DefaultMaxTokens   = 500
	DefaultTemperature = 0.7
)

// chatService defines minimal interface for chat completions.
type chatService interface {
	Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error)
}

type completionsAdapter struct {
	svc *openai.ChatCompletionService
}

func (a completionsAdapter) Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	resp, err := a.svc.New(ctx, params)
	if err != nil {
		return openai.ChatCompletion{}, err
	}
	return *resp, nil
}

// Client is the single-vendor generator speaking the OpenAI chat API. The
// OpenRouter router reuses it with a different base URL.
type Client struct {
	chat        chatService
	model       string
	temperature float64
	maxTokens   int
	debug       *debugLog
}

// NewClient initializes a new OpenAI client. An API key is required.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai: %w", ErrMissingAPIKey)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(cfg.APIKey), option.WithMaxRetries(0)}
	if cfg.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.BaseURL))
	}
	for k, v := range cfg.Headers {
		reqOpts = append(reqOpts, option.WithHeader(k, v))
	}
	cli := openai.NewClient(reqOpts...)

	c := &Client{
		chat:        completionsAdapter{svc: &cli.Chat.Completions},
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
	}
	if c.model == "" {
		c.model = DefaultModel
	}
	if c.maxTokens <= 0 {
		c.maxTokens = DefaultMaxTokens
	}
	if cfg.DebugDir != "" {
		c.debug = newDebugLog(cfg.DebugDir)
	}
	slog.Debug("genai.NewClient: client created", "model", c.model, "baseURL", cfg.BaseURL != "")
	return c, nil
}

// Model returns the default model of the client.
func (c *Client) Model() string { return c.model }

// Generate implements Generator.
func (c *Client) Generate(ctx context.Context, req Request) (string, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}
	temperature := req.Temperature
	if req.Purpose != PurposeClassification && temperature == 0 {
		temperature = c.temperature
	}

	var msgs []openai.ChatCompletionMessageParamUnion
	if req.SystemPrompt != "" {
		msgs = append(msgs, openai.SystemMessage(req.SystemPrompt))
	}
	msgs = append(msgs, openai.UserMessage(req.UserPrompt))

	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(model),
		Messages:    msgs,
		MaxTokens:   openai.Int(int64(maxTokens)),
		Temperature: openai.Float(temperature),
	}

	slog.Debug("Client.Generate: calling chat completions", "model", model, "purpose", req.Purpose)
	resp, err := c.chat.Create(ctx, params)
	text, err := extractText(resp, err)
	c.debug.record(model, req, text, err)
	if err != nil {
		slog.Warn("Client.Generate: completion failed", "model", model, "error", err)
		return "", wrapError(model, err)
	}
	return text, nil
}

func extractText(resp openai.ChatCompletion, err error) (string, error) {
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", ErrNoChoicesReturned
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}
