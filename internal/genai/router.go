package genai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// OpenRouter defaults.
const (
	OpenRouterBaseURL = "https://openrouter.ai/api/v1"
	openRouterReferer = "https://github.com/Rahuldrabit/Customer-Support-Sales-Agent-ForTikTok-Linkdin"
	openRouterTitle   = "Customer Support & Sales Agent"
	// ClaudeModel is the OpenRouter model used for the claude and anthropic aliases.
	ClaudeModel = "anthropic/claude-3-haiku"
)

// Router sends requests through OpenRouter, trying the configured model
// first and then each fallback model in order.
type Router struct {
	client *Client
	models []string
}

// NewRouter creates an OpenRouter-backed router.
func NewRouter(model string, fallbacks []string, opts ...Option) (*Router, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	key := cfg.OpenRouterKey
	if key == "" {
		key = cfg.APIKey
	}
	if key == "" {
		return nil, fmt.Errorf("openrouter: %w", ErrMissingAPIKey)
	}
	base := cfg.BaseURL
	if base == "" {
		base = OpenRouterBaseURL
	}
	clientOpts := append([]Option{}, opts...)
	clientOpts = append(clientOpts,
		WithAPIKey(key),
		WithBaseURL(base),
		WithModel(model),
		WithHeader("HTTP-Referer", openRouterReferer),
		WithHeader("X-Title", openRouterTitle),
	)
	client, err := NewClient(clientOpts...)
	if err != nil {
		return nil, err
	}
	return newRouter(client, model, fallbacks), nil
}

func newRouter(client *Client, model string, fallbacks []string) *Router {
	seen := map[string]bool{}
	var chain []string
	for _, m := range append([]string{model}, fallbacks...) {
		m = strings.TrimSpace(m)
		if m == "" || seen[m] {
			continue
		}
		seen[m] = true
		chain = append(chain, m)
	}
	return &Router{client: client, models: chain}
}

// Models returns the model chain in try order.
func (r *Router) Models() []string {
	return append([]string(nil), r.models...)
}

// Generate implements Generator. A request carrying its own Model skips the
// chain. Timeouts and canceled contexts stop the chain.
func (r *Router) Generate(ctx context.Context, req Request) (string, error) {
	if req.Model != "" {
		return r.client.Generate(ctx, req)
	}
	var lastErr error
	for i, model := range r.models {
		attempt := req
		attempt.Model = model
		text, err := r.client.Generate(ctx, attempt)
		if err == nil {
			if i > 0 {
				slog.Info("Router.Generate: fallback model answered", "model", model, "position", i)
			}
			return text, nil
		}
		lastErr = err
		if ctx.Err() != nil || errors.Is(err, ErrTimeout) {
			break
		}
		slog.Warn("Router.Generate: model failed, trying next", "model", model, "error", err)
	}
	if lastErr == nil {
		lastErr = &Error{Kind: KindProviderError, Err: errors.New("no models configured")}
	}
	return "", lastErr
}
