package genai

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/Rahuldrabit/Customer-Support-Sales-Agent-ForTikTok-Linkdin/internal/models"
)

// Provider names accepted by New.
const (
	ProviderOpenAI     = "openai"
	ProviderOpenRouter = "openrouter"
	ProviderStub       = "stub"
)

// NormalizeProvider resolves provider aliases. The second result is the
// model forced by the alias, if any.
func NormalizeProvider(name string) (string, string) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "openai", "chatgpt":
		return ProviderOpenAI, ""
	case "openrouter":
		return ProviderOpenRouter, ""
	case "claude", "anthropic":
		return ProviderOpenRouter, ClaudeModel
	case "stub", "mock", "":
		return ProviderStub, ""
	}
	return "", ""
}

// New builds the generator named by cfg.Provider, wrapped in a watchdog
// enforcing cfg.TimeoutMs.
func New(cfg models.AgentConfig, opts ...Option) (Generator, error) {
	var o Opts
	for _, opt := range opts {
		opt(&o)
	}
	provider, aliasModel := NormalizeProvider(cfg.Provider)
	model := cfg.Model
	if aliasModel != "" {
		model = aliasModel
	}

	base := append([]Option{WithModel(model), WithTemperature(cfg.Temperature), WithMaxTokens(cfg.MaxTokens)}, opts...)

	var gen Generator
	switch provider {
	case ProviderOpenAI:
		c, err := NewClient(base...)
		if err != nil {
			return nil, err
		}
		gen = c
	case ProviderOpenRouter:
		r, err := NewRouter(model, cfg.FallbackModels, base...)
		if err != nil {
			return nil, err
		}
		gen = r
	case ProviderStub:
		gen = NewStub()
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", models.ErrInvalidConfig, cfg.Provider)
	}
	slog.Info("genai.New: generator ready", "provider", provider, "model", model)
	if o.SkipWatchdog {
		return gen, nil
	}
	return WithWatchdog(gen, cfg.Timeout()), nil
}
