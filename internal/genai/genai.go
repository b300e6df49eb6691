// Package genai generates reply text with large language models.
//
// Generator variants are picked once by New from the configured provider:
// a single-vendor OpenAI client, an OpenRouter multi-model router, and a
// deterministic stub. Every variant is wrapped in a watchdog that enforces
// the configured timeout.
package genai

import (
	"context"

	"github.com/Rahuldrabit/Customer-Support-Sales-Agent-ForTikTok-Linkdin/internal/models"
)

// Purpose tells a generator what the text is for.
type Purpose string

const (
	PurposeReply          Purpose = "reply"
	PurposeClassification Purpose = "classification"
)

// Request is one generation call.
type Request struct {
	Purpose      Purpose
	SystemPrompt string
	UserPrompt   string
	// Intent lets the stub pick a canned reply.
	Intent models.Intent
	// Model overrides the generator's default model when set.
	Model       string
	MaxTokens   int
	Temperature float64
}

// Generator produces text for a prompt.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, req Request) (string, error)

// Generate implements Generator.
func (f GeneratorFunc) Generate(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}
