package models

import (
	"fmt"
	"strings"
	"time"
)

// Agent configuration defaults.
const (
	DefaultProvider                     = "stub"
	DefaultModel                        = "gpt-4o-mini"
	DefaultMaxTokens                    = 500
	DefaultTemperature                  = 0.7
	DefaultTimeoutMs                    = 30000
	DefaultMaxGenerationRetries         = 3
	DefaultContextWindowSize            = 20
	DefaultEscalationSentimentThreshold = 0.6
	DefaultEscalationWindow             = 3
	DefaultMaxResponseLength            = 1000
	DefaultMinResponseLength            = 10
	DefaultPromptVariant                = "A"
	DefaultLanguage                     = "en"
	DefaultClassifier                   = "rules"
)

// DefaultDisallowedMarkers lists content that must never reach a user.
var DefaultDisallowedMarkers = []string{
	"as an ai language model",
	"[insert",
	"{{",
	"}}",
	"<script",
	"lorem ipsum",
	"todo:",
}

// AgentConfig is the process-wide agent configuration. A run takes one
// snapshot at start and never observes a later reload.
type AgentConfig struct {
	Provider                     string   `json:"provider" yaml:"provider" toml:"provider"`
	Model                        string   `json:"model" yaml:"model" toml:"model"`
	FallbackModels               []string `json:"fallback_models,omitempty" yaml:"fallback_models" toml:"fallback_models"`
	MaxTokens                    int      `json:"max_tokens" yaml:"max_tokens" toml:"max_tokens"`
	Temperature                  float64  `json:"temperature" yaml:"temperature" toml:"temperature"`
	TimeoutMs                    int      `json:"timeout_ms" yaml:"timeout_ms" toml:"timeout_ms"`
	MaxGenerationRetries         int      `json:"max_generation_retries" yaml:"max_generation_retries" toml:"max_generation_retries"`
	ContextWindowSize            int      `json:"context_window_size" yaml:"context_window_size" toml:"context_window_size"`
	EscalationSentimentThreshold float64  `json:"escalation_sentiment_threshold" yaml:"escalation_sentiment_threshold" toml:"escalation_sentiment_threshold"`
	EscalationWindow             int      `json:"escalation_window" yaml:"escalation_window" toml:"escalation_window"`
	MaxResponseLength            int      `json:"max_response_length" yaml:"max_response_length" toml:"max_response_length"`
	MinResponseLength            int      `json:"min_response_length" yaml:"min_response_length" toml:"min_response_length"`
	DisallowedMarkers            []string `json:"disallowed_markers,omitempty" yaml:"disallowed_markers" toml:"disallowed_markers"`
	PromptVariant                string   `json:"prompt_variant" yaml:"prompt_variant" toml:"prompt_variant"`
	DefaultLanguage              string   `json:"default_language" yaml:"default_language" toml:"default_language"`
	AutoDetectLanguage           bool     `json:"auto_detect_language" yaml:"auto_detect_language" toml:"auto_detect_language"`
	Classifier                   string   `json:"classifier" yaml:"classifier" toml:"classifier"`
}

// DefaultAgentConfig returns the configuration used when nothing is set.
func DefaultAgentConfig() AgentConfig {
	return AgentConfig{
		Provider:                     DefaultProvider,
		Model:                        DefaultModel,
		MaxTokens:                    DefaultMaxTokens,
		Temperature:                  DefaultTemperature,
		TimeoutMs:                    DefaultTimeoutMs,
		MaxGenerationRetries:         DefaultMaxGenerationRetries,
		ContextWindowSize:            DefaultContextWindowSize,
		EscalationSentimentThreshold: DefaultEscalationSentimentThreshold,
		EscalationWindow:             DefaultEscalationWindow,
		MaxResponseLength:            DefaultMaxResponseLength,
		MinResponseLength:            DefaultMinResponseLength,
		DisallowedMarkers:            append([]string(nil), DefaultDisallowedMarkers...),
		PromptVariant:                DefaultPromptVariant,
		DefaultLanguage:              DefaultLanguage,
		AutoDetectLanguage:           true,
		Classifier:                   DefaultClassifier,
	}
}

// Timeout returns TimeoutMs as a duration.
func (c AgentConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// Validate checks the ranges of every option.
func (c AgentConfig) Validate() error {
	var problems []string
	if strings.TrimSpace(c.Provider) == "" {
		problems = append(problems, "provider is required")
	}
	if c.MaxTokens <= 0 {
		problems = append(problems, "max_tokens must be positive")
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		problems = append(problems, "temperature must be within [0, 2]")
	}
	if c.TimeoutMs <= 0 {
		problems = append(problems, "timeout_ms must be positive")
	}
	if c.MaxGenerationRetries < 1 {
		problems = append(problems, "max_generation_retries must be at least 1")
	}
	if c.ContextWindowSize < 0 {
		problems = append(problems, "context_window_size cannot be negative")
	}
	if c.EscalationSentimentThreshold > 1 {
		problems = append(problems, "escalation_sentiment_threshold cannot exceed 1")
	}
	if c.EscalationWindow < 1 {
		problems = append(problems, "escalation_window must be at least 1")
	}
	if c.MaxResponseLength <= 0 || c.MinResponseLength < 0 || c.MinResponseLength >= c.MaxResponseLength {
		problems = append(problems, "response length bounds are inconsistent")
	}
	switch strings.ToUpper(c.PromptVariant) {
	case "A", "B":
	default:
		problems = append(problems, "prompt_variant must be A or B")
	}
	switch c.Classifier {
	case "rules", "llm":
	default:
		problems = append(problems, "classifier must be rules or llm")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// Clone returns a deep copy so a snapshot never shares slices with a reload.
func (c AgentConfig) Clone() AgentConfig {
	out := c
	out.FallbackModels = append([]string(nil), c.FallbackModels...)
	out.DisallowedMarkers = append([]string(nil), c.DisallowedMarkers...)
	return out
}
