// Package config loads, validates and hot-reloads the agent configuration.
//
// Values are layered: built-in defaults, then AGENT_* environment variables,
// then the optional config file (YAML, TOML or JSON by extension).
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/Rahuldrabit/Customer-Support-Sales-Agent-ForTikTok-Linkdin/internal/models"
	"github.com/Rahuldrabit/Customer-Support-Sales-Agent-ForTikTok-Linkdin/internal/util"
)

// Format identifies a config file encoding.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
	FormatJSON Format = "json"
)

// FormatFor picks the format from a file extension.
func FormatFor(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".toml":
		return FormatTOML, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("%w: unsupported config file extension %q", models.ErrInvalidConfig, filepath.Ext(path))
	}
}

// Decode overlays data onto base. Fields absent from data keep base's value.
func Decode(data []byte, format Format, base models.AgentConfig) (models.AgentConfig, error) {
	cfg := base.Clone()
	var err error
	switch format {
	case FormatYAML:
		err = yaml.Unmarshal(data, &cfg)
	case FormatTOML:
		err = toml.Unmarshal(data, &cfg)
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		err = dec.Decode(&cfg)
	default:
		err = fmt.Errorf("unknown format %q", format)
	}
	if err != nil {
		return models.AgentConfig{}, fmt.Errorf("%w: decode %s: %v", models.ErrInvalidConfig, format, err)
	}
	return cfg, nil
}

// FromEnv overlays AGENT_* environment variables onto base.
func FromEnv(base models.AgentConfig) models.AgentConfig {
	cfg := base.Clone()
	cfg.Provider = util.GetenvDefault("AGENT_PROVIDER", cfg.Provider)
	cfg.Model = util.GetenvDefault("AGENT_MODEL", cfg.Model)
	if v := util.GetenvDefault("AGENT_FALLBACK_MODELS", ""); v != "" {
		cfg.FallbackModels = splitList(v)
	}
	cfg.MaxTokens = util.ParseIntEnv("AGENT_MAX_TOKENS", cfg.MaxTokens)
	cfg.Temperature = util.ParseFloatEnv("AGENT_TEMPERATURE", cfg.Temperature)
	cfg.TimeoutMs = util.ParseIntEnv("AGENT_TIMEOUT_MS", cfg.TimeoutMs)
	cfg.MaxGenerationRetries = util.ParseIntEnv("AGENT_MAX_GENERATION_RETRIES", cfg.MaxGenerationRetries)
	cfg.ContextWindowSize = util.ParseIntEnv("AGENT_CONTEXT_WINDOW_SIZE", cfg.ContextWindowSize)
	cfg.EscalationSentimentThreshold = util.ParseFloatEnv("AGENT_ESCALATION_SENTIMENT_THRESHOLD", cfg.EscalationSentimentThreshold)
	cfg.EscalationWindow = util.ParseIntEnv("AGENT_ESCALATION_WINDOW", cfg.EscalationWindow)
	cfg.MaxResponseLength = util.ParseIntEnv("AGENT_MAX_RESPONSE_LENGTH", cfg.MaxResponseLength)
	cfg.MinResponseLength = util.ParseIntEnv("AGENT_MIN_RESPONSE_LENGTH", cfg.MinResponseLength)
	cfg.PromptVariant = util.GetenvDefault("AGENT_PROMPT_VARIANT", cfg.PromptVariant)
	cfg.DefaultLanguage = util.GetenvDefault("AGENT_DEFAULT_LANGUAGE", cfg.DefaultLanguage)
	cfg.AutoDetectLanguage = util.ParseBoolEnv("AGENT_AUTO_DETECT_LANGUAGE", cfg.AutoDetectLanguage)
	cfg.Classifier = util.GetenvDefault("AGENT_CLASSIFIER", cfg.Classifier)
	return cfg
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Load builds a validated config from defaults, the environment and, when
// path is non-empty, the file at path.
func Load(path string) (models.AgentConfig, error) {
	cfg := FromEnv(models.DefaultAgentConfig())
	if path != "" {
		var err error
		if cfg, err = LoadFile(path, cfg); err != nil {
			return models.AgentConfig{}, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return models.AgentConfig{}, err
	}
	return cfg, nil
}

// LoadFile overlays the file at path onto base without validating.
func LoadFile(path string, base models.AgentConfig) (models.AgentConfig, error) {
	format, err := FormatFor(path)
	if err != nil {
		return models.AgentConfig{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return models.AgentConfig{}, fmt.Errorf("read config %s: %w", path, err)
	}
	return Decode(data, format, base)
}
