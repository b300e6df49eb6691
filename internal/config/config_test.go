package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Rahuldrabit/Customer-Support-Sales-Agent-ForTikTok-Linkdin/internal/models"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

func TestFormatFor(t *testing.T) {
	tests := []struct {
		path string
		want Format
		err  bool
	}{
		{"agent.yaml", FormatYAML, false},
		{"agent.YML", FormatYAML, false},
		{"agent.toml", FormatTOML, false},
		{"agent.json", FormatJSON, false},
		{"agent.ini", "", true},
	}
	for _, tt := range tests {
		got, err := FormatFor(tt.path)
		if (err != nil) != tt.err || got != tt.want {
			t.Errorf("FormatFor(%q) = %q, %v", tt.path, got, err)
		}
	}
}

func TestLoad_YAMLOverlaysDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "agent.yaml", `
provider: openrouter
model: anthropic/claude-3-haiku
fallback_models: [openai/gpt-4o-mini]
escalation_sentiment_threshold: 0.5
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Provider != "openrouter" || cfg.Model != "anthropic/claude-3-haiku" {
		t.Errorf("unexpected provider/model %s/%s", cfg.Provider, cfg.Model)
	}
	if len(cfg.FallbackModels) != 1 || cfg.EscalationSentimentThreshold != 0.5 {
		t.Errorf("unexpected overlay %+v", cfg)
	}
	if cfg.ContextWindowSize != models.DefaultContextWindowSize || cfg.EscalationWindow != models.DefaultEscalationWindow {
		t.Errorf("defaults lost: %+v", cfg)
	}
}

func TestLoad_TOML(t *testing.T) {
	path := writeFile(t, t.TempDir(), "agent.toml", `
provider = "openai"
max_tokens = 300
temperature = 0.2
prompt_variant = "B"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Provider != "openai" || cfg.MaxTokens != 300 || cfg.Temperature != 0.2 || cfg.PromptVariant != "B" {
		t.Errorf("unexpected config %+v", cfg)
	}
}

func TestLoad_JSONRejectsUnknownFields(t *testing.T) {
	path := writeFile(t, t.TempDir(), "agent.json", `{"provider":"stub","bogus":1}`)
	if _, err := Load(path); !errors.Is(err, models.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	path := writeFile(t, t.TempDir(), "agent.yaml", "max_tokens: -1\n")
	if _, err := Load(path); !errors.Is(err, models.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestLoad_EnvBelowFile(t *testing.T) {
	t.Setenv("AGENT_PROVIDER", "openai")
	t.Setenv("AGENT_MODEL", "gpt-4o")
	t.Setenv("AGENT_FALLBACK_MODELS", "a, b,,")
	t.Setenv("AGENT_ESCALATION_WINDOW", "5")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Provider != "openai" || cfg.Model != "gpt-4o" || cfg.EscalationWindow != 5 {
		t.Errorf("env not applied: %+v", cfg)
	}
	if len(cfg.FallbackModels) != 2 || cfg.FallbackModels[1] != "b" {
		t.Errorf("unexpected fallbacks %v", cfg.FallbackModels)
	}

	path := writeFile(t, t.TempDir(), "agent.yaml", "model: gpt-4o-mini\n")
	cfg, err = Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Provider != "openai" || cfg.Model != "gpt-4o-mini" {
		t.Errorf("file should override env: %+v", cfg)
	}
}

func TestHolder_SetAndListeners(t *testing.T) {
	h := NewHolder(models.DefaultAgentConfig())
	var gotOld, gotNew string
	h.OnChange(func(old, new models.AgentConfig) {
		gotOld, gotNew = old.Model, new.Model
	})

	next := models.DefaultAgentConfig()
	next.Model = "gpt-4o"
	if err := h.Set(next); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if h.Current().Model != "gpt-4o" || gotOld != models.DefaultModel || gotNew != "gpt-4o" {
		t.Errorf("unexpected state current=%s old=%s new=%s", h.Current().Model, gotOld, gotNew)
	}

	bad := next
	bad.MaxTokens = 0
	if err := h.Set(bad); err == nil {
		t.Fatal("expected validation error")
	}
	if h.Current().MaxTokens != models.DefaultMaxTokens {
		t.Error("invalid config must not replace the current one")
	}
}

func TestHolder_SnapshotIsolation(t *testing.T) {
	h := NewHolder(models.DefaultAgentConfig())
	snap := h.Current()
	snap.DisallowedMarkers[0] = "mutated"
	if h.Current().DisallowedMarkers[0] == "mutated" {
		t.Error("snapshot shares state with the holder")
	}
}

func TestWatcher_Reload(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "agent.yaml", "model: first\n")
	h := NewHolder(models.DefaultAgentConfig())
	w := NewWatcher(path, h, models.DefaultAgentConfig)
	if err := w.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if h.Current().Model != "first" {
		t.Fatalf("unexpected model %s", h.Current().Model)
	}

	writeFile(t, dir, "agent.yaml", "temperature: 9\n")
	if err := w.Reload(); err == nil {
		t.Fatal("expected invalid reload to fail")
	}
	if h.Current().Model != "first" {
		t.Error("rejected reload changed the config")
	}
}

func TestWatcher_RunPicksUpChanges(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "agent.yaml", "model: before\n")
	h := NewHolder(models.DefaultAgentConfig())
	w := NewWatcher(path, h, models.DefaultAgentConfig)
	w.debounce = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// Give the watcher time to register the directory.
	time.Sleep(100 * time.Millisecond)
	writeFile(t, dir, "agent.yaml", "model: after\n")

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) && h.Current().Model != "after" {
		time.Sleep(20 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
	if h.Current().Model != "after" {
		t.Errorf("expected reloaded model, got %s", h.Current().Model)
	}
}
