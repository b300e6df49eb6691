package config

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/Rahuldrabit/Customer-Support-Sales-Agent-ForTikTok-Linkdin/internal/models"
)

// Holder serves the current config snapshot and swaps it atomically on
// reload. Runs already in flight keep the snapshot they took.
type Holder struct {
	cur atomic.Pointer[models.AgentConfig]

	mu        sync.Mutex
	listeners []func(old, new models.AgentConfig)
}

// NewHolder creates a Holder with an initial config. The config is not
// validated here.
func NewHolder(cfg models.AgentConfig) *Holder {
	h := &Holder{}
	c := cfg.Clone()
	h.cur.Store(&c)
	return h
}

// Current returns a copy of the active config.
func (h *Holder) Current() models.AgentConfig {
	return h.cur.Load().Clone()
}

// OnChange registers fn to run after each successful Set.
func (h *Holder) OnChange(fn func(old, new models.AgentConfig)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.listeners = append(h.listeners, fn)
}

// Set validates cfg and makes it current. An invalid config leaves the
// active one untouched.
func (h *Holder) Set(cfg models.AgentConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	c := cfg.Clone()

	h.mu.Lock()
	old := h.cur.Swap(&c)
	listeners := make([]func(old, new models.AgentConfig), len(h.listeners))
	copy(listeners, h.listeners)
	h.mu.Unlock()

	slog.Info("Holder.Set: agent config updated", "provider", c.Provider, "model", c.Model, "variant", c.PromptVariant)
	for _, fn := range listeners {
		fn(old.Clone(), c.Clone())
	}
	return nil
}
