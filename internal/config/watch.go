package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Rahuldrabit/Customer-Support-Sales-Agent-ForTikTok-Linkdin/internal/models"
)

// DefaultDebounce coalesces bursts of write events from editors.
const DefaultDebounce = 200 * time.Millisecond

// Watcher reloads a config file into a Holder when it changes.
type Watcher struct {
	path     string
	holder   *Holder
	base     func() models.AgentConfig
	debounce time.Duration
}

// NewWatcher creates a Watcher. base provides the layer the file is applied
// over on each reload.
func NewWatcher(path string, holder *Holder, base func() models.AgentConfig) *Watcher {
	if base == nil {
		base = func() models.AgentConfig { return FromEnv(models.DefaultAgentConfig()) }
	}
	return &Watcher{path: path, holder: holder, base: base, debounce: DefaultDebounce}
}

// Reload reads the file and applies it. Invalid content keeps the active
// config and returns the error.
func (w *Watcher) Reload() error {
	cfg, err := LoadFile(w.path, w.base())
	if err != nil {
		return err
	}
	return w.holder.Set(cfg)
}

// Run watches the file's directory until ctx is done. The directory is
// watched so atomic-rename saves are seen.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	defer fw.Close()

	dir := filepath.Dir(w.path)
	if err := fw.Add(dir); err != nil {
		return fmt.Errorf("watch path %s: %w", dir, err)
	}
	slog.Info("Watcher.Run: config watcher started", "path", w.path)

	target := filepath.Clean(w.path)
	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			slog.Info("Watcher.Run: config watcher stopped")
			return nil
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			if err := w.Reload(); err != nil {
				slog.Error("Watcher.Run: reload rejected, keeping current config", "path", w.path, "error", err)
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			slog.Error("Watcher.Run: file watcher error", "error", err)
		}
	}
}
