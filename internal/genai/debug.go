package genai

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"
)

type debugEntry struct {
	Timestamp    time.Time `json:"timestamp"`
	Model        string    `json:"model"`
	Purpose      Purpose   `json:"purpose"`
	SystemPrompt string    `json:"system_prompt,omitempty"`
	UserPrompt   string    `json:"user_prompt"`
	Response     string    `json:"response,omitempty"`
	Error        string    `json:"error,omitempty"`
}

// debugLog writes one JSON file per generation call.
type debugLog struct {
	dir string
	seq atomic.Int64
}

func newDebugLog(stateDir string) *debugLog {
	return &debugLog{dir: filepath.Join(stateDir, "debug")}
}

// record is a no-op on a nil receiver.
func (d *debugLog) record(model string, req Request, text string, err error) {
	if d == nil {
		return
	}
	entry := debugEntry{
		Timestamp:    time.Now().UTC(),
		Model:        model,
		Purpose:      req.Purpose,
		SystemPrompt: req.SystemPrompt,
		UserPrompt:   req.UserPrompt,
		Response:     text,
	}
	if err != nil {
		entry.Error = err.Error()
	}
	if mkErr := os.MkdirAll(d.dir, 0o755); mkErr != nil {
		slog.Warn("debugLog.record: cannot create debug dir", "dir", d.dir, "error", mkErr)
		return
	}
	data, mErr := json.MarshalIndent(entry, "", "  ")
	if mErr != nil {
		return
	}
	name := fmt.Sprintf("%s_%04d_%s.json", entry.Timestamp.Format("20060102T150405"), d.seq.Add(1), req.Purpose)
	if wErr := os.WriteFile(filepath.Join(d.dir, name), data, 0o644); wErr != nil {
		slog.Warn("debugLog.record: write failed", "error", wErr)
	}
}
