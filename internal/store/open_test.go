package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Rahuldrabit/Customer-Support-Sales-Agent-ForTikTok-Linkdin/internal/models"
)

func TestNewSQLiteStore_RequiresDSN(t *testing.T) {
	if _, err := NewSQLiteStore(); !errors.Is(err, ErrMissingDSN) {
		t.Fatalf("expected ErrMissingDSN, got %v", err)
	}
}

func TestNewSQLiteStore_CreatesDirectoryAndReopens(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "state")
	dsn := "file:" + filepath.Join(dir, "agent.db") + "?_foreign_keys=on"

	s, err := NewSQLiteStore(WithSQLiteDSN(dsn))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	if _, err := os.Stat(dir); err != nil {
		t.Fatalf("database directory not created: %v", err)
	}
	var mode string
	if err := s.db.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatal(err)
	}
	if mode != "wal" {
		t.Errorf("journal_mode = %q, want wal", mode)
	}
	s.Close()

	// Migrations are idempotent across restarts.
	again, err := NewSQLiteStore(WithSQLiteDSN(dsn))
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	again.Close()
}

func TestSQLitePath(t *testing.T) {
	tests := map[string]string{
		"/var/lib/agent.db":                  "/var/lib/agent.db",
		"file:/var/lib/agent.db":             "/var/lib/agent.db",
		"file:/var/lib/agent.db?_busy=5000":  "/var/lib/agent.db",
		"relative/agent.db?cache=shared&x=1": "relative/agent.db",
	}
	for dsn, want := range tests {
		if got := sqlitePath(dsn); got != want {
			t.Errorf("sqlitePath(%q) = %q, want %q", dsn, got, want)
		}
	}
}

func TestSQLiteStore_ClosedDatabaseIsUnavailable(t *testing.T) {
	s, err := NewSQLiteStore(WithSQLiteDSN(filepath.Join(t.TempDir(), "agent.db")))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	ctx := context.Background()
	conv, err := s.LoadConversation(ctx, models.PlatformTikTok, "u-closed")
	if err != nil {
		t.Fatal(err)
	}
	s.Close()

	if _, _, err := s.LoadRecentMessages(ctx, conv.ID, 10); !errors.Is(err, models.ErrStorageUnavailable) {
		t.Errorf("LoadRecentMessages: expected ErrStorageUnavailable, got %v", err)
	}
	if _, err := s.ClaimableLanes(ctx, time.Now()); !errors.Is(err, models.ErrStorageUnavailable) {
		t.Errorf("ClaimableLanes: expected ErrStorageUnavailable, got %v", err)
	}
}
