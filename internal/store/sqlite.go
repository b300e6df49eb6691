package store

import (
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

const (
	// DefaultDirPermissions is used when creating the database directory.
	DefaultDirPermissions = 0o755
	sqliteBusyTimeoutMs   = 5000
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

var _ Store = (*SQLiteStore)(nil)

// SQLiteStore persists everything in a single SQLite file. Only one process
// may use the file; the state-directory lock enforces that.
type SQLiteStore struct {
	*sqlBackend
}

// NewSQLiteStore opens (creating if needed) the SQLite database named by
// opts. Plain paths and file: URIs are accepted.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.DSN != "" {
		dir := filepath.Dir(sqlitePath(cfg.DSN))
		if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
			return nil, fmt.Errorf("SQLiteStore: create database directory %s: %w", dir, err)
		}
	}
	b, err := openBackend(backendSpec{
		name:       "SQLiteStore",
		driver:     "sqlite3",
		dialect:    BackendSQLite,
		dsn:        cfg.DSN,
		migrations: sqliteMigrations,
		setup: []string{
			"PRAGMA foreign_keys = ON",
			fmt.Sprintf("PRAGMA busy_timeout = %d", sqliteBusyTimeoutMs),
			"PRAGMA journal_mode = WAL",
		},
		// A single connection serializes writers.
		pool: func(db *sql.DB) { db.SetMaxOpenConns(1) },
	})
	if err != nil {
		return nil, err
	}
	return &SQLiteStore{sqlBackend: b}, nil
}

// sqlitePath strips the file: scheme and query string from a DSN.
func sqlitePath(dsn string) string {
	path := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	return path
}
