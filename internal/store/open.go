package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrMissingDSN is returned when a SQL backend is opened without a DSN.
var ErrMissingDSN = errors.New("database DSN is required")

// DefaultConnectTimeout bounds the initial ping and migration run.
const DefaultConnectTimeout = 15 * time.Second

// backendSpec describes how to open one SQL dialect.
type backendSpec struct {
	name       string // log prefix, e.g. "SQLiteStore"
	driver     string // database/sql driver name
	dialect    string
	dsn        string
	migrations string
	// setup statements run before migrations, outside any transaction.
	setup []string
	pool  func(db *sql.DB)
}

// openBackend opens the pool, verifies connectivity, applies setup and
// migrations, and returns the shared backend. The pool is closed on error.
func openBackend(spec backendSpec) (*sqlBackend, error) {
	if spec.dsn == "" {
		return nil, fmt.Errorf("%s: %w", spec.name, ErrMissingDSN)
	}
	db, err := sql.Open(spec.driver, spec.dsn)
	if err != nil {
		return nil, fmt.Errorf("%s: open: %w", spec.name, err)
	}
	if spec.pool != nil {
		spec.pool(db)
	}

	ctx, cancel := context.WithTimeout(context.Background(), DefaultConnectTimeout)
	defer cancel()

	fail := func(step string, err error) (*sqlBackend, error) {
		slog.Error(spec.name+".open: "+step+" failed", "error", err)
		db.Close()
		return nil, fmt.Errorf("%s: %s: %w", spec.name, step, err)
	}
	if err := db.PingContext(ctx); err != nil {
		return fail("ping", err)
	}
	for _, stmt := range spec.setup {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fail("setup", err)
		}
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fail("begin migrations", err)
	}
	if _, err := tx.ExecContext(ctx, spec.migrations); err != nil {
		_ = tx.Rollback()
		return fail("migrations", err)
	}
	if err := tx.Commit(); err != nil {
		return fail("commit migrations", err)
	}
	slog.Debug(spec.name+".open: schema ready", "dialect", spec.dialect)
	return &sqlBackend{db: db, dialect: spec.dialect, name: spec.name}, nil
}
