package store

import (
	"fmt"
	"log/slog"
	"strings"
)

// Backend types returned by DetectDSNType.
const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// Opts holds configuration options for store implementations.
type Opts struct {
	DSN     string
	Backend string
}

// Option defines a configuration option for store implementations.
type Option func(*Opts)

// WithSQLiteDSN sets the SQLite database path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
		o.Backend = BackendSQLite
	}
}

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
		o.Backend = BackendPostgres
	}
}

// DetectDSNType returns "postgres" for PostgreSQL connection strings and
// "sqlite" for everything else.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return BackendPostgres
	}
	return BackendSQLite
}

// OptionsForDSN picks the backend option for dsn. An empty dsn selects the
// in-memory store.
func OptionsForDSN(dsn string) []Option {
	if dsn == "" {
		return nil
	}
	if DetectDSNType(dsn) == BackendPostgres {
		return []Option{WithPostgresDSN(dsn)}
	}
	return []Option{WithSQLiteDSN(dsn)}
}

// Open builds the store selected by opts.
func Open(opts ...Option) (Store, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	switch cfg.Backend {
	case "", BackendMemory:
		slog.Info("Store.Open: no database DSN provided, using in-memory store")
		return NewInMemoryStore(), nil
	case BackendSQLite:
		return NewSQLiteStore(opts...)
	case BackendPostgres:
		return NewPostgresStore(opts...)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}
