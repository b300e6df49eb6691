package store

import (
	"database/sql"
	_ "embed"
	"time"

	_ "github.com/lib/pq"
)

// Connection pool settings for PostgreSQL.
const (
	DefaultMaxOpenConns    = 25
	DefaultMaxIdleConns    = 25
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

var _ Store = (*PostgresStore)(nil)

// PostgresStore persists everything in PostgreSQL. Several agent processes
// may share one database; optimistic versioning arbitrates between them.
type PostgresStore struct {
	*sqlBackend
}

// NewPostgresStore connects to the DSN from opts and applies the schema.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	b, err := openBackend(backendSpec{
		name:       "PostgresStore",
		driver:     "postgres",
		dialect:    BackendPostgres,
		dsn:        cfg.DSN,
		migrations: postgresMigrations,
		pool: func(db *sql.DB) {
			db.SetMaxOpenConns(DefaultMaxOpenConns)
			db.SetMaxIdleConns(DefaultMaxIdleConns)
			db.SetConnMaxLifetime(DefaultConnMaxLifetime)
		},
	})
	if err != nil {
		return nil, err
	}
	return &PostgresStore{sqlBackend: b}, nil
}
