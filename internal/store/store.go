package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/unitwork/internal/schema"
)

// Store is a database handle bound to a dialect.
type Store struct {
	db      *sql.DB
	dialect Dialect
	logger  *slog.Logger
}

// Open connects to dsn with the named dialect.
//
// SQLite databases are configured with pragmas and a single connection, as
// SQLite only supports one writer at a time.
func Open(ctx context.Context, dialect, dsn string) (*Store, error) {
	d, err := DialectFor(dialect)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(d.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if d.Name == SQLite.Name {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		if err := applyPragmas(ctx, db); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply pragmas: %w", err)
		}
	}

	return &Store{db: db, dialect: d, logger: slog.Default()}, nil
}

// New wraps an existing database handle.
func New(db *sql.DB, d Dialect) *Store {
	return &Store{db: db, dialect: d, logger: slog.Default()}
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying sql.DB.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Dialect returns the store's dialect.
func (s *Store) Dialect() Dialect {
	return s.dialect
}

// ApplySchema creates the tables of reg.
func (s *Store) ApplySchema(ctx context.Context, reg *schema.Registry) error {
	for _, stmt := range DDL(s.dialect, reg) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("execute ddl: %w", err)
		}
	}
	return nil
}

// NewRunner returns a runner writing through a new transaction.
func (s *Store) NewRunner() *Runner {
	return &Runner{db: s.db, dialect: s.dialect, logger: s.logger}
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}
