// Package postgres implements the storage repositories (C7) against
// PostgreSQL: pgx's database/sql stdlib adapter for the connection, sqlx
// wrapping it for BeginTxx transactions (reads scan rows field by field),
// raw SQL with ON CONFLICT DO UPDATE for idempotent writes.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
)

// Config holds the PostgreSQL connection pool configuration.
type Config struct {
	URL      string
	MaxConns int
	MinConns int
}

// DB wraps the sqlx connection shared by every repository.
type DB struct {
	*sqlx.DB
}

// Open opens and pings a PostgreSQL connection pool.
func Open(ctx context.Context, cfg Config) (*DB, error) {
	db, err := sqlx.Open("pgx", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}

	maxConns := cfg.MaxConns
	if maxConns <= 0 {
		maxConns = 16
	}
	minConns := cfg.MinConns
	if minConns <= 0 {
		minConns = 2
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(minConns)
	db.SetConnMaxLifetime(time.Hour)
	db.SetConnMaxIdleTime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	return &DB{DB: db}, nil
}

// Health reports whether the pool can still reach the database.
func (db *DB) Health(ctx context.Context) error {
	return db.PingContext(ctx)
}
