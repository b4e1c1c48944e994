// Package pgstore is a PostgreSQL-backed implementation of the engine's
// durable provider interfaces. It speaks database/sql through the pgx
// stdlib driver and manages its schema with goose migrations.
package pgstore

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Store implements stepauth.AccountProvider and stepauth.SessionProvider
// on a shared connection pool.
type Store struct {
	db *sql.DB
}

// Open connects to the given DSN and runs pending migrations.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}

	store := New(db)
	if err := store.RunMigrations(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration error: %w", err)
	}

	return store, nil
}

// New wraps an existing pool. The caller owns the pool's lifecycle and is
// responsible for migrations.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying pool for application queries that share it.
func (s *Store) DB() *sql.DB {
	return s.db
}

// RunMigrations applies the embedded schema migrations.
func (s *Store) RunMigrations(ctx context.Context) error {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}

	return goose.UpContext(ctx, s.db, "migrations")
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}
