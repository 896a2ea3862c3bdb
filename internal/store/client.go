// Package store implements the Conversation Store (SPEC_FULL.md §4.H): the
// read/write contracts over persisted conversations, messages, analyses,
// feedback, and daily metrics. Grounded on the teacher's pkg/database
// (pgx-backed *sql.DB plus golang-migrate embedded SQL migrations), with
// Ent dropped in favor of direct SQL since code generation isn't available
// in this environment (see DESIGN.md).
package store

import (
	stdsql "database/sql"
	"embed"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver

	"github.com/tarsy-labs/agentrun/internal/config"
)

//go:embed migrations
var migrationsFS embed.FS

// Store wraps the pooled Postgres connection every read/write contract in
// this package executes against.
type Store struct {
	db *stdsql.DB
}

// Open connects to Postgres per cfg, configures the connection pool, and
// applies any pending embedded migrations before returning.
func Open(cfg config.StoreConfig) (*Store, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	db, err := stdsql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := runMigrations(db, cfg.Database); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// NewFromDB wraps an already-open *sql.DB (used by tests against a
// test-local Postgres, or by sqlmock-style fakes).
func NewFromDB(db *stdsql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

// Ping reports whether the underlying connection is reachable, for the
// health endpoint (SPEC_FULL.md §12 supplemental features).
func (s *Store) Ping() error { return s.db.Ping() }

func runMigrations(db *stdsql.DB, dbName string) error {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("reading embedded migrations: %w", err)
	}
	if len(entries) == 0 {
		return fmt.Errorf("no embedded migration files found")
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("creating postgres driver: %w", err)
	}
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("creating migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, dbName, driver)
	if err != nil {
		return fmt.Errorf("creating migrate instance: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("applying migrations: %w", err)
	}
	// Do not call m.Close(): it would close the shared db via the postgres
	// driver, same caveat as the teacher's client.go.
	return source.Close()
}
