package database

import (
	"context"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

const schemaFile = "migrations/000001_entitlements.up.sql"

// ApplySchema executes the initial schema directly. Used for SQLite, where the
// whole schema is idempotent (IF NOT EXISTS) and versioning is not tracked.
func ApplySchema(ctx context.Context, conn *sqlx.DB) error {
	schema, err := migrationFS.ReadFile(schemaFile)
	if err != nil {
		return fmt.Errorf("failed to read schema: %w", err)
	}
	if _, err := conn.ExecContext(ctx, string(schema)); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

func newMigrator(conn *sqlx.DB) (*migrate.Migrate, error) {
	src, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to open migration source: %w", err)
	}
	drv, err := postgres.WithInstance(conn.DB, &postgres.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to init migration driver: %w", err)
	}
	return migrate.NewWithInstance("iofs", src, "postgres", drv)
}

// MigrateUp applies all pending Postgres migrations. ErrNoChange is not an error.
func MigrateUp(conn *sqlx.DB) error {
	m, err := newMigrator(conn)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}

// MigrateDown rolls back every Postgres migration.
func MigrateDown(conn *sqlx.DB) error {
	m, err := newMigrator(conn)
	if err != nil {
		return err
	}
	if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate down: %w", err)
	}
	return nil
}
