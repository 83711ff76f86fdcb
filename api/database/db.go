package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	config "github.com/tbeaudouin05/study-entitlements/api/config"
	_ "modernc.org/sqlite"
)

var db *sqlx.DB

func init() {
	sqlx.BindDriver(config.DriverSQLite, sqlx.QUESTION)
}

// Initialize connects to the configured database and verifies the connection
func Initialize() error {
	if config.AppConfig == nil {
		return fmt.Errorf("config not loaded")
	}
	conn, err := Open(context.Background(), config.AppConfig.DatabaseDriver, config.AppConfig.DatabaseURL)
	if err != nil {
		return err
	}
	db = conn
	return nil
}

// Open returns a verified connection for driver. SQLite connections get the
// embedded schema applied so they are usable immediately.
func Open(ctx context.Context, driver, dsn string) (*sqlx.DB, error) {
	switch driver {
	case config.DriverSQLite:
		conn, err := sqlx.Open(config.DriverSQLite, dsn)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite: %w", err)
		}
		// A single connection keeps ":memory:" databases alive and serializes writers.
		conn.SetMaxOpenConns(1)
		conn.SetMaxIdleConns(1)
		if err := conn.PingContext(ctx); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to ping database: %w", err)
		}
		if err := ApplySchema(ctx, conn); err != nil {
			conn.Close()
			return nil, err
		}
		return conn, nil
	case config.DriverPostgres, "":
		conn, err := sqlx.Open(config.DriverPostgres, withDisablePreparedStatements(dsn))
		if err != nil {
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		if err := conn.PingContext(ctx); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to ping database: %w", err)
		}
		conn.SetMaxOpenConns(10)
		conn.SetMaxIdleConns(5)
		conn.SetConnMaxLifetime(5 * time.Minute)
		return conn, nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

// OpenInMemory returns a fresh SQLite database with the schema applied.
func OpenInMemory(ctx context.Context) (*sqlx.DB, error) {
	return Open(ctx, config.DriverSQLite, ":memory:")
}

// withDisablePreparedStatements appends disable_prepared_statements=true and binary_parameters=yes to the DSN if not present.
// This nudges lib/pq to avoid server-side prepared statements and binary mode, which can break with PgBouncer transaction pooling.
func withDisablePreparedStatements(dsn string) string {
	lower := strings.ToLower(dsn)
	if strings.Contains(lower, "disable_prepared_statements=") || strings.Contains(lower, "prefer_simple_protocol=") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	extras := []string{"disable_prepared_statements=true"}
	if !strings.Contains(lower, "binary_parameters=") {
		extras = append(extras, "binary_parameters=yes")
	}
	return dsn + sep + strings.Join(extras, "&")
}

// GetDB returns the database connection
func GetDB() *sqlx.DB {
	return db
}

// SetDB replaces the package connection, used by tests and the CLI local mode.
func SetDB(conn *sqlx.DB) {
	db = conn
}
