// Package sqlstore provides the SQL-backed provider config store for
// PostgreSQL and SQLite.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"norelock.dev/listenify/providerhost/internal/utils"
)

// DefaultTable holds provider config rows when none is configured.
const DefaultTable = "provider_configs"

// Driver names accepted by Open.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

var validTable = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Store keeps provider config values as one row per key.
// Both supported databases accept the same statements.
type Store struct {
	db     *sql.DB
	table  string
	logger *utils.Logger
	now    func() time.Time
}

// Open connects to the database, verifies the connection and creates the table.
func Open(ctx context.Context, driver, dsn, table string, maxOpenConns int, logger *utils.Logger) (*Store, error) {
	if driver == DriverSQLite && !sqliteAvailable {
		return nil, errSQLiteUnavailable
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if maxOpenConns > 0 {
		db.SetMaxOpenConns(maxOpenConns)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s, err := New(db, table, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	logger.Info("Provider config database ready", "driver", driver, "table", s.table)
	return s, nil
}

// New wraps an open database. The table is not created.
func New(db *sql.DB, table string, logger *utils.Logger) (*Store, error) {
	if table == "" {
		table = DefaultTable
	}
	if !validTable.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &Store{db: db, table: table, logger: logger.Named("sqlstore"), now: time.Now}, nil
}

// Migrate creates the config table if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL
)`, s.table)
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("failed to create table %s: %w", s.table, err)
	}
	return nil
}

// Get returns the stored value and whether the key exists.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT value FROM %s WHERE key = $1", s.table), key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		s.logger.Error("Failed to read provider config", err, "key", key)
		return nil, false, err
	}
	return []byte(value), true, nil
}

// Set upserts the row for key in a single statement.
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	stmt := fmt.Sprintf(`INSERT INTO %s (key, value, updated_at) VALUES ($1, $2, $3)
ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`, s.table)
	if _, err := s.db.ExecContext(ctx, stmt, key, string(value), s.now().UTC()); err != nil {
		s.logger.Error("Failed to write provider config", err, "key", key)
		return err
	}
	return nil
}

// Delete removes the row for key.
func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE key = $1", s.table), key)
	return err
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}
