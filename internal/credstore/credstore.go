// Package credstore persists per-account provider selections and push
// credentials in SQLite.
package credstore

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS accounts (
	account_id TEXT PRIMARY KEY,
	provider   TEXT NOT NULL DEFAULT '',
	providers  TEXT NOT NULL DEFAULT '{}',
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// Store defines the credential store operations. Every convenience
// operation is a read-modify-write over Load and Save.
type Store interface {
	Load(ctx context.Context, accountID string) (*Record, error)
	Save(ctx context.Context, rec *Record) error
	GetProviderProfile(ctx context.Context, accountID string) (Profile, error)
	UpdateProviderProfile(ctx context.Context, accountID string, p Profile) error
	GetProvider(ctx context.Context, accountID string) (string, error)
	SetProvider(ctx context.Context, accountID, provider string) error
	SetAndUpdateProvider(ctx context.Context, accountID, provider string, p Profile) error
}

var _ Store = (*DB)(nil)

// DB is the SQLite-backed Store.
type DB struct {
	conn     *sql.DB
	defaults Defaults
}

// Open opens (or creates) the SQLite database and applies the schema.
// Records for unknown accounts are seeded from defaults on first Load.
func Open(dsn string, defaults Defaults) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("credstore: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("credstore: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("credstore: apply schema: %w", err)
	}
	return &DB{conn: conn, defaults: defaults}, nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}
