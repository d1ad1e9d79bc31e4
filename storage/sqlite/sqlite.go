// Package sqlite is a storage.KV backed by SQLite, for deployments that
// want conversation state to survive a process restart without standing up
// a separate database server.
package sqlite

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	_ "modernc.org/sqlite" // pure-Go driver, no cgo
)

// Store is a single-table key-value store: (key TEXT PRIMARY KEY, value
// BLOB). It is safe for concurrent use.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) a SQLite database at dsn and prepares
// it for concurrent single-process use.
//
// Connection pool settings follow the same reasoning a local, single-writer
// SQLite file always does: one connection avoids SQLITE_BUSY under WAL,
// and there is no remote latency to amortize by keeping more than one open.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "sqlite: open %s", dsn)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 10000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, errors.Wrapf(err, "sqlite: set pragma %q", pragma)
		}
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	const schema = `
CREATE TABLE IF NOT EXISTS conversation_state (
	key   TEXT PRIMARY KEY,
	value BLOB NOT NULL
)`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "sqlite: create schema")
	}

	return &Store{db: db}, nil
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM conversation_state WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "sqlite: get")
	}
	return value, true, nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO conversation_state (key, value) VALUES (?, ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	return errors.Wrap(err, "sqlite: set")
}

func (s *Store) Del(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM conversation_state WHERE key = ?`, key)
	return errors.Wrap(err, "sqlite: del")
}
