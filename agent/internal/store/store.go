package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// DefaultChunkSize is the byte length of one stored chunk.
const DefaultChunkSize = 8000

var (
	// ErrLocked means another owner holds an unexpired run lock.
	ErrLocked = errors.New("store: locked")

	// ErrCorrupt means a stored value could not be reassembled or decoded.
	ErrCorrupt = errors.New("store: corrupt value")
)

const schema = `
CREATE TABLE IF NOT EXISTS kv (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS chunked (
	key        TEXT PRIMARY KEY,
	chunks     INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS chunks (
	key  TEXT NOT NULL,
	idx  INTEGER NOT NULL,
	data BLOB NOT NULL,
	PRIMARY KEY (key, idx)
);

CREATE TABLE IF NOT EXISTS locks (
	name       TEXT PRIMARY KEY,
	owner      TEXT NOT NULL,
	expires_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS tenure (
	tag               TEXT PRIMARY KEY,
	first_seen        INTEGER NOT NULL,
	weekly_donations  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS rank_rows (
	tag     TEXT PRIMARY KEY,
	rank    INTEGER NOT NULL,
	history TEXT NOT NULL,
	row     TEXT NOT NULL
);
`

// Store is a SQLite-backed persistence layer. It is safe for concurrent use.
type Store struct {
	db        *sql.DB
	chunkSize int
	now       func() time.Time // injectable for deterministic tests
}

// Open opens (creating if needed) the database at path and applies the
// schema. chunkSize <= 0 selects DefaultChunkSize.
func Open(path string, chunkSize int) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("store: create dir: %w", err)
		}
	}

	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(10000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: create tables: %w", err)
	}

	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Store{db: db, chunkSize: chunkSize, now: time.Now}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// inTx runs fn inside a transaction, committing on success.
func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}
