package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Get returns the simple value stored under key.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("store: get %q: %w", key, err)
	}
	return v, true, nil
}

// Set stores a simple value under key.
func (s *Store) Set(ctx context.Context, key, value string) error {
	return setKV(ctx, s.db, key, value)
}

func setKV(ctx context.Context, q queryer, key, value string) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO kv (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("store: set %q: %w", key, err)
	}
	return nil
}

// GetChunked reassembles the JSON value stored under key and decodes it into
// v. It reports false when nothing is stored. A value with missing chunks or
// invalid JSON yields an error wrapping ErrCorrupt.
func (s *Store) GetChunked(ctx context.Context, key string, v any) (bool, error) {
	return getChunked(ctx, s.db, key, v)
}

// SetChunked encodes v as JSON and stores it under key, replacing every
// previous chunk in one transaction.
func (s *Store) SetChunked(ctx context.Context, key string, v any) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		return s.setChunked(ctx, tx, key, v)
	})
}

// DeleteChunked removes the value stored under key.
func (s *Store) DeleteChunked(ctx context.Context, key string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		return deleteChunked(ctx, tx, key)
	})
}

func getChunked(ctx context.Context, q queryer, key string, v any) (bool, error) {
	var count int
	err := q.QueryRowContext(ctx, `SELECT chunks FROM chunked WHERE key = ?`, key).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("store: get chunked %q: %w", key, err)
	}

	rows, err := q.QueryContext(ctx, `SELECT idx, data FROM chunks WHERE key = ? ORDER BY idx`, key)
	if err != nil {
		return false, fmt.Errorf("store: get chunks %q: %w", key, err)
	}
	defer rows.Close()

	var buf []byte
	var n int
	for rows.Next() {
		var idx int
		var data []byte
		if err := rows.Scan(&idx, &data); err != nil {
			return false, fmt.Errorf("store: scan chunk %q: %w", key, err)
		}
		if idx != n {
			return false, fmt.Errorf("%w: %q missing chunk %d", ErrCorrupt, key, n)
		}
		buf = append(buf, data...)
		n++
	}
	if err := rows.Err(); err != nil {
		return false, fmt.Errorf("store: read chunks %q: %w", key, err)
	}
	if n != count {
		return false, fmt.Errorf("%w: %q has %d of %d chunks", ErrCorrupt, key, n, count)
	}
	if err := json.Unmarshal(buf, v); err != nil {
		return false, fmt.Errorf("%w: %q: %v", ErrCorrupt, key, err)
	}
	return true, nil
}

func (s *Store) setChunked(ctx context.Context, tx *sql.Tx, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("store: encode %q: %w", key, err)
	}
	if err := deleteChunked(ctx, tx, key); err != nil {
		return err
	}

	var idx int
	for start := 0; start < len(data); start += s.chunkSize {
		end := min(start+s.chunkSize, len(data))
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO chunks (key, idx, data) VALUES (?, ?, ?)`, key, idx, data[start:end]); err != nil {
			return fmt.Errorf("store: write chunk %q/%d: %w", key, idx, err)
		}
		idx++
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO chunked (key, chunks, updated_at) VALUES (?, ?, ?)`,
		key, idx, s.now().UnixMilli()); err != nil {
		return fmt.Errorf("store: write header %q: %w", key, err)
	}
	return nil
}

func deleteChunked(ctx context.Context, tx *sql.Tx, key string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE key = ?`, key); err != nil {
		return fmt.Errorf("store: delete chunks %q: %w", key, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM chunked WHERE key = ?`, key); err != nil {
		return fmt.Errorf("store: delete header %q: %w", key, err)
	}
	return nil
}
