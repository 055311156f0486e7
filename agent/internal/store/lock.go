package store

import (
	"context"
	"fmt"
	"time"
)

// AcquireLock takes the named lease for owner until ttl from now. An owner
// may renew its own lease, and an expired lease can be taken over. Any other
// case returns ErrLocked.
func (s *Store) AcquireLock(ctx context.Context, name, owner string, ttl time.Duration) error {
	now := s.now()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO locks (name, owner, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET owner = excluded.owner, expires_at = excluded.expires_at
		 WHERE locks.owner = excluded.owner OR locks.expires_at <= ?`,
		name, owner, now.Add(ttl).UnixMilli(), now.UnixMilli())
	if err != nil {
		return fmt.Errorf("store: acquire lock %q: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: acquire lock %q: %w", name, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %q", ErrLocked, name)
	}
	return nil
}

// ReleaseLock drops the named lease if owner still holds it.
func (s *Store) ReleaseLock(ctx context.Context, name, owner string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM locks WHERE name = ? AND owner = ?`, name, owner)
	if err != nil {
		return fmt.Errorf("store: release lock %q: %w", name, err)
	}
	return nil
}
