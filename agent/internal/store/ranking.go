package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/warboard/warboard/pkg/types"
)

// KeyRankUpdated holds the RFC 3339 time of the last saved ranking.
const KeyRankUpdated = "rank.updated_at"

// LoadTenure returns every stored tenure record keyed by tag. A record whose
// weekly donations cannot be decoded keeps its first-seen time and starts
// with no weekly history.
func (s *Store) LoadTenure(ctx context.Context) (map[string]types.TenureRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT tag, first_seen, weekly_donations FROM tenure`)
	if err != nil {
		return nil, fmt.Errorf("store: load tenure: %w", err)
	}
	defer rows.Close()

	out := make(map[string]types.TenureRecord)
	for rows.Next() {
		var (
			rec       types.TenureRecord
			firstSeen int64
			weekly    string
		)
		if err := rows.Scan(&rec.Tag, &firstSeen, &weekly); err != nil {
			return nil, fmt.Errorf("store: scan tenure: %w", err)
		}
		rec.FirstSeen = time.UnixMilli(firstSeen).UTC()
		if err := json.Unmarshal([]byte(weekly), &rec.WeeklyDonationMax); err != nil {
			slog.Warn("store: tenure donations corrupt, resetting", "tag", rec.Tag, "err", err)
			rec.WeeklyDonationMax = nil
		}
		out[rec.Tag] = rec
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: load tenure: %w", err)
	}
	return out, nil
}

// LoadRankRows returns the last saved rank rows in rank order. Rows that
// cannot be decoded are logged and left out.
func (s *Store) LoadRankRows(ctx context.Context) ([]types.RankedRow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT tag, row FROM rank_rows ORDER BY rank, tag`)
	if err != nil {
		return nil, fmt.Errorf("store: load rank rows: %w", err)
	}
	defer rows.Close()

	var out []types.RankedRow
	for rows.Next() {
		var tag, raw string
		if err := rows.Scan(&tag, &raw); err != nil {
			return nil, fmt.Errorf("store: scan rank row: %w", err)
		}
		var r types.RankedRow
		if err := json.Unmarshal([]byte(raw), &r); err != nil {
			slog.Warn("store: rank row corrupt, skipping", "tag", tag, "err", err)
			continue
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: load rank rows: %w", err)
	}
	return out, nil
}

// LoadHistories returns the archived contribution history of every ranked
// member keyed by tag. It reads the history column directly, so a member's
// history survives damage to its encoded row.
func (s *Store) LoadHistories(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT tag, history FROM rank_rows`)
	if err != nil {
		return nil, fmt.Errorf("store: load histories: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var tag, h string
		if err := rows.Scan(&tag, &h); err != nil {
			return nil, fmt.Errorf("store: scan history: %w", err)
		}
		out[tag] = h
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: load histories: %w", err)
	}
	return out, nil
}

// CountRankRows returns how many rank rows are stored.
func (s *Store) CountRankRows(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM rank_rows`).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: count rank rows: %w", err)
	}
	return n, nil
}

// SaveRanking replaces the rank rows and tenure records in one transaction.
func (s *Store) SaveRanking(ctx context.Context, rows []types.RankedRow, tenure map[string]types.TenureRecord) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM rank_rows`); err != nil {
			return fmt.Errorf("store: clear rank rows: %w", err)
		}
		for _, r := range rows {
			raw, err := json.Marshal(r)
			if err != nil {
				return fmt.Errorf("store: encode rank row %s: %w", r.Tag, err)
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO rank_rows (tag, rank, history, row) VALUES (?, ?, ?, ?)`,
				r.Tag, r.Rank, r.History, string(raw)); err != nil {
				return fmt.Errorf("store: insert rank row %s: %w", r.Tag, err)
			}
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM tenure`); err != nil {
			return fmt.Errorf("store: clear tenure: %w", err)
		}
		for tag, rec := range tenure {
			weekly, err := json.Marshal(rec.WeeklyDonationMax)
			if err != nil {
				return fmt.Errorf("store: encode tenure %s: %w", tag, err)
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO tenure (tag, first_seen, weekly_donations) VALUES (?, ?, ?)`,
				tag, rec.FirstSeen.UnixMilli(), string(weekly)); err != nil {
				return fmt.Errorf("store: insert tenure %s: %w", tag, err)
			}
		}

		return setKV(ctx, tx, KeyRankUpdated, s.now().UTC().Format(time.RFC3339))
	})
}
