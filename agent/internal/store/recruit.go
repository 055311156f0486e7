package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/warboard/warboard/pkg/types"
)

// Chunked keys holding the recruiting state.
const (
	KeyBlacklist  = "recruit.blacklist"
	KeyCandidates = "recruit.candidates"
	KeyProcessed  = "recruit.processed"
)

// RecruitOutput is everything a recruiting run persists.
type RecruitOutput struct {
	Blacklist  []types.BlacklistEntry
	Candidates []types.Candidate

	// Consumed are the processed marks folded into Blacklist. They are
	// removed from the queue; marks added during the run stay queued.
	Consumed []string
}

// SaveRecruit writes the outputs of a recruiting run in one transaction.
func (s *Store) SaveRecruit(ctx context.Context, out RecruitOutput) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := s.setChunked(ctx, tx, KeyBlacklist, nonNil(out.Blacklist)); err != nil {
			return err
		}
		if err := s.setChunked(ctx, tx, KeyCandidates, nonNil(out.Candidates)); err != nil {
			return err
		}

		var queue []string
		if _, err := getChunked(ctx, tx, KeyProcessed, &queue); err != nil && !errors.Is(err, ErrCorrupt) {
			return err
		}
		queue = slices.DeleteFunc(queue, func(tag string) bool {
			return slices.Contains(out.Consumed, tag)
		})
		return s.setChunked(ctx, tx, KeyProcessed, nonNil(queue))
	})
}

// QueueProcessed appends tags to the processed queue, skipping duplicates.
// It returns the queue length after the append.
func (s *Store) QueueProcessed(ctx context.Context, tags []string) (int, error) {
	var n int
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var queue []string
		if _, err := getChunked(ctx, tx, KeyProcessed, &queue); err != nil {
			if !errors.Is(err, ErrCorrupt) {
				return fmt.Errorf("store: read processed queue: %w", err)
			}
			slog.Warn("store: processed queue corrupt, starting a new one", "err", err)
			queue = nil
		}
		for _, t := range tags {
			if !slices.Contains(queue, t) {
				queue = append(queue, t)
			}
		}
		n = len(queue)
		return s.setChunked(ctx, tx, KeyProcessed, queue)
	})
	return n, err
}

// nonNil turns a nil slice into an empty one so it encodes as [] not null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
