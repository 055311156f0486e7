package runner

import (
	"context"
	"fmt"

	"github.com/warboard/warboard/agent/internal/compute"
	"github.com/warboard/warboard/agent/internal/history"
	"github.com/warboard/warboard/agent/internal/rank"
	"github.com/warboard/warboard/pkg/types"
)

// RankSummary describes a finished ranking run.
type RankSummary struct {
	RunID string
	Week  string
	Rows  []types.RankedRow
}

// Rank runs the ranking pipeline: fetch the roster and war data, reconcile
// with the stored history, score, rank and save.
func (r *Runner) Rank(ctx context.Context) (*RankSummary, error) {
	started := r.now()
	ex, release, err := r.begin(ctx, "rank")
	if err != nil {
		return nil, err
	}
	defer release()

	sum, err := r.rank(ctx, ex)
	r.finish("rank", ex, started, err)
	if err != nil {
		return nil, err
	}
	r.metrics.SetRanked(len(sum.Rows))
	return sum, nil
}

func (r *Runner) rank(ctx context.Context, ex *execution) (*RankSummary, error) {
	cfg := ex.cfg

	prior, err := r.store.CountRankRows(ctx)
	if err != nil {
		return nil, err
	}
	stored, err := r.store.LoadHistories(ctx)
	if err != nil {
		return nil, err
	}
	tenure, err := r.store.LoadTenure(ctx)
	if err != nil {
		return nil, err
	}

	clan, err := ex.api.ClanOverview(ctx, cfg.Clan.Tag)
	if err != nil {
		return nil, fmt.Errorf("runner: rank: %w", err)
	}

	week := history.WeekOf(ex.now)
	archived := make(map[string]history.History, len(stored))
	for tag, h := range stored {
		archived[tag] = history.Parse(h)
	}
	histories := history.Reconcile(archived, clan.Log, clan.Race.Participants, week)

	nextTenure := compute.UpdateTenure(tenure, clan.Members, ex.now)

	engine := compute.NewEngine(compute.Config{
		Weights: compute.Weights{
			Current:       cfg.Scoring.Weights.Current,
			Average:       cfg.Scoring.Weights.Average,
			Secondary:     cfg.Scoring.Weights.Secondary,
			Tertiary:      cfg.Scoring.Weights.Tertiary,
			Participation: cfg.Scoring.Weights.Participation,
		},
		Decay:     compute.Decay{GraceDays: cfg.Scoring.DecayGraceDays, Rate: cfg.Scoring.DecayRate},
		GraceDays: cfg.Scoring.GraceDays,
	})
	rows := engine.ScoreMembers(clan.Members, histories, nextTenure, ex.now)
	rank.Rank(rows)

	if len(rows) == 0 && prior > 0 {
		return nil, fmt.Errorf("%w: 0 rows from API, %d stored", ErrZeroResultSafetyLock, prior)
	}

	if err := r.store.SaveRanking(ctx, rows, nextTenure); err != nil {
		return nil, err
	}
	ex.logger.Info("runner: ranking saved",
		"rows", len(rows), "week", week, "log_entries", len(clan.Log),
		"race_participants", len(clan.Race.Participants), "period", clan.Race.PeriodType)

	return &RankSummary{RunID: ex.id, Week: week, Rows: rows}, nil
}
