package runner

import (
	"context"
	"fmt"
	"slices"

	"github.com/warboard/warboard/agent/internal/clashapi"
	"github.com/warboard/warboard/agent/internal/recruit"
	"github.com/warboard/warboard/agent/internal/store"
	"github.com/warboard/warboard/pkg/types"
)

// RecruitSummary describes a finished recruiting run.
type RecruitSummary struct {
	RunID      string
	Candidates []types.Candidate
	Blacklist  int
	Benchmark  float64
	Stats      recruit.Stats
}

// Recruit runs the recruiting funnel and saves the tracked candidates and
// exclusion list.
func (r *Runner) Recruit(ctx context.Context) (*RecruitSummary, error) {
	started := r.now()
	ex, release, err := r.begin(ctx, "recruit")
	if err != nil {
		return nil, err
	}
	defer release()

	sum, err := r.recruit(ctx, ex)
	r.finish("recruit", ex, started, err)
	if err != nil {
		return nil, err
	}
	r.metrics.SetRecruit(len(sum.Candidates), sum.Blacklist, sum.Benchmark)
	return sum, nil
}

func (r *Runner) recruit(ctx context.Context, ex *execution) (*RecruitSummary, error) {
	cfg := ex.cfg

	blacklist, err := loadChunked[[]types.BlacklistEntry](ctx, r.store, ex.logger, store.KeyBlacklist)
	if err != nil {
		return nil, err
	}
	tracked, err := loadChunked[[]types.Candidate](ctx, r.store, ex.logger, store.KeyCandidates)
	if err != nil {
		return nil, err
	}
	processed, err := loadChunked[[]string](ctx, r.store, ex.logger, store.KeyProcessed)
	if err != nil {
		return nil, err
	}

	members, err := ex.api.ClanMembers(ctx, cfg.Clan.Tag)
	if err != nil {
		return nil, fmt.Errorf("runner: recruit: %w", err)
	}

	state := recruit.State{
		Blacklist:  blacklist,
		Candidates: make(map[string]types.Candidate, len(tracked)),
		Processed:  processed,
	}
	for _, c := range tracked {
		state.Candidates[c.Tag] = c
	}

	rc := cfg.Recruit
	p := recruit.New(ex.api, recruit.Config{
		Keywords:         rc.Keywords,
		TournamentPool:   rc.TournamentPool,
		TournamentSample: rc.TournamentSample,
		PlayerPool:       rc.PlayerPool,
		PlayerSample:     rc.PlayerSample,
		Capacity:         rc.Capacity,
		ExclusionWindow:  rc.ExclusionWindow,
		BaselineFloor:    rc.BaselineFloor,
		WarBonus:         rc.WarBonus,
		Weights: recruit.Weights{
			Trophies:  rc.Weights.Trophies,
			Donations: rc.Weights.Donations,
			War:       rc.Weights.War,
		},
	}, r.rng())

	res, err := p.Run(ctx, state, members, ex.now)
	if err != nil {
		return nil, fmt.Errorf("runner: recruit: %w", err)
	}

	if err := r.store.SaveRecruit(ctx, store.RecruitOutput{
		Blacklist:  res.Blacklist,
		Candidates: res.Candidates,
		Consumed:   processed,
	}); err != nil {
		return nil, err
	}

	return &RecruitSummary{
		RunID:      ex.id,
		Candidates: res.Candidates,
		Blacklist:  len(res.Blacklist),
		Benchmark:  res.Benchmark,
		Stats:      res.Stats,
	}, nil
}

// MarkProcessed queues tags to be excluded by the next recruiting run. Tags
// are normalised to the "#ABC" form. It returns the queue length.
func (r *Runner) MarkProcessed(ctx context.Context, tags []string) (int, error) {
	var norm []string
	for _, t := range tags {
		if t = clashapi.NormalizeTag(t); t != "" && !slices.Contains(norm, t) {
			norm = append(norm, t)
		}
	}
	if len(norm) == 0 {
		return 0, fmt.Errorf("runner: no tags to mark")
	}
	n, err := r.store.QueueProcessed(ctx, norm)
	if err != nil {
		return 0, err
	}
	return n, nil
}
