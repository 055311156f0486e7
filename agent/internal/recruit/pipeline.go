package recruit

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"maps"
	"math"
	"math/rand"
	"slices"
	"strings"
	"time"

	"github.com/warboard/warboard/agent/internal/clashapi"
	"github.com/warboard/warboard/pkg/types"
)

// API is the part of the stats API the funnel reads.
type API interface {
	Players(ctx context.Context, tags []string) (map[string]clashapi.Player, error)
	BattleLogs(ctx context.Context, tags []string) (map[string][]clashapi.Battle, error)
	SearchTournaments(ctx context.Context, keywords []string) ([]clashapi.TournamentHeader, error)
	Tournaments(ctx context.Context, tags []string) (map[string]clashapi.Tournament, error)
}

// Weights are the coefficients of a candidate's raw score.
type Weights struct {
	Trophies  float64
	Donations float64
	War       float64
}

// Config parameterises a Pipeline.
type Config struct {
	Keywords         []string
	TournamentPool   int
	TournamentSample int
	PlayerPool       int
	PlayerSample     int
	Capacity         int
	ExclusionWindow  time.Duration
	BaselineFloor    int
	WarBonus         int
	Weights          Weights
}

// State is the persisted input of a run.
type State struct {
	Blacklist  []types.BlacklistEntry
	Candidates map[string]types.Candidate
	Processed  []string
}

// Stats counts what each stage kept or dropped.
type Stats struct {
	Expired       int
	Excluded      int
	LivenessDrops int
	Tournaments   int
	Sampled       int
	Survivors     int
	Finalists     int
	Added         int
	Tracked       int
}

// Result is the output of a run. Candidates are ordered by raw score,
// highest first; Blacklist by score, highest first.
type Result struct {
	Blacklist  []types.BlacklistEntry
	Benchmark  float64
	Candidates []types.Candidate
	TrophyAvg  float64
	Floor      int
	Stats      Stats
}

// Pipeline runs the recruiting funnel. It is not safe for concurrent use
// because it owns its random source.
type Pipeline struct {
	api API
	cfg Config
	rng *rand.Rand
}

// New returns a Pipeline. rng drives every sampling step; nil seeds one from
// the clock.
func New(api API, cfg Config, rng *rand.Rand) *Pipeline {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano())) //nolint:gosec // sampling only
	}
	return &Pipeline{api: api, cfg: cfg, rng: rng}
}

// Run executes one pass of the funnel. members is the own clan roster; it
// sets the trophy reference and is never recruited from. state is not
// modified.
func (p *Pipeline) Run(ctx context.Context, state State, members []types.MemberSnapshot, now time.Time) (*Result, error) {
	res := &Result{}

	// Exclusion list and benchmark.
	res.Blacklist, res.Benchmark = Refresh(state.Blacklist, state.Processed, state.Candidates, now, p.cfg.ExclusionWindow)
	res.Stats.Expired = countExpired(state.Blacklist, now)
	excluded := excludedTags(res.Blacklist)

	tracked := make(map[string]types.Candidate, len(state.Candidates))
	for tag, c := range state.Candidates {
		if excluded[tag] {
			res.Stats.Excluded++
			continue
		}
		tracked[tag] = c
	}
	slog.Info("recruit: exclusion list refreshed",
		"entries", len(res.Blacklist), "benchmark", res.Benchmark,
		"expired", res.Stats.Expired, "processed", len(state.Processed))

	// Liveness.
	dropped, err := p.liveness(ctx, tracked)
	if err != nil {
		return nil, err
	}
	res.Stats.LivenessDrops = dropped

	// Discovery.
	sample, total, err := p.discover(ctx)
	if err != nil {
		return nil, err
	}
	res.Stats.Tournaments = total
	res.Stats.Sampled = len(sample)

	// Enrich and filter.
	own := make(map[string]bool, len(members))
	var trophySum int
	for _, m := range members {
		own[m.Tag] = true
		trophySum += m.Trophies
	}
	if len(members) > 0 {
		res.TrophyAvg = float64(trophySum) / float64(len(members))
	}
	res.Floor = TrophyFloor(res.TrophyAvg, len(tracked), p.cfg.Capacity, p.cfg.BaselineFloor)

	survivors, err := p.filter(ctx, sample, func(m clashapi.TournamentMember) bool {
		return !m.InClan() && !excluded[m.Tag] && !own[m.Tag] && m.Trophies >= res.Floor
	})
	if err != nil {
		return nil, err
	}
	res.Stats.Survivors = len(survivors)

	// Secondary sample and full profiles.
	profiles, err := p.profile(ctx, survivors)
	if err != nil {
		return nil, err
	}
	res.Stats.Finalists = len(profiles)

	// War signal.
	finalTags := slices.Sorted(maps.Keys(profiles))
	logs, err := p.api.BattleLogs(ctx, finalTags)
	if err != nil {
		return nil, fmt.Errorf("recruit: war signal: %w", err)
	}

	// Score and merge.
	for _, tag := range finalTags {
		pr := profiles[tag]
		c := types.Candidate{
			Tag:       tag,
			Name:      pr.Name,
			Trophies:  pr.Trophies,
			Donations: pr.TotalDonations,
			WarSignal: WarSignal(pr.WarDayWins, logs[tag], p.cfg.WarBonus),
			FoundDate: now,
		}
		if old, ok := tracked[tag]; ok {
			c.FoundDate = old.FoundDate
			c.WarSignal = max(c.WarSignal, old.WarSignal)
		} else {
			res.Stats.Added++
		}
		c.RawScore = RawScore(c, p.cfg.Weights)
		tracked[tag] = c
	}

	res.Candidates = Cap(slices.Collect(maps.Values(tracked)), p.cfg.Capacity, res.Benchmark)
	res.Stats.Tracked = len(res.Candidates)

	slog.Info("recruit: run complete",
		"tracked", res.Stats.Tracked, "added", res.Stats.Added,
		"floor", res.Floor, "liveness_drops", res.Stats.LivenessDrops)
	return res, nil
}

// liveness removes tracked candidates whose profile is gone or shows a clan.
func (p *Pipeline) liveness(ctx context.Context, tracked map[string]types.Candidate) (int, error) {
	if len(tracked) == 0 {
		return 0, nil
	}
	tags := slices.Sorted(maps.Keys(tracked))
	profiles, err := p.api.Players(ctx, tags)
	if err != nil {
		return 0, fmt.Errorf("recruit: liveness: %w", err)
	}
	var dropped int
	for _, tag := range tags {
		pr, ok := profiles[tag]
		if ok && !pr.InClan() {
			continue
		}
		delete(tracked, tag)
		dropped++
	}
	slog.Info("recruit: liveness checked", "checked", len(tags), "dropped", dropped)
	return dropped, nil
}

// discover searches every keyword, merges hits by tag, keeps the largest
// tournaments and returns a random sample of their tags along with the number
// of distinct tournaments found.
func (p *Pipeline) discover(ctx context.Context) ([]string, int, error) {
	hits, err := p.api.SearchTournaments(ctx, p.cfg.Keywords)
	if err != nil {
		return nil, 0, fmt.Errorf("recruit: discover: %w", err)
	}
	byTag := make(map[string]clashapi.TournamentHeader, len(hits))
	for _, h := range hits {
		if h.Tag == "" {
			continue
		}
		if old, ok := byTag[h.Tag]; !ok || h.Capacity > old.Capacity {
			byTag[h.Tag] = h
		}
	}
	pool := slices.Collect(maps.Values(byTag))
	slices.SortFunc(pool, func(a, b clashapi.TournamentHeader) int {
		if c := cmp.Compare(b.Capacity, a.Capacity); c != 0 {
			return c
		}
		return cmp.Compare(a.Tag, b.Tag)
	})

	tags := make([]string, len(pool))
	for i, h := range pool {
		tags[i] = h.Tag
	}
	sample := p.sample(tags, p.cfg.TournamentPool, p.cfg.TournamentSample)
	slog.Info("recruit: discovery", "keywords", len(p.cfg.Keywords), "tournaments", len(pool), "sampled", len(sample))
	return sample, len(pool), nil
}

// filter fetches the member lists of tournaments and keeps members accepted
// by keep, deduplicated by tag.
func (p *Pipeline) filter(ctx context.Context, tournaments []string, keep func(clashapi.TournamentMember) bool) ([]clashapi.TournamentMember, error) {
	if len(tournaments) == 0 {
		return nil, nil
	}
	details, err := p.api.Tournaments(ctx, tournaments)
	if err != nil {
		return nil, fmt.Errorf("recruit: enrich: %w", err)
	}
	seen := make(map[string]int)
	var out []clashapi.TournamentMember
	for _, tag := range tournaments {
		for _, m := range details[tag].Members {
			if m.Tag == "" || !keep(m) {
				continue
			}
			if i, ok := seen[m.Tag]; ok {
				if m.Trophies > out[i].Trophies {
					out[i] = m
				}
				continue
			}
			seen[m.Tag] = len(out)
			out = append(out, m)
		}
	}
	return out, nil
}

// profile samples survivors by trophies and fetches their full profiles.
// Profiles that turn out to have a clan are dropped.
func (p *Pipeline) profile(ctx context.Context, survivors []clashapi.TournamentMember) (map[string]clashapi.Player, error) {
	if len(survivors) == 0 {
		return map[string]clashapi.Player{}, nil
	}
	slices.SortFunc(survivors, func(a, b clashapi.TournamentMember) int {
		if c := cmp.Compare(b.Trophies, a.Trophies); c != 0 {
			return c
		}
		return cmp.Compare(a.Tag, b.Tag)
	})
	tags := make([]string, len(survivors))
	for i, m := range survivors {
		tags[i] = m.Tag
	}
	tags = p.sample(tags, p.cfg.PlayerPool, p.cfg.PlayerSample)

	profiles, err := p.api.Players(ctx, tags)
	if err != nil {
		return nil, fmt.Errorf("recruit: profile: %w", err)
	}
	for tag, pr := range profiles {
		if pr.InClan() {
			delete(profiles, tag)
		}
	}
	return profiles, nil
}

// sample truncates ordered to pool entries, shuffles them and returns the
// first n.
func (p *Pipeline) sample(ordered []string, pool, n int) []string {
	if pool > 0 && len(ordered) > pool {
		ordered = ordered[:pool]
	}
	out := slices.Clone(ordered)
	p.rng.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// TrophyFloor is the minimum trophy count for a discovered player. The floor
// follows the clan average, relaxed to three quarters while fewer than
// capacity candidates are tracked, and never drops below baseline.
func TrophyFloor(avg float64, tracked, capacity, baseline int) int {
	factor := 1.0
	if tracked < capacity {
		factor = 0.75
	}
	return max(baseline, int(math.Round(avg*factor)))
}

// IsWarBattle reports whether a battle type belongs to clan war play.
func IsWarBattle(battleType string) bool {
	return strings.HasPrefix(battleType, "riverRace") ||
		strings.HasPrefix(battleType, "clanWar") ||
		battleType == "boatBattle"
}

// WarSignal is the war-day win count plus bonus when any recent battle was a
// war battle.
func WarSignal(warDayWins int, battles []clashapi.Battle, bonus int) int {
	for _, b := range battles {
		if IsWarBattle(b.Type) {
			return warDayWins + bonus
		}
	}
	return warDayWins
}

// RawScore is the weighted sum of trophies, lifetime donations and war signal,
// rounded to the nearest integer.
func RawScore(c types.Candidate, w Weights) int {
	return int(math.Round(float64(c.Trophies)*w.Trophies +
		float64(c.Donations)*w.Donations +
		float64(c.WarSignal)*w.War))
}

// Cap orders candidates by raw score (highest first, then tag), keeps at most
// capacity of them and sets each performance score against
// max(benchmark, top raw score, 1).
func Cap(candidates []types.Candidate, capacity int, benchmark float64) []types.Candidate {
	out := slices.Clone(candidates)
	slices.SortFunc(out, func(a, b types.Candidate) int {
		if c := cmp.Compare(b.RawScore, a.RawScore); c != 0 {
			return c
		}
		return cmp.Compare(a.Tag, b.Tag)
	})
	if capacity > 0 && len(out) > capacity {
		out = out[:capacity]
	}
	scale := max(benchmark, 1)
	if len(out) > 0 {
		scale = max(scale, float64(out[0].RawScore))
	}
	for i := range out {
		out[i].PerformanceScore = int(math.Round(float64(out[i].RawScore) / scale * 100))
	}
	return out
}

func countExpired(entries []types.BlacklistEntry, now time.Time) int {
	var n int
	for _, e := range entries {
		if e.Expired(now) {
			n++
		}
	}
	return n
}
