package compute

import (
	"log/slog"
	"slices"
	"time"

	"github.com/warboard/warboard/agent/internal/history"
	"github.com/warboard/warboard/pkg/types"
)

// Config parameterises an Engine.
type Config struct {
	Weights Weights
	Decay   Decay

	// GraceDays are the weekday indices (Sunday = 0) on which a missing
	// current-week contribution is not yet penalised.
	GraceDays []int
}

// Engine scores a clan roster. It holds only configuration, so it is safe for
// concurrent use and ScoreMembers is deterministic for a given now.
type Engine struct {
	cfg Config
}

// NewEngine returns an Engine using cfg.
func NewEngine(cfg Config) *Engine {
	cfg.GraceDays = slices.Clone(cfg.GraceDays)
	return &Engine{cfg: cfg}
}

// ScoreMembers scores every member and returns one row per member in input
// order, normalised across the batch. Rank is left at 0 for the ranking stage.
//
// histories and tenure are keyed by tag; a member missing from either is
// scored with an empty history or zero tenure. now should already be in the
// clan's timezone, since it decides the current week and weekday.
func (e *Engine) ScoreMembers(members []types.MemberSnapshot, histories map[string]history.History, tenure map[string]types.TenureRecord, now time.Time) []types.RankedRow {
	week := history.WeekOf(now)
	day := history.DayIndex(now)

	rows := make([]types.RankedRow, len(members))
	scores := make([]Score, len(members))

	for i, m := range members {
		h := histories[m.Tag]
		if h == nil {
			h = history.History{}
		}
		rec := tenure[m.Tag]
		tenureDays := rec.TenureDays(now)

		in := Input{
			Current:       float64(h[week]),
			Average:       h.AverageExcluding(week),
			Secondary:     float64(bestWeeklyDonations(rec, week, m.Donations)),
			Tertiary:      float64(m.DonationsReceived),
			Participation: ParticipationRate(h, tenureDays, week, day, e.cfg.GraceDays),
			LastActive:    m.LastSeen,
		}
		scores[i] = Compute(in, e.cfg.Weights, e.cfg.Decay, now)

		rows[i] = types.RankedRow{
			Tag:               m.Tag,
			Name:              m.Name,
			Role:              m.Role,
			Trophies:          m.Trophies,
			Donations:         m.Donations,
			DonationsReceived: m.DonationsReceived,
			History:           history.Format(h),
			CurrentFame:       h[week],
			AverageFame:       in.Average,
			TotalFame:         h.Total(),
			Participation:     in.Participation,
			TenureDays:        tenureDays,
			LastSeen:          m.LastSeen,
		}
	}

	Normalize(scores)
	for i := range rows {
		rows[i].RawScore = scores[i].Raw
		rows[i].PerformanceScore = scores[i].Performance
	}

	slog.Debug("compute: scored members", "count", len(rows), "week", week, "day", day)
	return rows
}

// bestWeeklyDonations is the larger of the recorded maximum for week and the
// live donation count.
func bestWeeklyDonations(rec types.TenureRecord, week string, live int) int {
	return max(rec.WeeklyDonationMax[week], live)
}

// UpdateTenure returns the tenure records for the current roster. Existing
// members keep their first-seen date; new members start at now. The weekly
// donation maximum for the current week is max-merged with the live count,
// and only the most recent history.MaxWeeks weeks are kept. Members no longer
// on the roster are dropped. prev is not modified.
func UpdateTenure(prev map[string]types.TenureRecord, members []types.MemberSnapshot, now time.Time) map[string]types.TenureRecord {
	week := history.WeekOf(now)
	out := make(map[string]types.TenureRecord, len(members))

	for _, m := range members {
		old, ok := prev[m.Tag]
		rec := types.TenureRecord{
			Tag:               m.Tag,
			FirstSeen:         now,
			WeeklyDonationMax: make(map[string]int, len(old.WeeklyDonationMax)+1),
		}
		if ok && !old.FirstSeen.IsZero() {
			rec.FirstSeen = old.FirstSeen
		}
		for w, v := range old.WeeklyDonationMax {
			rec.WeeklyDonationMax[w] = v
		}
		rec.WeeklyDonationMax[week] = max(rec.WeeklyDonationMax[week], m.Donations)
		trimWeeks(rec.WeeklyDonationMax, history.MaxWeeks)
		out[m.Tag] = rec
	}

	if departed := len(prev) - countKept(prev, out); departed > 0 {
		slog.Info("compute: dropping tenure of departed members", "count", departed)
	}
	return out
}

// trimWeeks deletes all but the newest n weeks from m.
func trimWeeks(m map[string]int, n int) {
	if len(m) <= n {
		return
	}
	weeks := make([]string, 0, len(m))
	for w := range m {
		weeks = append(weeks, w)
	}
	slices.Sort(weeks)
	for _, w := range weeks[:len(weeks)-n] {
		delete(m, w)
	}
}

func countKept(prev, next map[string]types.TenureRecord) int {
	var n int
	for tag := range prev {
		if _, ok := next[tag]; ok {
			n++
		}
	}
	return n
}
