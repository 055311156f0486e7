package compute

import (
	"math"
	"slices"
	"time"

	"github.com/warboard/warboard/agent/internal/history"
)

// maxParticipationWeeks caps the participation denominator at one year.
const maxParticipationWeeks = 52

// Weights are the coefficients of the composite score.
type Weights struct {
	Current       float64
	Average       float64
	Secondary     float64
	Tertiary      float64
	Participation float64
}

// Decay describes the inactivity penalty. Rate is the fraction removed per
// inactive day beyond GraceDays.
type Decay struct {
	GraceDays int
	Rate      float64
}

// Input holds one member's scoring inputs. Values are expected to be
// non-negative; they are not clamped.
type Input struct {
	// Current is the contribution in the in-progress week.
	Current float64

	// Average is the mean contribution over past weeks with a positive value.
	Average float64

	// Secondary is the best weekly donation count.
	Secondary float64

	// Tertiary is the donations received.
	Tertiary float64

	// Participation is the rate from ParticipationRate, 0–100.
	Participation int

	// LastActive is when the member was last seen. The zero value disables
	// decay.
	LastActive time.Time
}

// Score is the outcome of Compute for one member.
type Score struct {
	Raw         int
	Performance int
}

// ParticipationRate returns the percentage of weeks since joining in which
// the member contributed, in [0, 100].
//
// graceDays lists the weekday indices (Sunday = 0) early in the weekly cycle.
// On those days a member with more than one week of tenure who has not yet
// contributed this week is not counted against: the denominator drops by one.
func ParticipationRate(h history.History, tenureDays int, currentWeek string, dayIndex int, graceDays []int) int {
	weeksSinceJoin := int(math.Ceil(float64(tenureDays) / 7))
	weeksSinceJoin = min(max(weeksSinceJoin, 1), maxParticipationWeeks)

	active := h.ActiveWeeks()

	denominator := weeksSinceJoin
	if h[currentWeek] <= 0 && weeksSinceJoin > 1 && slices.Contains(graceDays, dayIndex) {
		denominator--
	}
	denominator = max(denominator, 1)

	rate := int(math.Round(float64(active) / float64(denominator) * 100))
	return min(max(rate, 0), 100)
}

// Compute calculates the composite score for one member.
//
//	raw         = current*W1 + average*W2 + secondary*W3 + tertiary*W4 + participation*W5
//	performance = raw * (1 - rate)^(daysInactive - grace)   when daysInactive > grace
//	            = raw                                       otherwise
//
// Both values are rounded to the nearest integer.
func Compute(in Input, w Weights, d Decay, now time.Time) Score {
	raw := in.Current*w.Current +
		in.Average*w.Average +
		in.Secondary*w.Secondary +
		in.Tertiary*w.Tertiary +
		float64(in.Participation)*w.Participation

	perf := raw
	if days := daysInactive(in.LastActive, now); days > d.GraceDays {
		perf = raw * math.Pow(1-d.Rate, float64(days-d.GraceDays))
	}

	return Score{
		Raw:         int(math.Round(raw)),
		Performance: int(math.Round(perf)),
	}
}

// Normalize rescales a scored batch in place. Each Raw becomes the
// (decayed) Performance, and Performance becomes its share of the batch
// maximum on a 0–100 scale. A batch whose maximum is 0 ends with every
// Performance at 0.
func Normalize(scores []Score) {
	var top int
	for _, s := range scores {
		top = max(top, s.Performance)
	}
	for i := range scores {
		decayed := scores[i].Performance
		scores[i].Raw = decayed
		if top <= 0 {
			scores[i].Performance = 0
			continue
		}
		scores[i].Performance = int(math.Round(float64(decayed) / float64(top) * 100))
	}
}

// daysInactive returns whole days between last and now; 0 when last is unset
// or in the future.
func daysInactive(last, now time.Time) int {
	if last.IsZero() || !now.After(last) {
		return 0
	}
	return int(now.Sub(last).Hours() / 24)
}
