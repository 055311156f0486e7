package types

import "time"

// MemberSnapshot is one clan member's current stats as returned by the live API.
// It is rebuilt on every run and never mutated in place.
type MemberSnapshot struct {
	Tag               string
	Name              string
	Role              string
	Trophies          int
	Donations         int
	DonationsReceived int
	LastSeen          time.Time
}

// TenureRecord tracks how long a member has been in the clan and the highest
// donation count observed per week.
type TenureRecord struct {
	Tag               string         `json:"tag"`
	FirstSeen         time.Time      `json:"first_seen"`
	WeeklyDonationMax map[string]int `json:"weekly_donation_max"`
}

// TenureDays returns the number of whole days between FirstSeen and now.
func (t TenureRecord) TenureDays(now time.Time) int {
	if t.FirstSeen.IsZero() || now.Before(t.FirstSeen) {
		return 0
	}
	return int(now.Sub(t.FirstSeen).Hours() / 24)
}

// RankedRow is one output row of the ranking path.
type RankedRow struct {
	Rank              int       `json:"rank"`
	Tag               string    `json:"tag"`
	Name              string    `json:"name"`
	Role              string    `json:"role"`
	Trophies          int       `json:"trophies"`
	Donations         int       `json:"donations"`
	DonationsReceived int       `json:"donations_received"`
	History           string    `json:"history"` // "<fame> <week> | ..." newest first
	CurrentFame       int       `json:"current_fame"`
	AverageFame       float64   `json:"average_fame"`
	TotalFame         int       `json:"total_fame"`
	Participation     int       `json:"participation"`
	TenureDays        int       `json:"tenure_days"`
	RawScore          int       `json:"raw_score"`
	PerformanceScore  int       `json:"performance_score"`
	LastSeen          time.Time `json:"last_seen"`
}

// Candidate is a recruit tracked by the recruiting funnel.
type Candidate struct {
	Tag              string    `json:"tag"`
	Name             string    `json:"name"`
	Trophies         int       `json:"trophies"`
	Donations        int       `json:"donations"` // lifetime total
	WarSignal        int       `json:"war_signal"`
	FoundDate        time.Time `json:"found_date"`
	RawScore         int       `json:"raw_score"`
	PerformanceScore int       `json:"performance_score"`
}

// BlacklistEntry keeps a processed candidate out of discovery until Expiry.
type BlacklistEntry struct {
	Tag    string `json:"tag"`
	Expiry int64  `json:"expiry"` // epoch milliseconds
	Score  int    `json:"score"`  // highest known raw score
}

// Expired reports whether the entry no longer excludes its tag at now.
func (e BlacklistEntry) Expired(now time.Time) bool {
	return e.Expiry <= now.UnixMilli()
}
