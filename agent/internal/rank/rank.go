package rank

import (
	"cmp"
	"slices"

	"github.com/warboard/warboard/pkg/types"
)

// Compare orders a before b when it returns a negative value. Criteria are
// checked in order until one differs:
//
//  1. performance score, higher first
//  2. raw score, higher first
//  3. participation rate, higher first
//  4. lifetime contribution, higher first
//  5. tenure, lower first (newer members win a full tie)
//  6. trophies, higher first
//  7. tag, ascending
//
// The final tag comparison makes Compare a total order over distinct tags.
func Compare(a, b types.RankedRow) int {
	if c := cmp.Compare(b.PerformanceScore, a.PerformanceScore); c != 0 {
		return c
	}
	if c := cmp.Compare(b.RawScore, a.RawScore); c != 0 {
		return c
	}
	if c := cmp.Compare(b.Participation, a.Participation); c != 0 {
		return c
	}
	if c := cmp.Compare(b.TotalFame, a.TotalFame); c != 0 {
		return c
	}
	if c := cmp.Compare(a.TenureDays, b.TenureDays); c != 0 {
		return c
	}
	if c := cmp.Compare(b.Trophies, a.Trophies); c != 0 {
		return c
	}
	return cmp.Compare(a.Tag, b.Tag)
}

// Rank sorts rows in place by Compare and sets Rank to the 1-based position.
func Rank(rows []types.RankedRow) {
	slices.SortStableFunc(rows, Compare)
	for i := range rows {
		rows[i].Rank = i + 1
	}
}
