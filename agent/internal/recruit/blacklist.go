package recruit

import (
	"cmp"
	"slices"
	"time"

	"github.com/warboard/warboard/pkg/types"
)

// benchmarkDepth is how many top excluded scores the benchmark averages.
const benchmarkDepth = 3

// Refresh returns the exclusion list for a new run and its benchmark.
//
// Entries expired at now are dropped. Every tag in processed is excluded
// until now+window, scored with the tracked candidate's raw score or the
// existing entry's score, whichever is higher. The result is sorted by score,
// highest first. Neither entries nor tracked are modified.
func Refresh(entries []types.BlacklistEntry, processed []string, tracked map[string]types.Candidate, now time.Time, window time.Duration) ([]types.BlacklistEntry, float64) {
	byTag := make(map[string]types.BlacklistEntry, len(entries)+len(processed))
	for _, e := range entries {
		if e.Expired(now) {
			continue
		}
		if old, ok := byTag[e.Tag]; ok && old.Score > e.Score {
			e.Score = old.Score
		}
		byTag[e.Tag] = e
	}

	expiry := now.Add(window).UnixMilli()
	for _, tag := range processed {
		e := byTag[tag]
		e.Tag = tag
		e.Expiry = expiry
		if c, ok := tracked[tag]; ok {
			e.Score = max(e.Score, c.RawScore)
		}
		byTag[tag] = e
	}

	out := make([]types.BlacklistEntry, 0, len(byTag))
	for _, e := range byTag {
		out = append(out, e)
	}
	slices.SortFunc(out, func(a, b types.BlacklistEntry) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.Tag, b.Tag)
	})
	return out, Benchmark(out)
}

// Benchmark is the mean of the top three scores in entries, or 0 when there
// are none. entries must be sorted by score, highest first.
func Benchmark(entries []types.BlacklistEntry) float64 {
	n := min(len(entries), benchmarkDepth)
	if n == 0 {
		return 0
	}
	var sum int
	for _, e := range entries[:n] {
		sum += e.Score
	}
	return float64(sum) / float64(n)
}

// excludedTags returns the set of tags in entries.
func excludedTags(entries []types.BlacklistEntry) map[string]bool {
	out := make(map[string]bool, len(entries))
	for _, e := range entries {
		out[e.Tag] = true
	}
	return out
}
