package history

import (
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
)

// MaxWeeks bounds how many weeks are kept in the persisted form.
const MaxWeeks = 52

// History maps a week identifier to a non-negative contribution value.
type History map[string]int

// Set records v for week using max-merge semantics. Negative values and
// malformed weeks are ignored.
func (h History) Set(week string, v int) {
	if v < 0 || !ValidWeek(week) {
		return
	}
	if cur, ok := h[week]; !ok || v > cur {
		h[week] = v
	}
}

// Merge folds src into h (max per week) and returns h.
func (h History) Merge(src History) History {
	for w, v := range src {
		h.Set(w, v)
	}
	return h
}

// Clone returns an independent copy of h.
func (h History) Clone() History {
	out := make(History, len(h))
	for w, v := range h {
		out[w] = v
	}
	return out
}

// Weeks returns the week identifiers newest first.
func (h History) Weeks() []string {
	weeks := make([]string, 0, len(h))
	for w := range h {
		weeks = append(weeks, w)
	}
	slices.Sort(weeks)
	slices.Reverse(weeks)
	return weeks
}

// ActiveWeeks counts weeks with a positive value.
func (h History) ActiveWeeks() int {
	var n int
	for _, v := range h {
		if v > 0 {
			n++
		}
	}
	return n
}

// Total sums every recorded value.
func (h History) Total() int {
	var n int
	for _, v := range h {
		n += v
	}
	return n
}

// AverageExcluding returns the mean of positive values, leaving out week.
// Returns 0 when no other week has a positive value.
func (h History) AverageExcluding(week string) float64 {
	var sum, n int
	for w, v := range h {
		if w == week || v <= 0 {
			continue
		}
		sum += v
		n++
	}
	if n == 0 {
		return 0
	}
	return float64(sum) / float64(n)
}

// Parse decodes the persisted "<value> <week> | ..." form. Empty and
// placeholder strings yield an empty History; malformed segments are skipped.
func Parse(s string) History {
	h := make(History)
	s = strings.TrimSpace(s)
	if isPlaceholder(s) {
		return h
	}
	for _, seg := range strings.Split(s, "|") {
		fields := strings.Fields(seg)
		if len(fields) != 2 {
			if strings.TrimSpace(seg) != "" {
				slog.Debug("history: skipping malformed segment", "segment", seg)
			}
			continue
		}
		v, err := strconv.Atoi(fields[0])
		if err != nil {
			f, ferr := strconv.ParseFloat(fields[0], 64)
			if ferr != nil {
				continue
			}
			v = int(f)
		}
		h.Set(fields[1], v)
	}
	return h
}

// Format encodes h newest week first, keeping at most MaxWeeks weeks.
func Format(h History) string {
	weeks := h.Weeks()
	if len(weeks) > MaxWeeks {
		weeks = weeks[:MaxWeeks]
	}
	parts := make([]string, len(weeks))
	for i, w := range weeks {
		parts[i] = fmt.Sprintf("%d %s", h[w], w)
	}
	return strings.Join(parts, " | ")
}

func isPlaceholder(s string) bool {
	switch strings.ToLower(s) {
	case "", "-", "n/a", "na", "none":
		return true
	}
	return false
}
