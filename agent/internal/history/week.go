package history

import (
	"fmt"
	"regexp"
	"time"
)

var weekPattern = regexp.MustCompile(`^\d{2}W\d{2}$`)

// WeekOf returns the week identifier for t, e.g. "24W03".
func WeekOf(t time.Time) string {
	year, week := t.ISOWeek()
	return fmt.Sprintf("%02dW%02d", year%100, week)
}

// DayIndex returns the weekday index of t with Sunday = 0.
func DayIndex(t time.Time) int {
	return int(t.Weekday())
}

// ValidWeek reports whether s is a well-formed week identifier.
func ValidWeek(s string) bool {
	return weekPattern.MatchString(s)
}
