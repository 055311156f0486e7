package compute

import (
	"fmt"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/warboard/warboard/agent/internal/history"
)

// almostEqual returns true if a and b are within epsilon of each other.
func almostEqual(a, b, epsilon float64) bool {
	return math.Abs(a-b) < epsilon
}

var defaultGrace = []int{1, 2, 3}

// --- ParticipationRate ---

func TestParticipationRate_Scenarios(t *testing.T) {
	h := history.Parse("3000 24W01 | 0 24W02")

	tests := []struct {
		name       string
		tenureDays int
		dayIndex   int
		want       int
	}{
		// 1 active week out of 2, battle day: no grace.
		{"battle day", 14, 4, 50},
		// Training day and nothing yet this week: denominator drops to 1.
		{"training day grace", 14, 2, 100},
		// Sunday is outside the grace window.
		{"sunday", 14, 0, 50},
		// A single week of tenure never gets the grace decrement.
		{"new member on training day", 5, 2, 100},
		// Tenure is capped at 52 weeks.
		{"veteran", 3650, 4, 2},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := ParticipationRate(h, tc.tenureDays, "24W03", tc.dayIndex, defaultGrace)
			if got != tc.want {
				t.Errorf("ParticipationRate() = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestParticipationRate_CurrentWeekPlayedNoGrace(t *testing.T) {
	h := history.History{"24W01": 3000, "24W02": 0, "24W03": 500}
	// 2 active weeks over 3 since joining; grace does not apply because the
	// member already contributed this week.
	if got := ParticipationRate(h, 21, "24W03", 2, defaultGrace); got != 67 {
		t.Errorf("ParticipationRate() = %d, want 67", got)
	}
}

func TestParticipationRate_ConfigurableGraceWindow(t *testing.T) {
	h := history.Parse("3000 24W01 | 0 24W02")
	if got := ParticipationRate(h, 14, "24W03", 2, nil); got != 50 {
		t.Errorf("no grace days: rate = %d, want 50", got)
	}
	if got := ParticipationRate(h, 14, "24W03", 5, []int{5}); got != 100 {
		t.Errorf("custom grace day: rate = %d, want 100", got)
	}
}

func TestParticipationRate_AlwaysInRange(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	for i := 0; i < 2000; i++ {
		h := make(history.History)
		for n := rng.Intn(70); n > 0; n-- {
			h[fmt.Sprintf("%02dW%02d", 20+rng.Intn(5), rng.Intn(53)+1)] = rng.Intn(4) * 1000
		}
		tenure := rng.Intn(800)
		day := rng.Intn(7)
		got := ParticipationRate(h, tenure, "24W10", day, defaultGrace)
		if got < 0 || got > 100 {
			t.Fatalf("rate %d out of range (tenure=%d day=%d weeks=%d)", got, tenure, day, len(h))
		}
	}
}

// --- Compute ---

var testWeights = Weights{Current: 1, Average: 1, Secondary: 2, Tertiary: 0.5, Participation: 10}

func TestCompute(t *testing.T) {
	now := time.Date(2024, 1, 18, 12, 0, 0, 0, time.UTC)
	base := Input{Current: 1000, Average: 2000, Secondary: 100, Tertiary: 50, Participation: 80}
	// raw = 1000 + 2000 + 200 + 25 + 800
	const raw = 4025

	tests := []struct {
		name     string
		inactive time.Duration
		zero     bool
		wantPerf int
	}{
		{"active recently", 2 * 24 * time.Hour, false, raw},
		{"exactly at grace", 3 * 24 * time.Hour, false, raw},
		// 0.95^2 * 4025 = 3632.56
		{"two days past grace", 5 * 24 * time.Hour, false, 3633},
		// 0.95^10 * 4025 = 2409.93
		{"ten days past grace", 13*24*time.Hour + time.Hour, false, 2410},
		{"never seen", 0, true, raw},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			in := base
			if !tc.zero {
				in.LastActive = now.Add(-tc.inactive)
			}
			got := Compute(in, testWeights, Decay{GraceDays: 3, Rate: 0.05}, now)
			if got.Raw != raw {
				t.Errorf("Raw = %d, want %d", got.Raw, raw)
			}
			if got.Performance != tc.wantPerf {
				t.Errorf("Performance = %d, want %d", got.Performance, tc.wantPerf)
			}
		})
	}
}

func TestCompute_Rounding(t *testing.T) {
	now := time.Now()
	got := Compute(Input{Tertiary: 3}, testWeights, Decay{}, now)
	// 3 * 0.5 = 1.5 rounds half away from zero.
	if got.Raw != 2 || got.Performance != 2 {
		t.Errorf("Compute() = %+v, want {2 2}", got)
	}
}

func TestCompute_Idempotent(t *testing.T) {
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	in := Input{Current: 1234, Average: 987.5, Secondary: 44, Tertiary: 17, Participation: 63, LastActive: now.Add(-9 * 24 * time.Hour)}
	d := Decay{GraceDays: 3, Rate: 0.05}
	first := Compute(in, testWeights, d, now)
	for i := 0; i < 10; i++ {
		if got := Compute(in, testWeights, d, now); got != first {
			t.Fatalf("run %d: Compute() = %+v, want %+v", i, got, first)
		}
	}
}

// --- Normalize ---

func TestNormalize(t *testing.T) {
	scores := []Score{
		{Raw: 500, Performance: 400},
		{Raw: 300, Performance: 200},
		{Raw: 90, Performance: 133},
		{Raw: 0, Performance: 0},
	}
	Normalize(scores)
	want := []Score{
		{Raw: 400, Performance: 100},
		{Raw: 200, Performance: 50},
		{Raw: 133, Performance: 33},
		{Raw: 0, Performance: 0},
	}
	for i := range want {
		if scores[i] != want[i] {
			t.Errorf("scores[%d] = %+v, want %+v", i, scores[i], want[i])
		}
	}
}

func TestNormalize_AllZero(t *testing.T) {
	scores := []Score{{Raw: 12, Performance: 0}, {Raw: 0, Performance: 0}}
	Normalize(scores)
	for i, s := range scores {
		if s.Performance != 0 || s.Raw != 0 {
			t.Errorf("scores[%d] = %+v, want zero", i, s)
		}
	}
}

func TestNormalize_Empty(t *testing.T) {
	Normalize(nil) // must not panic
}
