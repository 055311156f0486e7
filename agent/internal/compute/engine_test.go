package compute

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/warboard/warboard/agent/internal/history"
	"github.com/warboard/warboard/pkg/types"
)

// thursday is a battle day in week 24W03.
var thursday = time.Date(2024, 1, 18, 12, 0, 0, 0, time.UTC)

func testEngine() *Engine {
	return NewEngine(Config{
		Weights:   testWeights,
		Decay:     Decay{GraceDays: 3, Rate: 0.05},
		GraceDays: defaultGrace,
	})
}

func testRoster() ([]types.MemberSnapshot, map[string]history.History, map[string]types.TenureRecord) {
	members := []types.MemberSnapshot{
		{Tag: "#A", Name: "alpha", Role: "elder", Trophies: 7000, Donations: 200, DonationsReceived: 50, LastSeen: thursday.Add(-time.Hour)},
		{Tag: "#B", Name: "bravo", Role: "member", Trophies: 6500},
	}
	histories := map[string]history.History{
		"#A": {"24W01": 3000, "24W02": 0, "24W03": 1000},
	}
	tenure := map[string]types.TenureRecord{
		"#A": {Tag: "#A", FirstSeen: thursday.AddDate(0, 0, -14), WeeklyDonationMax: map[string]int{"24W03": 250}},
	}
	return members, histories, tenure
}

func TestEngine_ScoreMembers(t *testing.T) {
	members, histories, tenure := testRoster()
	rows := testEngine().ScoreMembers(members, histories, tenure, thursday)

	if len(rows) != 2 {
		t.Fatalf("len(rows) = %d, want 2", len(rows))
	}

	a := rows[0]
	if a.Tag != "#A" {
		t.Fatalf("rows[0].Tag = %q, want input order", a.Tag)
	}
	if a.CurrentFame != 1000 {
		t.Errorf("CurrentFame = %d, want 1000", a.CurrentFame)
	}
	if !almostEqual(a.AverageFame, 3000, 0.001) {
		t.Errorf("AverageFame = %v, want 3000", a.AverageFame)
	}
	if a.TotalFame != 4000 {
		t.Errorf("TotalFame = %d, want 4000", a.TotalFame)
	}
	if a.TenureDays != 14 {
		t.Errorf("TenureDays = %d, want 14", a.TenureDays)
	}
	if a.Participation != 100 {
		t.Errorf("Participation = %d, want 100", a.Participation)
	}
	// raw = 1000 + 3000 + 250*2 + 50*0.5 + 100*10; no decay.
	if a.RawScore != 5525 {
		t.Errorf("RawScore = %d, want 5525", a.RawScore)
	}
	if a.PerformanceScore != 100 {
		t.Errorf("PerformanceScore = %d, want 100", a.PerformanceScore)
	}
	if want := "1000 24W03 | 0 24W02 | 3000 24W01"; a.History != want {
		t.Errorf("History = %q, want %q", a.History, want)
	}

	b := rows[1]
	if b.Participation != 0 || b.RawScore != 0 || b.PerformanceScore != 0 {
		t.Errorf("member with no history: %+v", b)
	}
	if b.History != "" {
		t.Errorf("History = %q, want empty", b.History)
	}
}

func TestEngine_ScoreMembers_Idempotent(t *testing.T) {
	members, histories, tenure := testRoster()
	e := testEngine()
	first := e.ScoreMembers(members, histories, tenure, thursday)
	second := e.ScoreMembers(members, histories, tenure, thursday)
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("second run differs (-first +second):\n%s", diff)
	}
}

func TestEngine_ScoreMembers_DecayLowersPerformance(t *testing.T) {
	members := []types.MemberSnapshot{
		{Tag: "#ACTIVE", LastSeen: thursday},
		{Tag: "#IDLE", LastSeen: thursday.AddDate(0, 0, -10)},
	}
	histories := map[string]history.History{
		"#ACTIVE": {"24W02": 2000},
		"#IDLE":   {"24W02": 2000},
	}
	rows := testEngine().ScoreMembers(members, histories, nil, thursday)
	if rows[0].PerformanceScore != 100 {
		t.Errorf("active PerformanceScore = %d, want 100", rows[0].PerformanceScore)
	}
	if rows[1].RawScore >= rows[0].RawScore {
		t.Errorf("idle raw %d should be below active raw %d", rows[1].RawScore, rows[0].RawScore)
	}
}

// --- UpdateTenure ---

func TestUpdateTenure(t *testing.T) {
	joined := thursday.AddDate(0, -3, 0)
	prev := map[string]types.TenureRecord{
		"#A":    {Tag: "#A", FirstSeen: joined, WeeklyDonationMax: map[string]int{"24W02": 300, "24W03": 500}},
		"#GONE": {Tag: "#GONE", FirstSeen: joined},
	}
	members := []types.MemberSnapshot{
		{Tag: "#A", Donations: 400},
		{Tag: "#NEW", Donations: 20},
	}

	got := UpdateTenure(prev, members, thursday)

	want := map[string]types.TenureRecord{
		"#A":   {Tag: "#A", FirstSeen: joined, WeeklyDonationMax: map[string]int{"24W02": 300, "24W03": 500}},
		"#NEW": {Tag: "#NEW", FirstSeen: thursday, WeeklyDonationMax: map[string]int{"24W03": 20}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("UpdateTenure mismatch (-want +got):\n%s", diff)
	}
}

func TestUpdateTenure_RaisesWeeklyMaxWithoutMutatingPrev(t *testing.T) {
	prev := map[string]types.TenureRecord{
		"#A": {Tag: "#A", FirstSeen: thursday.AddDate(0, 0, -30), WeeklyDonationMax: map[string]int{"24W03": 100}},
	}
	got := UpdateTenure(prev, []types.MemberSnapshot{{Tag: "#A", Donations: 180}}, thursday)
	if got["#A"].WeeklyDonationMax["24W03"] != 180 {
		t.Errorf("weekly max = %d, want 180", got["#A"].WeeklyDonationMax["24W03"])
	}
	if prev["#A"].WeeklyDonationMax["24W03"] != 100 {
		t.Error("UpdateTenure mutated prev")
	}
}

func TestUpdateTenure_TrimsOldWeeks(t *testing.T) {
	wdm := make(map[string]int)
	for w := 1; w <= 53; w++ {
		wdm[fmt.Sprintf("23W%02d", w)] = w
	}
	prev := map[string]types.TenureRecord{"#A": {Tag: "#A", FirstSeen: thursday.AddDate(-2, 0, 0), WeeklyDonationMax: wdm}}

	got := UpdateTenure(prev, []types.MemberSnapshot{{Tag: "#A", Donations: 1}}, thursday)
	rec := got["#A"]
	if len(rec.WeeklyDonationMax) != history.MaxWeeks {
		t.Fatalf("kept %d weeks, want %d", len(rec.WeeklyDonationMax), history.MaxWeeks)
	}
	if _, ok := rec.WeeklyDonationMax["24W03"]; !ok {
		t.Error("current week was trimmed")
	}
	if _, ok := rec.WeeklyDonationMax["23W02"]; ok {
		t.Error("old week survived trimming")
	}
}
