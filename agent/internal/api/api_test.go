package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/warboard/warboard/agent/internal/api"
	"github.com/warboard/warboard/agent/internal/metrics"
	"github.com/warboard/warboard/agent/internal/store"
	"github.com/warboard/warboard/pkg/types"
)

var now = time.Date(2024, 1, 18, 12, 0, 0, 0, time.UTC)

// --- test helpers -----------------------------------------------------------

func newStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "api.db"), 128)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func seed(t *testing.T, st *store.Store) {
	t.Helper()
	ctx := context.Background()
	rows := []types.RankedRow{
		{Rank: 1, Tag: "#AAA", Name: "alpha", PerformanceScore: 100, History: "3000 24W02"},
		{Rank: 2, Tag: "#BBB", Name: "bravo", PerformanceScore: 64},
		{Rank: 3, Tag: "#CCC", Name: "charlie", PerformanceScore: 10},
	}
	if err := st.SaveRanking(ctx, rows, nil); err != nil {
		t.Fatalf("SaveRanking: %v", err)
	}
	if err := st.SaveRecruit(ctx, store.RecruitOutput{
		Blacklist: []types.BlacklistEntry{
			{Tag: "#X1", Score: 9000, Expiry: now.Add(24 * time.Hour).UnixMilli()},
			{Tag: "#X2", Score: 6000, Expiry: now.Add(-time.Hour).UnixMilli()},
		},
		Candidates: []types.Candidate{{Tag: "#R1", Name: "rookie", RawScore: 7000, PerformanceScore: 93}},
	}); err != nil {
		t.Fatalf("SaveRecruit: %v", err)
	}
}

func newHandler(src api.Source, rec *metrics.Recorder) http.Handler {
	return api.New(src, rec, api.WithClock(func() time.Time { return now }))
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("decode JSON: %v (body: %s)", err, rr.Body.String())
	}
}

// --- /api/v1/health ---------------------------------------------------------

func TestHealth_EmptyStore(t *testing.T) {
	h := newHandler(newStore(t), nil)
	rr := get(t, h, "/api/v1/health")

	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rr.Code)
	}
	var resp api.HealthResponse
	decode(t, rr, &resp)
	if resp.State != "unknown" || !resp.StoreOK || resp.RankedCount != 0 {
		t.Errorf("health = %+v", resp)
	}
}

func TestHealth_AfterRanking(t *testing.T) {
	st := newStore(t)
	seed(t, st)
	rr := get(t, newHandler(st, nil), "/api/v1/health")

	var resp api.HealthResponse
	decode(t, rr, &resp)
	if resp.State != "ok" || resp.RankedCount != 3 || resp.RankUpdatedAt == "" {
		t.Errorf("health = %+v", resp)
	}
}

type downSource struct{ api.Source }

func (downSource) Ping(context.Context) error { return errors.New("disk gone") }

func TestHealth_StoreDown(t *testing.T) {
	rr := get(t, newHandler(downSource{}, nil), "/api/v1/health")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status: got %d, want 503", rr.Code)
	}
	var resp api.HealthResponse
	decode(t, rr, &resp)
	if resp.State != "unavailable" || resp.StoreOK {
		t.Errorf("health = %+v", resp)
	}
}

func TestHealth_MethodNotAllowed(t *testing.T) {
	h := newHandler(newStore(t), nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/health", nil))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("status: got %d, want 405", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type: got %q", ct)
	}
}

// --- /api/v1/rankings -------------------------------------------------------

func TestRankings_Empty(t *testing.T) {
	rr := get(t, newHandler(newStore(t), nil), "/api/v1/rankings")
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"rows":[]`) {
		t.Errorf("empty rankings should encode rows as a list: %s", rr.Body.String())
	}
}

func TestRankings_InRankOrder(t *testing.T) {
	st := newStore(t)
	seed(t, st)
	rr := get(t, newHandler(st, nil), "/api/v1/rankings")

	var resp api.RankingsResponse
	decode(t, rr, &resp)
	var tags []string
	for _, r := range resp.Rows {
		tags = append(tags, r.Tag)
	}
	if diff := cmp.Diff([]string{"#AAA", "#BBB", "#CCC"}, tags); diff != "" {
		t.Errorf("rank order (-want +got):\n%s", diff)
	}
	if resp.Count != 3 || resp.UpdatedAt == "" {
		t.Errorf("count = %d, updated_at = %q", resp.Count, resp.UpdatedAt)
	}
}

func TestRankings_Limit(t *testing.T) {
	st := newStore(t)
	seed(t, st)
	h := newHandler(st, nil)

	cases := []struct {
		query string
		code  int
		count int
	}{
		{"?limit=2", http.StatusOK, 2},
		{"?limit=10", http.StatusOK, 3},
		{"?limit=0", http.StatusOK, 0},
		{"?limit=-1", http.StatusBadRequest, 0},
		{"?limit=abc", http.StatusBadRequest, 0},
	}
	for _, tc := range cases {
		t.Run(tc.query, func(t *testing.T) {
			rr := get(t, h, "/api/v1/rankings"+tc.query)
			if rr.Code != tc.code {
				t.Fatalf("status: got %d, want %d", rr.Code, tc.code)
			}
			if tc.code != http.StatusOK {
				return
			}
			var resp api.RankingsResponse
			decode(t, rr, &resp)
			if len(resp.Rows) != tc.count {
				t.Errorf("rows = %d, want %d", len(resp.Rows), tc.count)
			}
		})
	}
}

func TestMember(t *testing.T) {
	st := newStore(t)
	seed(t, st)
	h := newHandler(st, nil)

	for _, path := range []string{"/api/v1/rankings/bbb", "/api/v1/rankings/%23BBB"} {
		rr := get(t, h, path)
		if rr.Code != http.StatusOK {
			t.Fatalf("%s: status %d (body: %s)", path, rr.Code, rr.Body.String())
		}
		var row types.RankedRow
		decode(t, rr, &row)
		if row.Tag != "#BBB" || row.Rank != 2 {
			t.Errorf("%s: row = %+v", path, row)
		}
	}

	if rr := get(t, h, "/api/v1/rankings/ZZZ"); rr.Code != http.StatusNotFound {
		t.Errorf("unknown member: status %d, want 404", rr.Code)
	}
}

// --- /api/v1/recruits and /api/v1/blacklist ----------------------------------

func TestRecruits(t *testing.T) {
	st := newStore(t)
	seed(t, st)
	rr := get(t, newHandler(st, nil), "/api/v1/recruits")

	var resp api.RecruitsResponse
	decode(t, rr, &resp)
	if resp.Count != 1 || resp.Candidates[0].Tag != "#R1" {
		t.Errorf("candidates = %+v", resp.Candidates)
	}
	// Mean of the two stored scores; the endpoint does not refresh expiry.
	if resp.Benchmark != 7500 {
		t.Errorf("benchmark = %v, want 7500", resp.Benchmark)
	}
}

func TestBlacklist_FlagsExpired(t *testing.T) {
	st := newStore(t)
	seed(t, st)
	rr := get(t, newHandler(st, nil), "/api/v1/blacklist")

	var got []api.BlacklistEntryResponse
	decode(t, rr, &got)
	want := []api.BlacklistEntryResponse{
		{Tag: "#X1", Score: 9000, Expiry: "2024-01-19T12:00:00Z", Expired: false},
		{Tag: "#X2", Score: 6000, Expiry: "2024-01-18T11:00:00Z", Expired: true},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("blacklist (-want +got):\n%s", diff)
	}
}

func TestCorruptState_Is500(t *testing.T) {
	st := newStore(t)
	if err := st.SetChunked(context.Background(), store.KeyCandidates, map[string]int{"x": 1}); err != nil {
		t.Fatal(err)
	}
	rr := get(t, newHandler(st, nil), "/api/v1/recruits")
	if rr.Code != http.StatusInternalServerError {
		t.Errorf("status: got %d, want 500", rr.Code)
	}
}

// --- /metrics ---------------------------------------------------------------

func TestMetrics(t *testing.T) {
	rec := metrics.NewRecorder()
	rec.SetRanked(3)
	rr := get(t, newHandler(newStore(t), rec), "/metrics")
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), metrics.RankedMembers+" 3") {
		t.Errorf("metrics body missing ranked gauge:\n%s", rr.Body.String())
	}
}

func TestMetrics_DisabledWithoutRecorder(t *testing.T) {
	if rr := get(t, newHandler(newStore(t), nil), "/metrics"); rr.Code != http.StatusNotFound {
		t.Errorf("status: got %d, want 404", rr.Code)
	}
}

func TestStream_MountedWhenSet(t *testing.T) {
	stream := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	h := api.New(newStore(t), nil, api.WithStream(stream))
	if rr := get(t, h, "/api/v1/stream"); rr.Code != http.StatusTeapot {
		t.Errorf("status: got %d, want stream handler", rr.Code)
	}
	if rr := get(t, newHandler(newStore(t), nil), "/api/v1/stream"); rr.Code != http.StatusNotFound {
		t.Errorf("status without stream: got %d, want 404", rr.Code)
	}
}
