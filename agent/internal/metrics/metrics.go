package metrics

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"google.golang.org/protobuf/proto"

	"github.com/warboard/warboard/agent/internal/fetch"
)

// Metric family names.
const (
	FetchRequests      = "warboard_fetch_requests_total"
	FetchCacheHits     = "warboard_fetch_cache_hits_total"
	FetchSkipped       = "warboard_fetch_skipped_total"
	FetchKeysBanned    = "warboard_fetch_keys_banned_total"
	RunsTotal          = "warboard_runs_total"
	RunDuration        = "warboard_run_duration_seconds"
	RunLastSuccess     = "warboard_run_last_success_timestamp_seconds"
	RankedMembers      = "warboard_ranked_members"
	RecruitCandidates  = "warboard_recruit_candidates"
	RecruitBenchmark   = "warboard_recruit_benchmark"
	RecruitBlacklisted = "warboard_recruit_blacklisted"
)

var help = map[string]string{
	FetchRequests:      "API requests by outcome status.",
	FetchCacheHits:     "Requests answered from the run cache.",
	FetchSkipped:       "Requests skipped because the run budget was spent.",
	FetchKeysBanned:    "API keys removed from the pool after 403 or 429.",
	RunsTotal:          "Pipeline runs by result.",
	RunDuration:        "Duration of the last run per pipeline.",
	RunLastSuccess:     "Unix time of the last successful run per pipeline.",
	RankedMembers:      "Members in the last saved ranking.",
	RecruitCandidates:  "Tracked recruit candidates after the last run.",
	RecruitBenchmark:   "Benchmark score of the exclusion list.",
	RecruitBlacklisted: "Entries on the exclusion list.",
}

type series struct {
	labels []*dto.LabelPair
	value  float64
}

type family struct {
	typ    dto.MetricType
	series map[string]*series // keyed by rendered label set
}

// Recorder collects metric values. It is safe for concurrent use.
type Recorder struct {
	mu       sync.Mutex
	families map[string]*family
}

// NewRecorder returns an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{families: make(map[string]*family)}
}

// ObserveFetch adds the counters of one fetch run.
func (r *Recorder) ObserveFetch(st fetch.Stats) {
	for status, n := range st.ByStatus {
		r.add(FetchRequests, dto.MetricType_COUNTER, float64(n), "status", status.String())
	}
	r.add(FetchCacheHits, dto.MetricType_COUNTER, float64(st.CacheHits))
	r.add(FetchSkipped, dto.MetricType_COUNTER, float64(st.Skipped))
	r.add(FetchKeysBanned, dto.MetricType_COUNTER, float64(len(st.BannedKeys)))
}

// ObserveRun records the outcome of one pipeline run.
func (r *Recorder) ObserveRun(pipeline string, took time.Duration, err error, now time.Time) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	r.add(RunsTotal, dto.MetricType_COUNTER, 1, "pipeline", pipeline, "result", result)
	r.set(RunDuration, dto.MetricType_GAUGE, took.Seconds(), "pipeline", pipeline)
	if err == nil {
		r.set(RunLastSuccess, dto.MetricType_GAUGE, float64(now.Unix()), "pipeline", pipeline)
	}
}

// SetRanked records the size of the saved ranking.
func (r *Recorder) SetRanked(n int) {
	r.set(RankedMembers, dto.MetricType_GAUGE, float64(n))
}

// SetRecruit records the state left by a recruiting run.
func (r *Recorder) SetRecruit(candidates, blacklisted int, benchmark float64) {
	r.set(RecruitCandidates, dto.MetricType_GAUGE, float64(candidates))
	r.set(RecruitBlacklisted, dto.MetricType_GAUGE, float64(blacklisted))
	r.set(RecruitBenchmark, dto.MetricType_GAUGE, benchmark)
}

// Value returns the current value of one series, for tests and status output.
func (r *Recorder) Value(name string, labels ...string) (float64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.families[name]
	if !ok {
		return 0, false
	}
	s, ok := f.series[labelKey(labels)]
	if !ok {
		return 0, false
	}
	return s.value, true
}

func (r *Recorder) add(name string, typ dto.MetricType, delta float64, labels ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seriesFor(name, typ, labels).value += delta
}

func (r *Recorder) set(name string, typ dto.MetricType, v float64, labels ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seriesFor(name, typ, labels).value = v
}

// seriesFor must be called with r.mu held.
func (r *Recorder) seriesFor(name string, typ dto.MetricType, labels []string) *series {
	f, ok := r.families[name]
	if !ok {
		f = &family{typ: typ, series: make(map[string]*series)}
		r.families[name] = f
	}
	key := labelKey(labels)
	s, ok := f.series[key]
	if !ok {
		s = &series{}
		for i := 0; i+1 < len(labels); i += 2 {
			s.labels = append(s.labels, &dto.LabelPair{
				Name:  proto.String(labels[i]),
				Value: proto.String(labels[i+1]),
			})
		}
		f.series[key] = s
	}
	return s
}

func labelKey(labels []string) string {
	return fmt.Sprint(labels)
}

// Families returns a snapshot of every metric family, sorted by name.
func (r *Recorder) Families() []*dto.MetricFamily {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.families))
	for n := range r.families {
		names = append(names, n)
	}
	sort.Strings(names)

	out := make([]*dto.MetricFamily, 0, len(names))
	for _, n := range names {
		f := r.families[n]
		mf := &dto.MetricFamily{
			Name: proto.String(n),
			Help: proto.String(help[n]),
			Type: f.typ.Enum(),
		}
		keys := make([]string, 0, len(f.series))
		for k := range f.series {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			s := f.series[k]
			m := &dto.Metric{Label: s.labels}
			if f.typ == dto.MetricType_COUNTER {
				m.Counter = &dto.Counter{Value: proto.Float64(s.value)}
			} else {
				m.Gauge = &dto.Gauge{Value: proto.Float64(s.value)}
			}
			mf.Metric = append(mf.Metric, m)
		}
		out = append(out, mf)
	}
	return out
}

// WriteText renders every family in the text exposition format.
func (r *Recorder) WriteText(w io.Writer) error {
	for _, mf := range r.Families() {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("metrics: render %s: %w", mf.GetName(), err)
		}
	}
	return nil
}

// WriteTextfile writes the metrics to path atomically: the content goes to
// a temporary file in the same directory which is then renamed over path.
func (r *Recorder) WriteTextfile(path string) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".warboard-*.prom")
	if err != nil {
		return fmt.Errorf("metrics: create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := r.WriteText(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("metrics: close temp file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("metrics: chmod: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("metrics: rename: %w", err)
	}
	return nil
}

// Handler serves the metrics in the text exposition format.
func (r *Recorder) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", string(expfmt.NewFormat(expfmt.TypeTextPlain)))
		if err := r.WriteText(w); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
}
