package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/warboard/warboard/agent/internal/clashapi"
	"github.com/warboard/warboard/agent/internal/config"
	"github.com/warboard/warboard/agent/internal/fetch"
	"github.com/warboard/warboard/agent/internal/metrics"
	"github.com/warboard/warboard/agent/internal/store"
	"github.com/warboard/warboard/pkg/types"
)

// LockName is the run lock shared by both pipelines.
const LockName = "pipeline"

// ErrZeroResultSafetyLock aborts a ranking run that produced no rows while
// rows from an earlier run exist. It usually means the API returned an empty
// roster; saving would wipe good data.
var ErrZeroResultSafetyLock = errors.New("runner: zero-result safety lock")

// Store is the persistence the runner needs. *store.Store implements it.
type Store interface {
	AcquireLock(ctx context.Context, name, owner string, ttl time.Duration) error
	ReleaseLock(ctx context.Context, name, owner string) error
	LoadTenure(ctx context.Context) (map[string]types.TenureRecord, error)
	LoadHistories(ctx context.Context) (map[string]string, error)
	CountRankRows(ctx context.Context) (int, error)
	SaveRanking(ctx context.Context, rows []types.RankedRow, tenure map[string]types.TenureRecord) error
	GetChunked(ctx context.Context, key string, v any) (bool, error)
	SaveRecruit(ctx context.Context, out store.RecruitOutput) error
	QueueProcessed(ctx context.Context, tags []string) (int, error)
}

// Runner runs pipelines against one store. Config can be swapped at any time;
// a new config applies from the next run.
type Runner struct {
	cfg     atomic.Pointer[config.Config]
	store   Store
	metrics *metrics.Recorder

	now  func() time.Time
	seed func() int64
}

// Option customises a Runner.
type Option func(*Runner)

// WithClock sets the time source.
func WithClock(now func() time.Time) Option { return func(r *Runner) { r.now = now } }

// WithSeed sets the seed source for the recruit sampler.
func WithSeed(seed func() int64) Option { return func(r *Runner) { r.seed = seed } }

// New returns a Runner. rec may be nil.
func New(cfg *config.Config, st Store, rec *metrics.Recorder, opts ...Option) *Runner {
	r := &Runner{
		store:   st,
		metrics: rec,
		now:     time.Now,
		seed:    func() int64 { return time.Now().UnixNano() },
	}
	if r.metrics == nil {
		r.metrics = metrics.NewRecorder()
	}
	r.cfg.Store(cfg)
	for _, o := range opts {
		o(r)
	}
	return r
}

// Config returns the active configuration.
func (r *Runner) Config() *config.Config { return r.cfg.Load() }

// SetConfig replaces the configuration used by subsequent runs.
func (r *Runner) SetConfig(cfg *config.Config) { r.cfg.Store(cfg) }

// Metrics returns the recorder runs report to.
func (r *Runner) Metrics() *metrics.Recorder { return r.metrics }

// execution is the per-run scope: identity, clock and fetch state.
type execution struct {
	id     string
	cfg    *config.Config
	now    time.Time
	run    *fetch.Run
	api    *clashapi.Client
	logger *slog.Logger
}

// begin takes the run lock and prepares an execution. The returned release
// func must be called on every path once begin succeeds.
func (r *Runner) begin(ctx context.Context, pipeline string) (*execution, func(), error) {
	cfg := r.Config()
	id := newRunID()
	logger := slog.With("pipeline", pipeline, "run_id", id)

	if err := r.store.AcquireLock(ctx, LockName, id, cfg.Storage.LockTTL); err != nil {
		return nil, nil, fmt.Errorf("runner: %s: %w", pipeline, err)
	}
	release := func() {
		if err := r.store.ReleaseLock(context.WithoutCancel(ctx), LockName, id); err != nil {
			logger.Error("runner: release lock", "err", err)
		}
	}

	loc, err := time.LoadLocation(cfg.Schedule.Timezone)
	if err != nil {
		release()
		return nil, nil, fmt.Errorf("runner: timezone: %w", err)
	}

	keys := make([]fetch.Key, 0, len(cfg.API.Keys))
	for _, k := range cfg.API.Keys {
		keys = append(keys, fetch.Key{Name: k.Name, Value: k.Value()})
	}
	run := fetch.NewRun(keys, cfg.Fetch.MaxFetches)
	if run.Keys.Len() == 0 {
		release()
		return nil, nil, fmt.Errorf("runner: %s: %w", pipeline, fetch.ErrKeyPoolExhausted)
	}
	eng := fetch.New(run,
		fetch.WithHTTPClient(fetch.NewHTTPClient(cfg.API.Timeout, cfg.Fetch.BatchSize)),
		fetch.WithBatchSize(cfg.Fetch.BatchSize),
		fetch.WithMaxAttempts(cfg.Fetch.MaxAttempts),
		fetch.WithBaseDelay(cfg.Fetch.BaseDelay),
		fetch.WithBatchPause(cfg.Fetch.BatchPause),
	)

	logger.Info("runner: run started", "keys", run.Keys.Len())
	return &execution{
		id:     id,
		cfg:    cfg,
		now:    r.now().In(loc),
		run:    run,
		api:    clashapi.New(cfg.API.BaseURL, eng),
		logger: logger,
	}, release, nil
}

// finish records metrics for a completed or failed run.
func (r *Runner) finish(pipeline string, ex *execution, started time.Time, err error) {
	took := r.now().Sub(started)
	r.metrics.ObserveFetch(ex.run.Stats())
	r.metrics.ObserveRun(pipeline, took, err, r.now())

	st := ex.run.Stats()
	attrs := []any{"took", took, "requests", st.Requests, "cache_hits", st.CacheHits,
		"skipped", st.Skipped, "banned_keys", len(st.BannedKeys)}
	if err != nil {
		ex.logger.Error("runner: run failed", append(attrs, "err", err)...)
	} else {
		ex.logger.Info("runner: run finished", attrs...)
	}

	if path := ex.cfg.Metrics.TextfilePath; path != "" {
		if werr := r.metrics.WriteTextfile(path); werr != nil {
			ex.logger.Warn("runner: write metrics textfile", "path", path, "err", werr)
		}
	}
}

// loadChunked reads the chunked value stored under key. A missing value, or
// a corrupt one (which is logged), yields the zero T.
func loadChunked[T any](ctx context.Context, st Store, logger *slog.Logger, key string) (T, error) {
	var v T
	_, err := st.GetChunked(ctx, key, &v)
	if errors.Is(err, store.ErrCorrupt) {
		logger.Warn("runner: persisted state corrupt, using default", "key", key, "err", err)
		var zero T
		return zero, nil
	}
	return v, err
}

func newRunID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

func (r *Runner) rng() *rand.Rand {
	return rand.New(rand.NewSource(r.seed())) //nolint:gosec // sampling only
}
