package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/warboard/warboard/agent/internal/clashapi"
	"github.com/warboard/warboard/agent/internal/metrics"
	"github.com/warboard/warboard/agent/internal/recruit"
	"github.com/warboard/warboard/agent/internal/store"
	"github.com/warboard/warboard/pkg/types"
)

// Source is the read side of the store. *store.Store implements it.
type Source interface {
	Ping(ctx context.Context) error
	Get(ctx context.Context, key string) (string, bool, error)
	LoadRankRows(ctx context.Context) ([]types.RankedRow, error)
	GetChunked(ctx context.Context, key string, v any) (bool, error)
}

// Handler is the HTTP handler for every endpoint.
type Handler struct {
	src     Source
	metrics *metrics.Recorder
	now     func() time.Time
	stream  http.Handler
	router  chi.Router
}

// Option customises a Handler.
type Option func(*Handler)

// WithClock sets the time source used to flag expired entries.
func WithClock(now func() time.Time) Option { return func(h *Handler) { h.now = now } }

// WithStream mounts a live event stream at /api/v1/stream.
func WithStream(stream http.Handler) Option { return func(h *Handler) { h.stream = stream } }

// New creates a Handler reading from src. rec may be nil, in which case
// /metrics is not served.
func New(src Source, rec *metrics.Recorder, opts ...Option) http.Handler {
	h := &Handler{src: src, metrics: rec, now: time.Now}
	for _, o := range opts {
		o(h)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		jsonErr(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", h.health)
		r.Get("/rankings", h.rankings)
		r.Get("/rankings/{tag}", h.member)
		r.Get("/recruits", h.recruits)
		r.Get("/blacklist", h.blacklist)
		if h.stream != nil {
			r.Method(http.MethodGet, "/stream", h.stream)
		}
	})
	if rec != nil {
		r.Method(http.MethodGet, "/metrics", rec.Handler())
	}

	h.router = r
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

// health returns GET /api/v1/health.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := h.src.Ping(ctx); err != nil {
		jsonResp(w, http.StatusServiceUnavailable, HealthResponse{State: "unavailable", Error: err.Error()})
		return
	}

	resp := HealthResponse{State: "unknown", StoreOK: true}
	if at, ok, err := h.src.Get(ctx, store.KeyRankUpdated); err == nil && ok {
		resp.RankUpdatedAt = at
		resp.State = "ok"
	}
	if rows, err := h.src.LoadRankRows(ctx); err == nil {
		resp.RankedCount = len(rows)
	} else {
		resp.Error = err.Error()
	}
	jsonResp(w, http.StatusOK, resp)
}

// rankings returns GET /api/v1/rankings.
func (h *Handler) rankings(w http.ResponseWriter, r *http.Request) {
	rows, err := h.src.LoadRankRows(r.Context())
	if err != nil {
		internalErr(w, "load rankings", err)
		return
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			jsonErr(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		rows = rows[:min(n, len(rows))]
	}
	updated, _, _ := h.src.Get(r.Context(), store.KeyRankUpdated)
	jsonResp(w, http.StatusOK, RankingsResponse{
		UpdatedAt: updated,
		Count:     len(rows),
		Rows:      nonNil(rows),
	})
}

// member returns GET /api/v1/rankings/{tag}. The tag may be given with or
// without its leading "#".
func (h *Handler) member(w http.ResponseWriter, r *http.Request) {
	tag := clashapi.NormalizeTag(chi.URLParam(r, "tag"))
	rows, err := h.src.LoadRankRows(r.Context())
	if err != nil {
		internalErr(w, "load rankings", err)
		return
	}
	for _, row := range rows {
		if row.Tag == tag {
			jsonResp(w, http.StatusOK, row)
			return
		}
	}
	jsonErr(w, http.StatusNotFound, "member not ranked")
}

// recruits returns GET /api/v1/recruits.
func (h *Handler) recruits(w http.ResponseWriter, r *http.Request) {
	var candidates []types.Candidate
	if _, err := h.src.GetChunked(r.Context(), store.KeyCandidates, &candidates); err != nil {
		internalErr(w, "load candidates", err)
		return
	}
	var entries []types.BlacklistEntry
	if _, err := h.src.GetChunked(r.Context(), store.KeyBlacklist, &entries); err != nil {
		internalErr(w, "load blacklist", err)
		return
	}
	jsonResp(w, http.StatusOK, RecruitsResponse{
		Benchmark:  recruit.Benchmark(entries),
		Count:      len(candidates),
		Candidates: nonNil(candidates),
	})
}

// blacklist returns GET /api/v1/blacklist.
func (h *Handler) blacklist(w http.ResponseWriter, r *http.Request) {
	var entries []types.BlacklistEntry
	if _, err := h.src.GetChunked(r.Context(), store.KeyBlacklist, &entries); err != nil {
		internalErr(w, "load blacklist", err)
		return
	}
	now := h.now()
	out := make([]BlacklistEntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, BlacklistEntryResponse{
			Tag:     e.Tag,
			Score:   e.Score,
			Expiry:  time.UnixMilli(e.Expiry).UTC().Format(time.RFC3339),
			Expired: e.Expired(now),
		})
	}
	jsonResp(w, http.StatusOK, out)
}

// --- helpers ----------------------------------------------------------------

func jsonResp(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}

// internalErr reports a store failure. Corrupt state is a 500 like any other
// read error, but logged distinctly.
func internalErr(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, store.ErrCorrupt) {
		slog.Warn("api: stored state corrupt", "op", op, "err", err)
	} else {
		slog.Error("api: store read failed", "op", op, "err", err)
	}
	jsonErr(w, http.StatusInternalServerError, op+" failed")
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
