package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Defaults used when the corresponding option is not given.
const (
	DefaultBatchSize   = 10
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = 2 * time.Second
	DefaultBatchPause  = 250 * time.Millisecond
	DefaultTimeout     = 10 * time.Second

	maxBodyBytes = 10 << 20
)

var (
	// ErrKeyPoolExhausted means every key has been banned; no further
	// authorized call is possible for the rest of the run.
	ErrKeyPoolExhausted = errors.New("fetch: key pool exhausted")

	// ErrRetriesExhausted means a batch still had failing requests after the
	// last allowed attempt.
	ErrRetriesExhausted = errors.New("fetch: retries exhausted")
)

// Status classifies the outcome of one request.
type Status int

const (
	StatusOK Status = iota
	StatusNotFound
	StatusAuthFailed
	StatusRateLimited
	StatusServerError
	StatusNetworkError
	StatusSkipped // request budget spent, network not called
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusNotFound:
		return "not_found"
	case StatusAuthFailed:
		return "auth_failed"
	case StatusRateLimited:
		return "rate_limited"
	case StatusServerError:
		return "server_error"
	case StatusNetworkError:
		return "network_error"
	case StatusSkipped:
		return "skipped"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Result is the outcome for one requested URL. Payload is nil unless Status
// is StatusOK. Results are never mutated after FetchBatch returns them.
type Result struct {
	URL     string
	Status  Status
	Payload json.RawMessage
}

// Found reports whether the result carries a payload.
func (r Result) Found() bool { return r.Status == StatusOK && r.Payload != nil }

// Engine issues batched, retried, key-rotated GET requests.
// An Engine is safe for concurrent use, but the key pool and cache it works
// against belong to its Run.
type Engine struct {
	run         *Run
	client      *http.Client
	batchSize   int
	maxAttempts int
	baseDelay   time.Duration
	batchPause  time.Duration

	rngMu sync.Mutex
	rng   *rand.Rand

	sleep func(ctx context.Context, d time.Duration) error
}

// Option customises an Engine.
type Option func(*Engine)

// WithHTTPClient sets the client used for every request.
func WithHTTPClient(c *http.Client) Option { return func(e *Engine) { e.client = c } }

// WithBatchSize sets how many URLs are dispatched together.
func WithBatchSize(n int) Option { return func(e *Engine) { e.batchSize = n } }

// WithMaxAttempts sets how many times a batch is tried before giving up.
func WithMaxAttempts(n int) Option { return func(e *Engine) { e.maxAttempts = n } }

// WithBaseDelay sets the linear backoff unit between attempts.
func WithBaseDelay(d time.Duration) Option { return func(e *Engine) { e.baseDelay = d } }

// WithBatchPause sets the fixed pause between consecutive batches.
func WithBatchPause(d time.Duration) Option { return func(e *Engine) { e.batchPause = d } }

// WithRand sets the source used for key selection (seeded in tests).
func WithRand(r *rand.Rand) Option { return func(e *Engine) { e.rng = r } }

// New returns an Engine bound to run.
func New(run *Run, opts ...Option) *Engine {
	e := &Engine{
		run:         run,
		batchSize:   DefaultBatchSize,
		maxAttempts: DefaultMaxAttempts,
		baseDelay:   DefaultBaseDelay,
		batchPause:  DefaultBatchPause,
		sleep:       sleepCtx,
	}
	for _, o := range opts {
		o(e)
	}
	if e.client == nil {
		e.client = NewHTTPClient(DefaultTimeout, e.batchSize)
	}
	if e.rng == nil {
		e.rng = rand.New(rand.NewSource(time.Now().UnixNano())) //nolint:gosec // not crypto
	}
	if e.batchSize <= 0 {
		e.batchSize = DefaultBatchSize
	}
	if e.maxAttempts <= 0 {
		e.maxAttempts = 1
	}
	return e
}

// NewHTTPClient returns a client sized for one batch of concurrent requests.
// timeout bounds a whole request; a stalled call surfaces as a network error.
func NewHTTPClient(timeout time.Duration, batchSize int) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConnsPerHost = batchSize
	return &http.Client{Transport: transport, Timeout: timeout}
}

// Run returns the run scope this engine works against.
func (e *Engine) Run() *Run { return e.run }

// Fetch is FetchBatch for a single URL.
func (e *Engine) Fetch(ctx context.Context, url string) (Result, error) {
	res, err := e.FetchBatch(ctx, []string{url})
	if err != nil {
		return Result{URL: url}, err
	}
	return res[0], nil
}

// FetchBatch fetches every URL and returns results aligned with urls.
// Repeated URLs are requested once and share the same result.
//
// Only ErrKeyPoolExhausted, ErrRetriesExhausted and context errors are
// returned; every other failure is absorbed into a Result status.
func (e *Engine) FetchBatch(ctx context.Context, urls []string) ([]Result, error) {
	resolved := make(map[string]Result, len(urls))
	var pending []string
	seen := make(map[string]bool, len(urls))

	for _, u := range urls {
		if seen[u] {
			continue
		}
		seen[u] = true
		if payload, ok := e.run.Cache.Get(u); ok {
			e.run.recordCacheHit()
			resolved[u] = cachedResult(u, payload)
			continue
		}
		pending = append(pending, u)
	}

	for start := 0; start < len(pending); start += e.batchSize {
		if start > 0 && e.batchPause > 0 {
			if err := e.sleep(ctx, e.batchPause); err != nil {
				return nil, err
			}
		}
		end := min(start+e.batchSize, len(pending))
		if err := e.runBatch(ctx, pending[start:end], resolved); err != nil {
			return nil, err
		}
	}

	out := make([]Result, len(urls))
	for i, u := range urls {
		out[i] = resolved[u]
	}
	return out, nil
}

func cachedResult(url string, payload json.RawMessage) Result {
	if payload == nil {
		return Result{URL: url, Status: StatusNotFound}
	}
	return Result{URL: url, Status: StatusOK, Payload: payload}
}

// dispatch pairs a URL with the key chosen for this attempt.
type dispatch struct {
	url string
	key Key
}

// runBatch resolves every URL in batch into resolved, retrying the ones that
// fail with a retryable status.
func (e *Engine) runBatch(ctx context.Context, batch []string, resolved map[string]Result) error {
	todo := batch
	for attempt := 1; ; attempt++ {
		keys := e.run.Keys.Active()
		if len(keys) == 0 {
			return ErrKeyPoolExhausted
		}

		var sends []dispatch
		for _, u := range todo {
			if !e.run.reserve() {
				slog.Warn("fetch: request budget spent, skipping", "url", u)
				resolved[u] = Result{URL: u, Status: StatusSkipped}
				continue
			}
			sends = append(sends, dispatch{url: u, key: e.pickKey(keys)})
		}
		if len(sends) == 0 {
			return nil
		}

		outcomes := make([]Result, len(sends))
		var g errgroup.Group
		g.SetLimit(e.batchSize)
		for i, d := range sends {
			g.Go(func() error {
				outcomes[i] = e.do(ctx, d)
				return nil
			})
		}
		_ = g.Wait()

		var retry []string
		for i, res := range outcomes {
			e.run.recordStatus(res.Status)
			d := sends[i]
			switch res.Status {
			case StatusOK:
				e.run.Cache.Put(d.url, res.Payload)
				resolved[d.url] = res
			case StatusNotFound:
				e.run.Cache.Put(d.url, nil)
				resolved[d.url] = res
			case StatusAuthFailed, StatusRateLimited:
				if e.run.Keys.Ban(d.key.Name) {
					slog.Warn("fetch: key removed from pool",
						"key", d.key.Name, "status", res.Status.String(),
						"remaining", e.run.Keys.Len())
				}
				retry = append(retry, d.url)
			default:
				retry = append(retry, d.url)
			}
		}

		if len(retry) == 0 {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if e.run.Keys.Len() == 0 {
			return ErrKeyPoolExhausted
		}
		if attempt >= e.maxAttempts {
			return fmt.Errorf("%w: %d urls still failing after %d attempts (first %s)",
				ErrRetriesExhausted, len(retry), attempt, retry[0])
		}

		wait := time.Duration(attempt) * e.baseDelay
		slog.Warn("fetch: retrying batch",
			"attempt", attempt+1, "max_attempts", e.maxAttempts,
			"failed", len(retry), "retry_in", wait)
		if err := e.sleep(ctx, wait); err != nil {
			return err
		}
		todo = retry
	}
}

// pickKey draws one key at random from a snapshot of the active pool.
func (e *Engine) pickKey(keys []Key) Key {
	e.rngMu.Lock()
	defer e.rngMu.Unlock()
	return keys[e.rng.Intn(len(keys))]
}

// do performs one GET and classifies the response.
func (e *Engine) do(ctx context.Context, d dispatch) Result {
	res := Result{URL: d.url}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.url, nil)
	if err != nil {
		// A malformed URL can never succeed; treat it as a permanent miss.
		slog.Error("fetch: build request", "url", d.url, "err", err)
		res.Status = StatusNotFound
		return res
	}
	req.Header.Set("Authorization", "Bearer "+d.key.Value)
	req.Header.Set("Accept", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		slog.Debug("fetch: transport error", "url", d.url, "key", d.key.Name, "err", err)
		res.Status = StatusNetworkError
		return res
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		if err != nil {
			res.Status = StatusNetworkError
			return res
		}
		if !json.Valid(body) {
			slog.Warn("fetch: invalid json body", "url", d.url)
			res.Status = StatusServerError
			return res
		}
		res.Status = StatusOK
		res.Payload = json.RawMessage(body)
		return res
	case resp.StatusCode == http.StatusNotFound:
		res.Status = StatusNotFound
	case resp.StatusCode == http.StatusForbidden:
		res.Status = StatusAuthFailed
	case resp.StatusCode == http.StatusTooManyRequests:
		res.Status = StatusRateLimited
	case resp.StatusCode >= 500:
		res.Status = StatusServerError
	default:
		// Other 4xx are permanent for this URL; record them as a miss.
		slog.Warn("fetch: unexpected status", "url", d.url, "status", resp.StatusCode)
		res.Status = StatusNotFound
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
	return res
}

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
