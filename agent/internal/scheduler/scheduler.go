package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Job is one scheduled unit of work. ctx is cancelled when the scheduler stops.
type Job func(ctx context.Context) error

// Scheduler wraps a cron runner bound to one timezone.
type Scheduler struct {
	cron *cron.Cron
	loc  *time.Location

	mu      sync.Mutex
	entries map[string]cron.EntryID
	specs   map[string]string

	ctx    context.Context
	cancel context.CancelFunc
}

// New returns a stopped Scheduler evaluating expressions in timezone.
func New(timezone string) (*Scheduler, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("scheduler: timezone %q: %w", timezone, err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	logger := cronLogger{}
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		loc:     loc,
		entries: make(map[string]cron.EntryID),
		specs:   make(map[string]string),
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Set schedules job under name with a standard five-field expression or a
// descriptor such as "@hourly". An existing entry for name is replaced; an
// unchanged expression keeps the running entry. An empty spec removes the
// entry.
func (s *Scheduler) Set(name, spec string, job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.specs[name]; ok && old == spec {
		return nil
	}
	if spec == "" {
		s.remove(name)
		return nil
	}

	id, err := s.cron.AddFunc(spec, func() {
		started := time.Now()
		slog.Info("scheduler: job started", "job", name)
		if err := job(s.ctx); err != nil {
			slog.Error("scheduler: job failed", "job", name, "took", time.Since(started), "err", err)
			return
		}
		slog.Info("scheduler: job finished", "job", name, "took", time.Since(started))
	})
	if err != nil {
		return fmt.Errorf("scheduler: %s: parse %q: %w", name, spec, err)
	}
	s.remove(name)
	s.entries[name] = id
	s.specs[name] = spec
	slog.Info("scheduler: job scheduled", "job", name, "spec", spec, "timezone", s.loc.String())
	return nil
}

func (s *Scheduler) remove(name string) {
	if id, ok := s.entries[name]; ok {
		s.cron.Remove(id)
		delete(s.entries, name)
		delete(s.specs, name)
		slog.Info("scheduler: job removed", "job", name)
	}
}

// Jobs returns the names of the scheduled jobs.
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.entries))
	for name := range s.entries {
		out = append(out, name)
	}
	return out
}

// Next returns when the named job fires next after t.
func (s *Scheduler) Next(name string, t time.Time) (time.Time, bool) {
	s.mu.Lock()
	id, ok := s.entries[name]
	s.mu.Unlock()
	if !ok {
		return time.Time{}, false
	}
	e := s.cron.Entry(id)
	if !e.Valid() {
		return time.Time{}, false
	}
	return e.Schedule.Next(t.In(s.loc)), true
}

// Run starts the scheduler and blocks until ctx is done, then stops it and
// waits for running jobs to return.
func (s *Scheduler) Run(ctx context.Context) {
	s.cron.Start()
	slog.Info("scheduler: started", "jobs", len(s.Jobs()))
	<-ctx.Done()

	s.cancel()
	<-s.cron.Stop().Done()
	slog.Info("scheduler: stopped")
}

// cronLogger routes cron's internal logging through slog.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...any) {
	slog.Debug("scheduler: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...any) {
	slog.Error("scheduler: "+msg, append(keysAndValues, "err", err)...)
}
