package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/warboard/warboard/agent/internal/api"
	"github.com/warboard/warboard/agent/internal/config"
	"github.com/warboard/warboard/agent/internal/scheduler"
	"github.com/warboard/warboard/agent/internal/ws"
)

const shutdownTimeout = 10 * time.Second

func newDaemonCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Run both pipelines on their schedules and serve the API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.Close()

			sched, err := scheduler.New(e.cfg.Schedule.Timezone)
			if err != nil {
				return err
			}
			hub := ws.New()
			go hub.Run(ctx)
			if err := applySchedule(sched, e, hub, e.cfg); err != nil {
				return err
			}

			go func() {
				if err := config.Watch(ctx, flags.configPath, func(updated *config.Config) {
					reload(sched, e, hub, updated)
				}); err != nil {
					slog.Error("config watcher stopped", "err", err)
				}
			}()

			srv := newServer(e, api.WithStream(hub))
			go serve(srv)
			go shutdownOnDone(ctx, srv)

			slog.Info("warboard daemon started", "http_addr", e.cfg.HTTP.Addr, "jobs", sched.Jobs())
			sched.Run(ctx)
			slog.Info("warboard daemon shutting down")
			return nil
		},
	}
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the read-only API without scheduling runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.Close()

			srv := newServer(e)
			go shutdownOnDone(cmd.Context(), srv)
			serve(srv)
			return nil
		},
	}
}

// applySchedule registers both pipelines with the expressions in cfg. An
// empty expression disables that pipeline. Every finished run is published
// to hub.
func applySchedule(sched *scheduler.Scheduler, e *env, hub *ws.Hub, cfg *config.Config) error {
	if err := sched.Set("rank", cfg.Schedule.Rank, func(ctx context.Context) error {
		sum, err := e.runner.Rank(ctx)
		if err != nil {
			publish(hub, ws.EventRunFailed, ws.RunFailure{Pipeline: "rank", Error: err.Error()})
			return err
		}
		publish(hub, ws.EventRanking, api.RankingsResponse{
			UpdatedAt: time.Now().UTC().Format(time.RFC3339),
			Count:     len(sum.Rows),
			Rows:      sum.Rows,
		})
		return nil
	}); err != nil {
		return err
	}
	return sched.Set("recruit", cfg.Schedule.Recruit, func(ctx context.Context) error {
		sum, err := e.runner.Recruit(ctx)
		if err != nil {
			publish(hub, ws.EventRunFailed, ws.RunFailure{Pipeline: "recruit", Error: err.Error()})
			return err
		}
		publish(hub, ws.EventRecruits, api.RecruitsResponse{
			Benchmark:  sum.Benchmark,
			Count:      len(sum.Candidates),
			Candidates: sum.Candidates,
		})
		return nil
	})
}

func publish(hub *ws.Hub, event string, data any) {
	if err := hub.Publish(event, data); err != nil {
		slog.Warn("publish run event", "event", event, "err", err)
	}
}

// reload applies a changed config file. Scoring, fetch and recruit settings
// take effect from the next run; storage, listener and timezone changes need
// a restart.
func reload(sched *scheduler.Scheduler, e *env, hub *ws.Hub, updated *config.Config) {
	prev := e.runner.Config()
	if updated.Storage.Path != prev.Storage.Path || updated.HTTP.Addr != prev.HTTP.Addr ||
		updated.Schedule.Timezone != prev.Schedule.Timezone {
		slog.Warn("config change requires restart, ignoring those fields",
			"storage_path", updated.Storage.Path, "http_addr", updated.HTTP.Addr,
			"timezone", updated.Schedule.Timezone)
	}
	e.runner.SetConfig(updated)
	if err := applySchedule(sched, e, hub, updated); err != nil {
		slog.Error("reschedule failed, keeping previous schedule", "err", err)
	}
}

func newServer(e *env, opts ...api.Option) *http.Server {
	return &http.Server{
		Addr:              e.cfg.HTTP.Addr,
		Handler:           api.New(e.store, e.runner.Metrics(), opts...),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func serve(srv *http.Server) {
	slog.Info("HTTP API listening", "addr", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("HTTP server stopped", "err", err)
	}
}

func shutdownOnDone(ctx context.Context, srv *http.Server) {
	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("HTTP shutdown", "err", err)
	}
}
