package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/warboard/warboard/agent/internal/config"
	"github.com/warboard/warboard/agent/internal/metrics"
	"github.com/warboard/warboard/agent/internal/runner"
	"github.com/warboard/warboard/agent/internal/store"
)

var flags struct {
	configPath string
	logLevel   string
}

func main() {
	root := newRootCmd()
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := root.ExecuteContext(ctx)
	cancel()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "warboard",
		Short:         "Clan war statistics: member ranking and recruiting",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return setupLogging(flags.logLevel)
		},
	}
	root.PersistentFlags().StringVar(&flags.configPath, "config", "config.yaml", "path to config file")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "info", "log level: debug, info, warn, error")

	root.AddCommand(newRankCmd(), newRecruitCmd(), newDaemonCmd(), newServeCmd())
	return root
}

// setupLogging installs the JSON handler as the default logger. Logs go to
// stderr so command output on stdout stays parseable.
func setupLogging(level string) error {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		return fmt.Errorf("--log-level: %w", err)
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
	return nil
}

// env is what every command needs: a loaded config, an open store and a
// runner over both.
type env struct {
	cfg    *config.Config
	store  *store.Store
	runner *runner.Runner
}

func openEnv() (*env, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, err
	}
	slog.Info("config loaded",
		"path", flags.configPath,
		"clan", cfg.Clan.Tag,
		"keys", len(cfg.API.Keys),
		"db", cfg.Storage.Path,
	)

	st, err := store.Open(cfg.Storage.Path, cfg.Storage.ChunkSize)
	if err != nil {
		return nil, err
	}
	return &env{
		cfg:    cfg,
		store:  st,
		runner: runner.New(cfg, st, metrics.NewRecorder()),
	}, nil
}

func (e *env) Close() {
	if err := e.store.Close(); err != nil {
		slog.Warn("close store", "err", err)
	}
}
