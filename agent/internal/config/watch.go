package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// settleDelay is how long the config file must stay quiet before it is
// reloaded. Editors often emit several events for one save.
const settleDelay = 100 * time.Millisecond

// Watch reloads the config at path whenever it changes on disk and hands the
// result to onChange. It runs until ctx is cancelled.
//
// The parent directory is watched rather than the file, so saves that write a
// temporary file and rename it over path are seen as well as in-place writes.
// A reload that fails to load or validate is logged and skipped; the caller
// keeps its previous config.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	target, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("config: watch %s: %w", path, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: watch %s: %w", path, err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("config: watch %s: %w", path, err)
	}
	slog.Info("config: watching for changes", "path", target)

	settle := time.NewTimer(settleDelay)
	settle.Stop()
	defer settle.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !touches(event, target) {
				continue
			}
			// Restart the quiet period; the reload happens once events stop.
			settle.Reset(settleDelay)

		case <-settle.C:
			cfg, err := Load(target)
			if err != nil {
				slog.Error("config: reload failed, keeping previous config", "path", target, "err", err)
				continue
			}
			slog.Info("config: reloaded", "path", target, "clan", cfg.Clan.Tag, "keys", len(cfg.API.Keys))
			onChange(cfg)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Error("config: watcher error", "err", err)
		}
	}
}

// touches reports whether event leaves new content at target. Removing or
// renaming the file away is ignored: an atomic save follows it with a Create.
func touches(event fsnotify.Event, target string) bool {
	name, err := filepath.Abs(event.Name)
	if err != nil || name != target {
		return false
	}
	return event.Has(fsnotify.Write) || event.Has(fsnotify.Create)
}
