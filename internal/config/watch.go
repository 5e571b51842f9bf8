package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const defaultReloadDelay = 100 * time.Millisecond

// Watcher reloads the config file when it changes on disk and hands valid
// configs to a callback. Invalid configs are logged and ignored; the
// previous config stays in effect.
type Watcher struct {
	path   string
	apply  func(Config) error
	logger *zap.SugaredLogger

	// Delay coalesces the burst of events editors produce for one save.
	Delay time.Duration
	// Overrides are reapplied to every reloaded config.
	Overrides FlagOverrides
}

// NewWatcher creates a watcher for path. apply runs on the watcher's
// goroutine.
func NewWatcher(path string, apply func(Config) error, logger *zap.SugaredLogger) *Watcher {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Watcher{
		path:   filepath.Clean(path),
		apply:  apply,
		logger: logger.Named("config"),
		Delay:  defaultReloadDelay,
	}
}

// Run watches until ctx is cancelled. The directory is watched rather than
// the file so that atomic replace-by-rename saves are seen.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create config watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(w.path), err)
	}
	w.logger.Debugw("Watching config file for changes", "path", w.path)

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Debugw("Stopping config file watcher")
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			w.logger.Debugw("Config file modified", "event", ev.String())
			timer.Reset(w.Delay)

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warnw("Config watcher error", "error", err)

		case <-timer.C:
			w.Reload()
		}
	}
}

// Reload reads, validates and applies the config file once.
func (w *Watcher) Reload() bool {
	cfg, err := LoadConfigFile(w.path)
	if err == nil {
		w.Overrides.Apply(&cfg)
		err = cfg.Validate()
	}
	if err == nil {
		err = w.apply(cfg)
	}
	if err != nil {
		w.logger.Warnw("Failed to reload config file", "path", w.path, "error", err)
		return false
	}
	w.logger.Infow("Reloaded config successfully", "path", w.path)
	return true
}
