package config

import (
	"context"
	"log/slog"

	"github.com/fsnotify/fsnotify"
)

// Watch calls onChange with the reloaded Config each time path is written or
// recreated, until ctx is cancelled. A reload that fails to parse or validate
// is logged and skipped.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := w.Add(path); err != nil {
		return err
	}
	slog.Info("agent config: watching", "path", path)

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			cfg, err := Load(path)
			if err != nil {
				slog.Error("agent config: reload failed, keeping previous", "path", path, "err", err)
				continue
			}
			slog.Info("agent config: reloaded", "path", path, "machines", len(cfg.Agent.Machines))
			onChange(cfg)
			_ = w.Add(path)

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			slog.Error("agent config: watcher error", "err", err)
		}
	}
}
