package config

import (
	"context"
	"log/slog"
	"reflect"

	"github.com/fsnotify/fsnotify"
)

// Changes describes what differs between two loaded configurations.
type Changes struct {
	// Thresholds and Names apply to the running engine.
	Thresholds bool
	Names      bool

	// Restart lists changed settings that only take effect on restart.
	Restart []string
}

// Live reports whether anything hot-reloadable changed.
func (c Changes) Live() bool { return c.Thresholds || c.Names }

// Diff compares prev and next.
func Diff(prev, next *Config) Changes {
	p, n := prev.Server, next.Server
	ch := Changes{
		Thresholds: p.Alerts.Thresholds != n.Alerts.Thresholds,
		Names:      !reflect.DeepEqual(p.MachineNames(), n.MachineNames()),
	}
	restart := []struct {
		key  string
		a, b any
	}{
		{"server.grpc_port", p.GRPCPort, n.GRPCPort},
		{"server.http_port", p.HTTPPort, n.HTTPPort},
		{"server.auth", p.Auth, n.Auth},
		{"server.snapshot", p.Snapshot, n.Snapshot},
		{"server.engine", p.Engine, n.Engine},
		{"server.alerts.rules", p.Alerts.Rules, n.Alerts.Rules},
		{"server.alerts.webhooks", p.Alerts.Webhooks, n.Alerts.Webhooks},
		{"server.logbook", p.Logbook, n.Logbook},
		{"server.persistence", p.Persistence, n.Persistence},
		{"server.kafka", p.Kafka, n.Kafka},
		{"server.mqtt", p.MQTT, n.MQTT},
		{"server.ws", p.WS, n.WS},
	}
	for _, r := range restart {
		if !reflect.DeepEqual(r.a, r.b) {
			ch.Restart = append(ch.Restart, r.key)
		}
	}
	return ch
}

// Watch watches path and calls onChange whenever a reload changes machine
// names or alert thresholds relative to the last accepted configuration,
// starting from current. Changes that need a restart are logged and otherwise
// ignored. An invalid file is logged and the previous configuration stays in
// effect. Watch blocks until ctx is cancelled.
func Watch(ctx context.Context, path string, current *Config, onChange func(*Config, Changes)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(path); err != nil {
		return err
	}

	slog.Info("config: watching for changes", "path", path)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			// Editors that save atomically produce Create after a rename.
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			_ = watcher.Add(path)

			next, err := Load(path)
			if err != nil {
				slog.Error("config: reload rejected", "path", path, "err", err)
				continue
			}
			ch := Diff(current, next)
			current = next

			if len(ch.Restart) > 0 {
				slog.Warn("config: changes need a restart", "keys", ch.Restart)
			}
			if !ch.Live() {
				continue
			}
			slog.Info("config: reloaded",
				"thresholds", ch.Thresholds,
				"machine_names", ch.Names,
			)
			onChange(next, ch)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Error("config: watcher error", "err", err)
		}
	}
}
