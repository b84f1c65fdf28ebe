package main

import (
	"context"
	"flag"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/forgewatch/forgewatch/agent/internal/config"
	"github.com/forgewatch/forgewatch/agent/internal/shipper"
	"github.com/forgewatch/forgewatch/agent/internal/simulate"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))
	slog.Info("forgewatch-agent starting", "config", *configPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	slog.Info("config loaded",
		"server_endpoint", cfg.Agent.ServerEndpoint,
		"machines", len(cfg.Agent.Machines),
		"interval", cfg.Agent.Interval,
	)
	if len(cfg.Agent.Machines) == 0 {
		slog.Warn("no machines configured, agent will idle")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var src rand.Source
	if cfg.Agent.Seed != 0 {
		src = rand.NewSource(cfg.Agent.Seed)
	}
	gen := simulate.New(cfg.Agent.Machines, src, time.Now())

	go func() {
		err := config.Watch(ctx, *configPath, func(next *config.Config) {
			gen.SetMachines(next.Agent.Machines)
		})
		if err != nil {
			slog.Error("config watcher stopped", "err", err)
		}
	}()

	agentID, _ := os.Hostname()
	ship := shipper.New(cfg.Agent, agentID)
	go ship.Run(ctx)

	ticker := time.NewTicker(cfg.Agent.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("forgewatch-agent shutting down")
			return
		case t := <-ticker.C:
			if b := gen.Next(t); len(b) > 0 {
				ship.Ship(b)
				slog.Debug("batch queued", "machines", len(b))
			}
		}
	}
}
