package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/forgewatch/forgewatch/pkg/wire"
	"github.com/forgewatch/forgewatch/server/internal/alerts"
	"github.com/forgewatch/forgewatch/server/internal/api"
	"github.com/forgewatch/forgewatch/server/internal/auth"
	"github.com/forgewatch/forgewatch/server/internal/config"
	"github.com/forgewatch/forgewatch/server/internal/engine"
	"github.com/forgewatch/forgewatch/server/internal/ingest"
	"github.com/forgewatch/forgewatch/server/internal/logbook"
	"github.com/forgewatch/forgewatch/server/internal/metrics"
	"github.com/forgewatch/forgewatch/server/internal/persist"
	"github.com/forgewatch/forgewatch/server/internal/receiver"
	"github.com/forgewatch/forgewatch/server/internal/ws"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	logLevel := flag.String("log-level", "info", "debug | info | warn | error")
	flag.Parse()

	var level slog.Level
	if err := level.UnmarshalText([]byte(*logLevel)); err != nil {
		level = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})))

	slog.Info("forgewatch-server starting", "config", *configPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	sc := cfg.Server

	slog.Info("config loaded",
		"grpc_port", sc.GRPCPort,
		"http_port", sc.HTTPPort,
		"auth_mode", sc.Auth.Mode,
		"snapshot_ttl", sc.Snapshot.TTL,
		"machines", len(sc.Machines),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	m := metrics.New()

	// Optional Redis readings log.
	var readings *persist.Redis
	if sc.Persistence.Redis.Addr != "" {
		pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
		readings, err = persist.NewRedis(pingCtx, sc.Persistence.Redis)
		pingCancel()
		if err != nil {
			slog.Error("redis unavailable, readings log disabled", "addr", sc.Persistence.Redis.Addr, "err", err)
			readings = nil
		} else {
			defer readings.Close()
			slog.Info("redis readings log enabled", "addr", sc.Persistence.Redis.Addr)
		}
	}

	hub := ws.New(nil, sc.WS.Interval)

	eng, err := engine.New(engine.Options{
		Names:         sc.MachineNames(),
		HistorySize:   sc.Engine.HistorySize,
		IdleThreshold: sc.Engine.IdleSpeedThreshold,
		IdleDwell:     sc.Engine.IdleDwell,
		SnapshotTTL:   sc.Snapshot.TTL,
		Alerts:        sc.Alerts,
		Notifier:      alerts.Fanout{hub, alerts.NewWebhooks(sc.Alerts.Webhooks)},
		Logbook: logbook.Options{
			Operators:        operatorPolicy(sc.Logbook),
			Quality:          logbook.NewRandomQuality(nil),
			ParamChangeDelta: sc.Engine.ParamChangeDelta,
		},
		Saver:    saver(readings),
		Observer: m,
	})
	if err != nil {
		slog.Error("failed to build engine", "err", err)
		os.Exit(1)
	}
	hub.SetSource(eng)
	go eng.Run(ctx)
	go hub.Run(ctx)

	// Hot reload: machine names and alert thresholds apply to the live engine.
	go func() {
		err := config.Watch(ctx, *configPath, cfg, func(next *config.Config, ch config.Changes) {
			if ch.Names {
				eng.SetNames(next.Server.MachineNames())
			}
			if ch.Thresholds {
				eng.UpdateThresholds(next.Server.Alerts.Thresholds.Patch())
			}
		})
		if err != nil {
			slog.Error("config watch stopped", "err", err)
		}
	}()

	// gRPC receiver with optional API key interceptor and the standard
	// health service.
	grpcSrv := grpc.NewServer(grpc.UnaryInterceptor(auth.APIKeyInterceptor(
		sc.Auth.Mode,
		sc.Auth.EffectiveHeader(),
		sc.Auth.Key(),
	)))
	wire.RegisterIngestServer(grpcSrv, receiver.New(eng))
	healthSrv := health.NewServer()
	healthSrv.SetServingStatus(wire.ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcSrv, healthSrv)

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", sc.GRPCPort))
	if err != nil {
		slog.Error("failed to listen on gRPC port", "port", sc.GRPCPort, "err", err)
		os.Exit(1)
	}
	go func() {
		slog.Info("gRPC receiver listening", "port", sc.GRPCPort)
		if err := grpcSrv.Serve(lis); err != nil {
			slog.Error("gRPC server stopped", "err", err)
		}
	}()

	// Broker ingest paths.
	if len(sc.Kafka.Brokers) > 0 {
		k, err := ingest.NewKafka(sc.Kafka, eng)
		if err != nil {
			slog.Error("kafka consumer disabled", "err", err)
		} else {
			go k.Run(ctx)
		}
	}
	if sc.MQTT.Broker != "" {
		mq, err := ingest.NewMQTT(sc.MQTT, eng)
		if err != nil {
			slog.Error("mqtt subscriber disabled", "err", err)
		} else {
			go func() {
				if err := mq.Run(ctx); err != nil {
					slog.Error("mqtt subscriber stopped", "err", err)
				}
			}()
		}
	}

	apiOpts := api.Options{
		Backend:    eng,
		Auth:       auth.Middleware(sc.Auth.Mode, sc.Auth.EffectiveHeader(), sc.Auth.Key()),
		Middleware: []mux.MiddlewareFunc{m.Middleware},
	}
	if readings != nil {
		apiOpts.Readings = readings
	}

	root := http.NewServeMux()
	root.Handle("/api/", api.New(apiOpts))
	root.Handle("/ws/stream", hub)
	root.Handle("/metrics", m.Handler())

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", sc.HTTPPort),
		Handler:           handlers.RecoveryHandler(handlers.PrintRecoveryStack(true))(handlers.CombinedLoggingHandler(os.Stdout, root)),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("HTTP server listening", "port", sc.HTTPPort)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server stopped", "err", err)
		}
	}()

	<-ctx.Done()
	slog.Info("forgewatch-server shutting down")
	healthSrv.Shutdown()
	grpcSrv.GracefulStop()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	httpSrv.Shutdown(shutdownCtx) //nolint:errcheck
}

func operatorPolicy(cfg config.LogbookConfig) logbook.OperatorPolicy {
	if cfg.OperatorPolicy == "round_robin" {
		return logbook.NewRoundRobin(cfg.Operators)
	}
	return logbook.NewRandomOperator(cfg.Operators, nil)
}

// saver avoids handing the engine a typed nil.
func saver(r *persist.Redis) engine.Saver {
	if r == nil {
		return nil
	}
	return r
}
