// Package main implements the entry point for streamd, the realtime
// annotation streaming worker: it consumes annotation and user session
// events from the bus and fans them out to subscribed websocket clients.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/hypothesis/h-sub005/authz"
	"github.com/hypothesis/h-sub005/config"
	gatewayhttp "github.com/hypothesis/h-sub005/gateway/http"
	gatewayws "github.com/hypothesis/h-sub005/gateway/websocket"
	"github.com/hypothesis/h-sub005/health"
	"github.com/hypothesis/h-sub005/metric"
	"github.com/hypothesis/h-sub005/natsclient"
	"github.com/hypothesis/h-sub005/pkg/retry"
	"github.com/hypothesis/h-sub005/presenter"
	"github.com/hypothesis/h-sub005/storage"
	"github.com/hypothesis/h-sub005/streamer"
)

// Build information constants
const (
	Version = "0.1.0"
	appName = "streamd"
)

// Values exported by the streamd_service_status gauge.
const (
	serviceStopped  = 0
	serviceStarting = 1
	serviceRunning  = 2
	serviceFailed   = 4
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("worker failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}
	if cliCfg.ShowHelp {
		printDetailedHelp()
		return nil
	}

	logger := setupLogger(cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	cfg, err := config.Load(cliCfg.ConfigPath)
	if err != nil {
		return err
	}
	if cliCfg.Validate {
		slog.Info("configuration is valid", "config_path", cliCfg.ConfigPath)
		return nil
	}

	slog.Info("starting streaming worker",
		"version", Version,
		"config_path", cliCfg.ConfigPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metricsRegistry := metric.NewMetricsRegistry()
	coreMetrics := metricsRegistry.CoreMetrics()
	coreMetrics.ServiceStatus.WithLabelValues(appName).Set(serviceStarting)
	monitor := health.NewMonitor()

	natsClient, err := natsclient.NewClient(
		strings.Join(cfg.NATS.URLs, ","),
		natsclient.WithName(cfg.Platform.Name),
		natsclient.WithLogger(logger),
		natsclient.WithMetrics(metricsRegistry),
	)
	if err != nil {
		return err
	}
	natsClient.OnHealthChange(func(healthy bool) {
		if healthy {
			monitor.UpdateHealthy("nats", "connected")
		} else {
			monitor.UpdateUnhealthy("nats", "disconnected")
		}
	})
	if err := retry.Do(ctx, retry.Startup(), "nats connect", natsClient.Connect); err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = natsClient.Close(closeCtx)
	}()
	monitor.UpdateHealthy("nats", "connected")

	if _, err := natsClient.EnsureStream(ctx, cfg.NATS.Stream,
		[]string{cfg.NATS.AnnotationTopic, cfg.NATS.UserTopic}); err != nil {
		return err
	}

	db, err := storage.Open(ctx, cfg.Database.URL, int(cfg.Database.MaxConns), logger)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := retry.Do(ctx, retry.Startup(), "database ping", db.Ping); err != nil {
		return err
	}
	monitor.UpdateHealthy("database", "reachable")
	coreMetrics.DatabaseHealthy.Set(1)

	enqueueTimeout, err := cfg.Streamer.ParseEnqueueTimeout()
	if err != nil {
		return err
	}
	sampleInterval, err := cfg.Streamer.ParseSampleInterval()
	if err != nil {
		return err
	}

	str, err := streamer.New(streamer.Options{
		Logger:          logger,
		Metrics:         metricsRegistry,
		NATS:            natsClient,
		Stream:          cfg.NATS.Stream,
		AnnotationTopic: cfg.NATS.AnnotationTopic,
		UserTopic:       cfg.NATS.UserTopic,
		QueueCapacity:   cfg.Streamer.QueueCapacity,
		EnqueueTimeout:  enqueueTimeout,
		SampleInterval:  sampleInterval,
		TxFactory:       db,
		Annotations:     db,
		Flags:           db,
		Permissions:     authz.NewChecker(),
		Presenter:       presenter.New(cfg.Platform.ServiceURL),
	})
	if err != nil {
		return err
	}

	wsServer, err := gatewayws.NewServer(gatewayws.Config{
		Addr:           cfg.WebSocket.Addr,
		Path:           cfg.WebSocket.Path,
		AllowedOrigins: cfg.WebSocket.AllowedOrigins,
		Streamer:       str,
		Logger:         logger,
		Metrics:        metricsRegistry,
	})
	if err != nil {
		return err
	}

	diagServer, err := gatewayhttp.NewServer(gatewayhttp.Config{
		Addr:       cfg.Platform.DiagnosticsAddr,
		SystemName: cfg.Platform.Name,
		Monitor:    monitor,
		Metrics:    metricsRegistry,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	// Every top-level task runs under one group: if any of them dies
	// the whole process exits so the orchestrator restarts it. A
	// silently dead consumer is worse than a crash.
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		monitor.UpdateHealthy("dispatcher", "running")
		err := str.Run(ctx)
		monitor.UpdateUnhealthy("dispatcher", "stopped")
		return err
	})
	g.Go(func() error { return wsServer.Run(ctx) })
	g.Go(func() error { return diagServer.Run(ctx) })
	g.Go(func() error {
		return watchDatabase(ctx, db, monitor, coreMetrics.DatabaseHealthy, 30*time.Second)
	})

	coreMetrics.ServiceStatus.WithLabelValues(appName).Set(serviceRunning)

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		coreMetrics.ServiceStatus.WithLabelValues(appName).Set(serviceStopped)
		slog.Info("shutdown complete")
		return nil
	}
	coreMetrics.ServiceStatus.WithLabelValues(appName).Set(serviceFailed)
	return err
}

// databasePinger is the slice of storage.DB the health watcher needs.
type databasePinger interface {
	Ping(ctx context.Context) error
}

// watchDatabase keeps the database health status and gauge current.
func watchDatabase(ctx context.Context, db databasePinger, monitor *health.Monitor, gauge prometheus.Gauge, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := db.Ping(ctx); err != nil {
				monitor.UpdateUnhealthy("database", "ping failed")
				gauge.Set(0)
			} else {
				monitor.UpdateHealthy("database", "reachable")
				gauge.Set(1)
			}
		}
	}
}
