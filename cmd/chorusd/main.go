// Command chorusd runs the chorus gateway and voice connection runtime.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/driftglass/chorus/internal/config"
	"github.com/driftglass/chorus/internal/health"
	"github.com/driftglass/chorus/internal/observe"
	"github.com/driftglass/chorus/pkg/gateway"
	"github.com/driftglass/chorus/pkg/socketengine"
)

func main() {
	os.Exit(run())
}

func run() int {
	var configPath string

	root := &cobra.Command{
		Use:   "chorusd",
		Short: "chorus gateway and voice connection daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(configPath)
		},
	}
	root.Flags().StringVar(&configPath, "config", "config.yaml", "path to the YAML configuration file")

	if err := root.Execute(); err != nil {
		return 1
	}
	return 0
}

func execute(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "chorusd: config file %q not found\n", configPath)
		} else {
			fmt.Fprintf(os.Stderr, "chorusd: %v\n", err)
		}
		return err
	}

	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	shutdownTelemetry, err := observe.InitProvider(context.Background(), observe.ProviderConfig{
		ServiceName: "chorusd",
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return err
	}
	defer shutdownTelemetry(context.Background())

	metrics := observe.DefaultMetrics()

	engine, err := socketengine.New(logger)
	if err != nil {
		slog.Error("failed to create socket engine", "err", err)
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	engineDone := make(chan struct{})
	go func() {
		defer close(engineDone)
		if err := engine.Run(ctx.Done()); err != nil {
			slog.Error("socket engine stopped with error", "err", err)
		}
	}()

	var cluster *gateway.Cluster
	if cfg.Gateway.URL != "" {
		cluster = gateway.NewCluster(gateway.ClusterOptions{
			URL:          cfg.Gateway.URL,
			FallbackURLs: cfg.Gateway.FallbackURLs,
			Token:        cfg.Gateway.Token,
			Intents:      cfg.Gateway.Intents,
			Engine:       engine,
			Logger:       logger,
			OnDisconnect: func(err error) {
				metrics.RecordConnectionError(context.Background(), "gateway")
				slog.Warn("gateway disconnected", "err", err)
			},
		})
		if err := cluster.Connect(ctx); err != nil {
			slog.Error("failed to connect to gateway", "err", err)
			return err
		}
		defer cluster.Close()
	} else {
		slog.Info("gateway.url not configured — running with voice/MLS packages only")
	}

	var checkers []health.Checker
	if cluster != nil {
		checkers = append(checkers, health.Checker{Name: "gateway", Check: cluster.HealthCheck})
	}
	healthHandler := health.New(checkers...)
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", healthHandler.Healthz)
	mux.HandleFunc("/readyz", healthHandler.Readyz)
	mux.Handle("/metrics", promhttp.Handler())

	httpServer := &http.Server{
		Addr:    cfg.Server.ListenAddr,
		Handler: observe.Middleware(metrics)(mux),
	}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("health/metrics server stopped with error", "err", err)
		}
	}()

	slog.Info("chorusd ready — press Ctrl+C to shut down", "listen_addr", cfg.Server.ListenAddr)

	<-ctx.Done()
	slog.Info("shutdown signal received, stopping…")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("health/metrics server shutdown error", "err", err)
	}

	engine.Stop()
	<-engineDone

	slog.Info("goodbye")
	return nil
}

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogLevelDebug:
		lvl = slog.LevelDebug
	case config.LogLevelWarn:
		lvl = slog.LevelWarn
	case config.LogLevelError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
