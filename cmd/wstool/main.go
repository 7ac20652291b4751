// wstool runs the WebSocket connection manager service.
// Usage: go run ./cmd/wstool --config configs/wstool.local.yaml
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rickgao/wstool/internal/config"
	"github.com/rickgao/wstool/internal/connection"
	"github.com/rickgao/wstool/internal/database"
	"github.com/rickgao/wstool/internal/httpapi"
	"github.com/rickgao/wstool/internal/metrics"
	"github.com/rickgao/wstool/internal/model"
	"github.com/rickgao/wstool/internal/poller"
	"github.com/rickgao/wstool/internal/store"
	"github.com/rickgao/wstool/internal/version"
	"github.com/rickgao/wstool/internal/writer"
)

func main() {
	configPath := flag.String("config", "configs/wstool.local.yaml", "path to config file")
	flag.Parse()

	// Bootstrap logger until the config selects one
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger = newLogger(cfg.Log)
	slog.SetDefault(logger)

	logger.Info("starting wstool",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Metrics
	collector := metrics.Noop()
	reg := prometheus.NewRegistry()
	if cfg.Metrics.Enabled {
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		prom, err := metrics.NewPrometheusCollector(reg)
		if err != nil {
			logger.Error("failed to register metrics", "error", err)
			os.Exit(1)
		}
		collector = prom
	}

	// Connect to database
	logger.Info("connecting to database",
		"host", cfg.Database.Host,
		"port", cfg.Database.Port,
		"database", cfg.Database.Name,
	)

	pool, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool); err != nil {
		logger.Error("failed to migrate schema", "error", err)
		os.Exit(1)
	}
	logger.Info("database connected")

	configs := store.New(pool, logger)

	// History writer
	history := writer.New(writerConfig(cfg.Writer), pool, logger, collector)
	if err := history.Start(ctx); err != nil {
		logger.Error("failed to start message writer", "error", err)
		os.Exit(1)
	}

	// Connection manager
	connCfg := connectionConfig(cfg.Connections)
	registry := connection.NewRegistry(connCfg, logger,
		connection.WithSink(history),
		connection.WithCollector(collector),
	)
	prober := connection.NewProber(connCfg, logger, collector)

	if cfg.Connections.RestoreActive {
		restoreActive(ctx, registry, configs, logger)
	}

	pollCfg := poller.DefaultConfig()
	pollCfg.Interval = cfg.Connections.StatusSyncInterval
	statusPoller := poller.New(pollCfg, configs, registry, logger)
	if err := statusPoller.Start(ctx); err != nil {
		logger.Error("failed to start status poller", "error", err)
		os.Exit(1)
	}

	opts := []httpapi.Option{
		httpapi.WithSink(history),
		httpapi.WithPinger(pool),
	}
	if cfg.Metrics.Enabled {
		opts = append(opts, httpapi.WithHandler(cfg.Metrics.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	}
	api := httpapi.New(registry, prober, configs, logger, opts...)

	server := &http.Server{
		Addr:        cfg.Server.Addr,
		Handler:     api.Handler(),
		ReadTimeout: cfg.Server.ReadTimeout,
		// WriteTimeout stays 0 unless configured so SSE streams survive.
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("starting http server", "addr", cfg.Server.Addr)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	// Wait for shutdown
	<-ctx.Done()

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown", "error", err)
	}
	if err := statusPoller.Stop(shutdownCtx); err != nil {
		logger.Warn("status poller shutdown", "error", err)
	}
	if err := registry.Close(shutdownCtx); err != nil {
		logger.Warn("connection registry shutdown", "error", err)
	}
	if err := history.Stop(shutdownCtx); err != nil {
		logger.Warn("message writer shutdown", "error", err)
	}

	stats := history.Stats()
	logger.Info("wstool stopped",
		"messages_written", stats.Inserts,
		"messages_dropped", stats.Dropped,
		"write_errors", stats.Errors,
	)
}

// restoreActive reopens every connection whose config is marked active.
// Failures are logged and flip the config to error.
func restoreActive(ctx context.Context, registry *connection.Registry, configs *store.ConfigStore, logger *slog.Logger) {
	active, err := configs.List(ctx, store.Filter{Status: model.StatusActive})
	if err != nil {
		logger.Error("failed to list active configs", "error", err)
		return
	}

	restored := 0
	for _, c := range active {
		if err := registry.Connect(ctx, c); err != nil {
			logger.Warn("failed to restore connection", "conn_id", c.ID, "error", err)
			if err := configs.SetStatus(ctx, c.ID, model.StatusError); err != nil {
				logger.Warn("failed to update config status", "conn_id", c.ID, "error", err)
			}
			continue
		}
		restored++
	}
	logger.Info("restored active connections", "restored", restored, "total", len(active))
}

func connectionConfig(c config.ConnectionsConfig) connection.Config {
	return connection.Config{
		HandshakeTimeout:     c.HandshakeTimeout,
		WriteTimeout:         c.WriteTimeout,
		ReadTimeout:          c.ReadTimeout,
		PingInterval:         c.PingInterval,
		ProbeResponseTimeout: c.ProbeResponseTimeout,
		ReconnectBaseWait:    c.ReconnectBaseDelay,
		ReconnectMaxWait:     c.ReconnectMaxDelay,
		ReconnectAttempts:    c.ReconnectAttempts,
		SendBufferSize:       c.SendBufferSize,
		SendRate:             c.SendRate,
	}
}

func writerConfig(c config.WriterConfig) writer.Config {
	return writer.Config{
		BatchSize:     c.BatchSize,
		FlushInterval: c.FlushInterval,
		BufferSize:    c.BufferSize,
		MaxBuffer:     c.MaxBuffer,
	}
}

func newLogger(c config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	if strings.EqualFold(c.Format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
