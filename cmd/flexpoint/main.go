// Package main runs a flexpoint demo: it registers several implementations
// of an order-processing capability, dispatches generated orders through a
// selector chain, and reports the resulting metrics and health. Metrics can
// be served over HTTP and reports forwarded to NATS.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"os/signal"
	"runtime"
	"slices"
	"syscall"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/flexpoint/collector"
	"github.com/c360/flexpoint/config"
	"github.com/c360/flexpoint/dispatch"
	"github.com/c360/flexpoint/metric"
	"github.com/c360/flexpoint/monitor"
	"github.com/c360/flexpoint/natsclient"
	"github.com/c360/flexpoint/pkg/tlsutil"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "flexpoint"
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

	if err := run(os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run(args []string, stdout io.Writer) error {
	cliCfg, err := parseFlags(args)
	if err != nil {
		return err
	}
	if err := validateFlags(cliCfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}
	if cliCfg.ShowVersion {
		_, _ = fmt.Fprintf(stdout, "%s version %s\n", appName, Version)
		return nil
	}
	if cliCfg.ShowHelp {
		return flag.ErrHelp
	}

	logger := setupLogger(stdout, cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	cfg, err := loadConfig(cliCfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cliCfg.Validate {
		logger.Info("Configuration is valid", "config_path", cliCfg.ConfigPath)
		return nil
	}

	logger.Info("Starting flexpoint demo",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cliCfg.ConfigPath)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	metricsRegistry := metric.NewMetricsRegistry()
	opts := []dispatch.Option{
		dispatch.WithLogger(logger),
		dispatch.WithMetricsRegistry(metricsRegistry),
		dispatch.WithCollector(collector.NewLog(logger, slog.LevelDebug)),
		dispatch.WithAlertNotifier(func(a monitor.Alert) {
			logger.Warn("Alert notified", "extension", a.ExtensionID, "strategy", a.Strategy, "message", a.Message)
		}),
	}

	if cfg.NATS.Enabled {
		natsClient, err := connectNATS(ctx, cfg.NATS, logger)
		if err != nil {
			return err
		}
		defer func() { _ = natsClient.Close(context.Background()) }()
		opts = append(opts, dispatch.WithCollector(collector.NewNATS(natsClient,
			collector.WithSubjectPrefix(cfg.NATS.SubjectPrefix),
			collector.WithStream(cfg.NATS.Stream != ""))))
	}

	rt, err := dispatch.New(cfg, opts...)
	if err != nil {
		return fmt.Errorf("create runtime: %w", err)
	}
	defer func() {
		if err := rt.Shutdown(cliCfg.ShutdownTimeout); err != nil {
			logger.Error("Runtime shutdown failed", "error", err)
		}
	}()

	if err := collector.NewPrometheus(collector.StatsFunc(rt.AllMetrics)).Register(metricsRegistry); err != nil {
		return fmt.Errorf("register stats collector: %w", err)
	}

	var server *metric.Server
	if cfg.Metrics.Enabled {
		server, err = startMetricsServer(cfg.Metrics, metricsRegistry, rt, logger)
		if err != nil {
			return err
		}
		defer func() {
			stopCtx, stop := context.WithTimeout(context.Background(), cliCfg.ShutdownTimeout)
			defer stop()
			_ = server.Stop(stopCtx)
		}()
	}

	if err := registerDemo(rt); err != nil {
		return fmt.Errorf("register demo extensions: %w", err)
	}
	if err := runDemo(ctx, rt, cliCfg.Iterations, logger); err != nil {
		return fmt.Errorf("run demo: %w", err)
	}
	report(rt, logger)

	if cliCfg.Serve && server != nil {
		logger.Info("Serving metrics until interrupted", "address", server.Address())
		<-ctx.Done()
		logger.Info("Received shutdown signal")
	}
	return nil
}

// loadConfig reads path over the defaults, or returns the defaults with
// environment overrides when path is empty.
func loadConfig(path string) (config.Config, error) {
	loader := config.NewLoader()
	if path != "" {
		loader.AddLayer(path)
	}
	return loader.Load()
}

func connectNATS(ctx context.Context, cfg config.NATSConfig, logger *slog.Logger) (*natsclient.Client, error) {
	opts := []natsclient.ClientOption{
		natsclient.WithLogger(logger),
		natsclient.WithName(appName),
	}
	if cfg.Token != "" {
		opts = append(opts, natsclient.WithToken(cfg.Token))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, natsclient.WithTimeout(cfg.Timeout.Std()))
	}
	tlsConfig, err := tlsutil.LoadClientTLSConfig(cfg.TLS)
	if err != nil {
		return nil, fmt.Errorf("nats tls: %w", err)
	}
	opts = append(opts, natsclient.WithTLSConfig(tlsConfig))

	client, err := natsclient.NewClient(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("create NATS client: %w", err)
	}

	logger.Info("Connecting to NATS", "url", cfg.URL)
	if err := client.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.WaitForConnection(connCtx); err != nil {
		_ = client.Close(context.Background())
		return nil, fmt.Errorf("NATS connection timeout: %w", err)
	}

	if cfg.Stream != "" {
		err := client.EnsureStream(connCtx, jetstream.StreamConfig{
			Name:     cfg.Stream,
			Subjects: []string{cfg.SubjectPrefix + ".>"},
			MaxAge:   24 * time.Hour,
		})
		if err != nil {
			_ = client.Close(context.Background())
			return nil, fmt.Errorf("ensure stream %s: %w", cfg.Stream, err)
		}
	}
	return client, nil
}

func startMetricsServer(
	cfg config.MetricsConfig, registry *metric.MetricsRegistry, rt *dispatch.Runtime, logger *slog.Logger,
) (*metric.Server, error) {
	tlsConfig, err := tlsutil.LoadServerTLSConfig(cfg.TLS)
	if err != nil {
		return nil, fmt.Errorf("metrics tls: %w", err)
	}
	server := metric.NewServer(cfg.Port, cfg.Path, registry)
	server.SetTLSConfig(tlsConfig)
	server.SetHealthCheck(func() error {
		if status := rt.Health(); status.IsUnhealthy() {
			return errors.New(status.Message)
		}
		return nil
	})

	go func() {
		if err := server.Start(); err != nil {
			logger.Error("Metrics server failed", "error", err)
		}
	}()
	logger.Info("Metrics server started", "address", server.Address())
	return server, nil
}

func sortedIDs[V any](m map[string]V) []string {
	return slices.Sorted(maps.Keys(m))
}
