package main

import (
	"flag"
	"fmt"
	"os"
	"slices"
	"strconv"
	"time"
)

// CLIConfig holds command-line configuration
type CLIConfig struct {
	ConfigPath      string
	LogLevel        string
	LogFormat       string
	Iterations      int
	Serve           bool
	ShutdownTimeout time.Duration
	ShowVersion     bool
	ShowHelp        bool
	Validate        bool
}

func parseFlags(args []string) (*CLIConfig, error) {
	cfg := &CLIConfig{}
	fs := flag.NewFlagSet(appName, flag.ContinueOnError)

	fs.StringVar(&cfg.ConfigPath, "config",
		getEnv("FLEXPOINT_CONFIG", ""),
		"Path to a JSON or YAML configuration file; defaults apply when empty (env: FLEXPOINT_CONFIG)")
	fs.StringVar(&cfg.ConfigPath, "c",
		getEnv("FLEXPOINT_CONFIG", ""),
		"Path to a JSON or YAML configuration file (env: FLEXPOINT_CONFIG)")

	fs.StringVar(&cfg.LogLevel, "log-level",
		getEnv("FLEXPOINT_LOG_LEVEL", "info"),
		"Log level: debug, info, warn, error (env: FLEXPOINT_LOG_LEVEL)")

	fs.StringVar(&cfg.LogFormat, "log-format",
		getEnv("FLEXPOINT_LOG_FORMAT", "text"),
		"Log format: json, text (env: FLEXPOINT_LOG_FORMAT)")

	fs.IntVar(&cfg.Iterations, "iterations",
		getEnvInt("FLEXPOINT_ITERATIONS", 1000),
		"Number of demo orders to dispatch (env: FLEXPOINT_ITERATIONS)")

	fs.BoolVar(&cfg.Serve, "serve",
		getEnvBool("FLEXPOINT_SERVE", false),
		"Keep serving metrics after the demo until interrupted (env: FLEXPOINT_SERVE)")

	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout",
		getEnvDuration("FLEXPOINT_SHUTDOWN_TIMEOUT", 10*time.Second),
		"Graceful shutdown timeout (env: FLEXPOINT_SHUTDOWN_TIMEOUT)")

	fs.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	fs.BoolVar(&cfg.ShowHelp, "help", false, "Show help information")
	fs.BoolVar(&cfg.ShowHelp, "h", false, "Show help information")
	fs.BoolVar(&cfg.Validate, "validate", false, "Validate configuration and exit")

	fs.Usage = func() { printDetailedHelp(fs) }

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return cfg, nil
}

func validateFlags(cfg *CLIConfig) error {
	if cfg.ShowVersion || cfg.ShowHelp {
		return nil
	}

	if cfg.ConfigPath != "" {
		if _, err := os.Stat(cfg.ConfigPath); err != nil {
			return fmt.Errorf("config file not found: %s", cfg.ConfigPath)
		}
	}

	if !slices.Contains([]string{"debug", "info", "warn", "error"}, cfg.LogLevel) {
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}

	if !slices.Contains([]string{"json", "text"}, cfg.LogFormat) {
		return fmt.Errorf("invalid log format: %s", cfg.LogFormat)
	}

	if cfg.Iterations < 0 {
		return fmt.Errorf("invalid iterations: %d", cfg.Iterations)
	}

	return nil
}

func printDetailedHelp(fs *flag.FlagSet) {
	_, _ = fmt.Fprintf(os.Stderr, `%s - capability dispatch demo

Usage: %s [options]

Options:
`, appName, os.Args[0])
	fs.PrintDefaults()
	_, _ = fmt.Fprintf(os.Stderr, `
Examples:
  # Dispatch demo orders with defaults
  %s

  # Use a configuration file and keep /metrics up
  %s --config=flexpoint.yaml --serve

  # Validate configuration only
  %s --config=flexpoint.yaml --validate

Version: %s
Build: %s
`, os.Args[0], os.Args[0], os.Args[0], Version, BuildTime)
}

// Environment variable helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
