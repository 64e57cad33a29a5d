package collector

import (
	"context"
	"log/slog"

	"github.com/c360/flexpoint/monitor"
)

// Log writes every report to a structured logger. Failures are logged at
// warn level, everything else at the configured level.
type Log struct {
	logger *slog.Logger
	level  slog.Level
}

// NewLog creates a Log collector. A nil logger uses slog.Default.
func NewLog(logger *slog.Logger, level slog.Level) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{logger: logger.With("component", "collector"), level: level}
}

// Name implements monitor.Collector.
func (l *Log) Name() string { return "log" }

// Collect implements monitor.Collector.
func (l *Log) Collect(ctx context.Context, r monitor.Report) error {
	level := l.level
	if r.Kind == monitor.ReportException || !r.Success {
		level = max(level, slog.LevelWarn)
	}
	l.logger.Log(ctx, level, "Extension report",
		"kind", r.Kind,
		"extension", r.ExtensionID,
		"capability", r.Capability,
		"code", r.Code,
		"duration", r.Duration,
		"success", r.Success,
		"error", r.Error,
		"total", r.Stats.Total,
		"success_rate", r.Stats.SuccessRate,
		"p99", r.Stats.P99,
	)
	return nil
}
