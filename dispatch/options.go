package dispatch

import (
	"log/slog"

	"github.com/c360/flexpoint/metric"
	"github.com/c360/flexpoint/monitor"
	"github.com/c360/flexpoint/pkg/timestamp"
	"github.com/c360/flexpoint/selector"
)

// Option configures a Runtime.
type Option func(*Runtime)

// WithLogger sets the logger shared by every component. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runtime) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMetricsRegistry enables Prometheus metrics for every component.
func WithMetricsRegistry(registry *metric.MetricsRegistry) Option {
	return func(r *Runtime) { r.metricsRegistry = registry }
}

// WithCollector forwards every observation to c, retrying transient failures.
func WithCollector(c monitor.Collector) Option {
	return func(r *Runtime) {
		if c != nil {
			r.collectors = append(r.collectors, c)
		}
	}
}

// WithAlertStrategies replaces the strategies derived from the alert configuration.
func WithAlertStrategies(strategies ...monitor.AlertStrategy) Option {
	return func(r *Runtime) { r.strategies = strategies }
}

// WithAlertNotifier calls fn for every alert that passes throttling.
func WithAlertNotifier(fn func(monitor.Alert)) Option {
	return func(r *Runtime) { r.notify = fn }
}

// WithHandlers appends monitoring handlers after the built-in ones.
func WithHandlers(handlers ...monitor.Handler) Option {
	return func(r *Runtime) { r.extraHandlers = append(r.extraHandlers, handlers...) }
}

// WithSelectors registers selectors before the configured chains are
// built, so selector.chains may name them.
func WithSelectors(selectors ...selector.Selector) Option {
	return func(r *Runtime) { r.selectors = append(r.selectors, selectors...) }
}

// WithChains registers chains before the configured ones are built.
// A configured chain with the same name replaces the one given here, and
// selector.default_chain may name any of them.
func WithChains(chains ...*selector.Chain) Option {
	return func(r *Runtime) { r.chains = append(r.chains, chains...) }
}

// WithClock sets the time source for the cache, records and alerts.
func WithClock(clock timestamp.Clock) Option {
	return func(r *Runtime) { r.clock = timestamp.OrSystem(clock) }
}
