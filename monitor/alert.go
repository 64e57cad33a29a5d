package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/c360/flexpoint/event"
	"github.com/c360/flexpoint/health"
	"github.com/c360/flexpoint/metric"
	"github.com/c360/flexpoint/pkg/timestamp"
)

// Alert is raised when a strategy finds an extension's stats out of bounds.
type Alert struct {
	ExtensionID string
	Strategy    string
	State       string // health.StateDegraded or health.StateUnhealthy
	Message     string
	Stats       Stats
	Time        time.Time
}

// AlertStrategy inspects stats and reports a breach. Only State and Message
// of the returned Alert need to be set.
type AlertStrategy interface {
	Name() string
	Evaluate(s Stats) (Alert, bool)
}

type strategyFunc struct {
	name string
	fn   func(Stats) (Alert, bool)
}

func (s strategyFunc) Name() string                    { return s.name }
func (s strategyFunc) Evaluate(st Stats) (Alert, bool) { return s.fn(st) }

// StrategyFunc adapts fn to an AlertStrategy.
func StrategyFunc(name string, fn func(Stats) (Alert, bool)) AlertStrategy {
	return strategyFunc{name: name, fn: fn}
}

// SuccessRateBelow marks an extension unhealthy once at least minSamples
// invocations have a success rate under floor.
func SuccessRateBelow(floor float64, minSamples int64) AlertStrategy {
	return StrategyFunc("success-rate", func(s Stats) (Alert, bool) {
		if s.Total < max(minSamples, 1) || s.SuccessRate >= floor {
			return Alert{}, false
		}
		return Alert{
			State:   health.StateUnhealthy,
			Message: fmt.Sprintf("success rate %.2f below %.2f over %d calls", s.SuccessRate, floor, s.Total),
		}, true
	})
}

// AverageLatencyAbove marks an extension degraded when its mean latency
// exceeds ceiling.
func AverageLatencyAbove(ceiling time.Duration, minSamples int64) AlertStrategy {
	return StrategyFunc("avg-latency", func(s Stats) (Alert, bool) {
		if s.Total < max(minSamples, 1) || s.AverageDuration <= ceiling {
			return Alert{}, false
		}
		return Alert{
			State:   health.StateDegraded,
			Message: fmt.Sprintf("average latency %s above %s", s.AverageDuration, ceiling),
		}, true
	})
}

// P99LatencyAbove marks an extension degraded when its p99 latency exceeds ceiling.
func P99LatencyAbove(ceiling time.Duration, minSamples int64) AlertStrategy {
	return StrategyFunc("p99-latency", func(s Stats) (Alert, bool) {
		if s.Total < max(minSamples, 1) || s.P99 <= ceiling {
			return Alert{}, false
		}
		return Alert{
			State:   health.StateDegraded,
			Message: fmt.Sprintf("p99 latency %s above %s", s.P99, ceiling),
		}, true
	})
}

// ExceptionsAtLeast marks an extension unhealthy once it has raised limit exceptions.
func ExceptionsAtLeast(limit int64) AlertStrategy {
	return StrategyFunc("exceptions", func(s Stats) (Alert, bool) {
		if limit <= 0 || s.Exceptions < limit {
			return Alert{}, false
		}
		msg := fmt.Sprintf("%d exceptions", s.Exceptions)
		if s.LastError != "" {
			msg += ", last: " + health.Sanitize(s.LastError)
		}
		return Alert{State: health.StateUnhealthy, Message: msg}, true
	})
}

// DefaultAlertStrategies is the set the runtime installs when none are configured.
func DefaultAlertStrategies() []AlertStrategy {
	return []AlertStrategy{
		SuccessRateBelow(0.9, 20),
		P99LatencyAbove(time.Second, 20),
		ExceptionsAtLeast(10),
	}
}

// AlertOption configures an AlertHandler.
type AlertOption func(*AlertHandler)

// WithAlertPublisher publishes an alert.raised event per notified alert.
func WithAlertPublisher(publisher event.Publisher) AlertOption {
	return func(h *AlertHandler) { h.publisher = publisher }
}

// WithAlertMetrics counts notified alerts in Prometheus.
func WithAlertMetrics(metrics *metric.Metrics) AlertOption {
	return func(h *AlertHandler) { h.metrics = metrics }
}

// WithAlertLogger sets the logger.
func WithAlertLogger(logger *slog.Logger) AlertOption {
	return func(h *AlertHandler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithAlertThrottle allows burst notifications per extension and strategy,
// refilled once per interval.
func WithAlertThrottle(interval time.Duration, burst int) AlertOption {
	return func(h *AlertHandler) {
		if interval > 0 && burst > 0 {
			h.interval = interval
			h.burst = burst
		}
	}
}

// WithAlertNotifier calls fn for every notified alert.
func WithAlertNotifier(fn func(Alert)) AlertOption {
	return func(h *AlertHandler) { h.notify = fn }
}

// WithAlertClock sets the time source for alerts and throttling.
func WithAlertClock(clock timestamp.Clock) AlertOption {
	return func(h *AlertHandler) { h.clock = timestamp.OrSystem(clock) }
}

// WithHealthMonitor stores derived statuses in monitor instead of a private one.
func WithHealthMonitor(monitor *health.Monitor) AlertOption {
	return func(h *AlertHandler) {
		if monitor != nil {
			h.health = monitor
		}
	}
}

// AlertHandler evaluates strategies after every observation, keeps a health
// status per extension and notifies breaches. Notifications are throttled
// per extension and strategy; the health status is always current.
type AlertHandler struct {
	strategies []AlertStrategy
	health     *health.Monitor
	publisher  event.Publisher
	metrics    *metric.Metrics
	logger     *slog.Logger
	notify     func(Alert)
	clock      timestamp.Clock
	interval   time.Duration
	burst      int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter

	raised     atomic.Int64
	suppressed atomic.Int64
}

// NewAlertHandler creates an AlertHandler. By default a breach is notified at
// most once per minute per extension and strategy.
func NewAlertHandler(strategies []AlertStrategy, opts ...AlertOption) *AlertHandler {
	h := &AlertHandler{
		strategies: strategies,
		health:     health.NewMonitor(),
		logger:     slog.Default(),
		clock:      timestamp.System,
		interval:   time.Minute,
		burst:      1,
		limiters:   make(map[string]*rate.Limiter),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = h.logger.With("component", "alert")
	return h
}

func (h *AlertHandler) Name() string { return "alert" }

func (h *AlertHandler) OnInvocation(ctx context.Context, inv Invocation, rec *Record) error {
	h.evaluate(ctx, inv.ID, rec.Snapshot())
	return nil
}

func (h *AlertHandler) OnException(ctx context.Context, exc Exception, rec *Record) error {
	h.evaluate(ctx, exc.ID, rec.Snapshot())
	return nil
}

func (h *AlertHandler) evaluate(ctx context.Context, id string, stats Stats) {
	now := h.clock.Now()
	state := health.StateHealthy
	var alerts []Alert
	var messages []string

	for _, s := range h.strategies {
		alert, breached := s.Evaluate(stats)
		if !breached {
			continue
		}
		alert.ExtensionID = id
		alert.Strategy = s.Name()
		alert.Stats = stats
		alert.Time = now
		alerts = append(alerts, alert)
		messages = append(messages, alert.Message)
		state = health.Worse(state, alert.State)
	}

	message := "within bounds"
	if len(messages) > 0 {
		message = strings.Join(messages, "; ")
	}
	status := health.New(id, state, message).WithMetrics(stats.HealthMetrics())
	status.Timestamp = now
	if h.health.Update(id, status) {
		h.logger.Info("Extension health changed", "extension", id, "status", state)
	}

	for _, alert := range alerts {
		if !h.allow(id, alert.Strategy, now) {
			h.suppressed.Add(1)
			continue
		}
		h.raise(ctx, alert)
	}
}

func (h *AlertHandler) allow(id, strategy string, now time.Time) bool {
	key := id + "/" + strategy
	h.mu.Lock()
	lim, ok := h.limiters[key]
	if !ok {
		lim = rate.NewLimiter(rate.Every(h.interval), h.burst)
		h.limiters[key] = lim
	}
	h.mu.Unlock()
	return lim.AllowN(now, 1)
}

func (h *AlertHandler) raise(ctx context.Context, alert Alert) {
	h.raised.Add(1)
	h.logger.Warn("Alert raised",
		"extension", alert.ExtensionID, "strategy", alert.Strategy,
		"status", alert.State, "message", alert.Message)

	if h.metrics != nil {
		h.metrics.RecordAlert(alert.ExtensionID, alert.Strategy)
	}
	if h.publisher != nil {
		h.publisher.PublishAsync(ctx, event.New(event.TypeAlertRaised,
			event.WithExtensionID(alert.ExtensionID),
			event.WithTimestamp(alert.Time),
			event.WithAttribute("strategy", alert.Strategy),
			event.WithAttribute("status", alert.State),
			event.WithAttribute("message", alert.Message),
		))
	}
	if h.notify != nil {
		h.notify(alert)
	}
}

// Status returns the latest derived status of id.
func (h *AlertHandler) Status(id string) (health.Status, bool) {
	return h.health.Get(id)
}

// Health aggregates every extension status under system.
func (h *AlertHandler) Health(system string) health.Status {
	return h.health.AggregateHealth(system)
}

// Forget drops the status and throttles of id, typically after a metrics reset.
func (h *AlertHandler) Forget(id string) {
	h.health.Remove(id)
	prefix := id + "/"
	h.mu.Lock()
	defer h.mu.Unlock()
	for key := range h.limiters {
		if strings.HasPrefix(key, prefix) {
			delete(h.limiters, key)
		}
	}
}

// Counts returns how many alerts were notified and how many were throttled.
func (h *AlertHandler) Counts() (raised, suppressed int64) {
	return h.raised.Load(), h.suppressed.Load()
}
