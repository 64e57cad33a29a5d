package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/c360/flexpoint/errors"
	"github.com/c360/flexpoint/event"
	"github.com/c360/flexpoint/metric"
	"github.com/c360/flexpoint/pkg/retry"
)

// Invocation describes one completed call of an extension.
type Invocation struct {
	ID         string
	Capability string
	Code       string
	Duration   time.Duration
	Success    bool
	Time       time.Time
}

// Exception describes an error or panic escaping an extension.
type Exception struct {
	ID         string
	Capability string
	Code       string
	Err        error
	Time       time.Time
}

// Handler is one link of the monitoring chain. It receives the live record
// of the extension involved; handlers after StoreHandler see it updated.
// Errors and panics are logged by the pipeline and never stop later handlers.
type Handler interface {
	Name() string
	OnInvocation(ctx context.Context, inv Invocation, rec *Record) error
	OnException(ctx context.Context, exc Exception, rec *Record) error
}

// HandlerFuncs builds a Handler from functions. Nil functions are no-ops.
type HandlerFuncs struct {
	Label      string
	Invocation func(ctx context.Context, inv Invocation, rec *Record) error
	Exception  func(ctx context.Context, exc Exception, rec *Record) error
}

func (h HandlerFuncs) Name() string { return h.Label }

func (h HandlerFuncs) OnInvocation(ctx context.Context, inv Invocation, rec *Record) error {
	if h.Invocation == nil {
		return nil
	}
	return h.Invocation(ctx, inv, rec)
}

func (h HandlerFuncs) OnException(ctx context.Context, exc Exception, rec *Record) error {
	if h.Exception == nil {
		return nil
	}
	return h.Exception(ctx, exc, rec)
}

// StoreHandler folds invocations and exceptions into the record.
type StoreHandler struct{}

func (StoreHandler) Name() string { return "store" }

func (StoreHandler) OnInvocation(_ context.Context, inv Invocation, rec *Record) error {
	rec.Observe(inv.Duration, inv.Success)
	return nil
}

func (StoreHandler) OnException(_ context.Context, exc Exception, rec *Record) error {
	rec.Exception(exc.Err)
	return nil
}

// MetricsHandler mirrors invocations into the Prometheus runtime metrics.
type MetricsHandler struct {
	metrics *metric.Metrics
}

// NewMetricsHandler creates a MetricsHandler.
func NewMetricsHandler(metrics *metric.Metrics) *MetricsHandler {
	return &MetricsHandler{metrics: metrics}
}

func (h *MetricsHandler) Name() string { return "metrics" }

func (h *MetricsHandler) OnInvocation(_ context.Context, inv Invocation, _ *Record) error {
	if h.metrics != nil {
		h.metrics.RecordInvocation(inv.ID, inv.Success, inv.Duration)
	}
	return nil
}

func (h *MetricsHandler) OnException(_ context.Context, exc Exception, _ *Record) error {
	if h.metrics != nil {
		h.metrics.RecordException(exc.ID)
	}
	return nil
}

// EventHandler publishes invoke.success, invoke.fail and invoke.exception events.
type EventHandler struct {
	publisher event.Publisher
}

// NewEventHandler creates an EventHandler.
func NewEventHandler(publisher event.Publisher) *EventHandler {
	return &EventHandler{publisher: publisher}
}

func (h *EventHandler) Name() string { return "event" }

func (h *EventHandler) OnInvocation(ctx context.Context, inv Invocation, _ *Record) error {
	t := event.TypeInvokeSuccess
	if !inv.Success {
		t = event.TypeInvokeFail
	}
	h.publisher.PublishAsync(ctx, event.New(t,
		event.WithExtensionID(inv.ID),
		event.WithCapability(inv.Capability),
		event.WithCode(inv.Code),
		event.WithDuration(inv.Duration),
		event.WithTimestamp(inv.Time),
	))
	return nil
}

func (h *EventHandler) OnException(ctx context.Context, exc Exception, _ *Record) error {
	h.publisher.PublishAsync(ctx, event.New(event.TypeInvokeException,
		event.WithExtensionID(exc.ID),
		event.WithCapability(exc.Capability),
		event.WithCode(exc.Code),
		event.WithError(exc.Err),
		event.WithTimestamp(exc.Time),
	))
	return nil
}

// ReportKind distinguishes forwarded reports.
type ReportKind string

// Report kinds.
const (
	ReportInvocation ReportKind = "invocation"
	ReportException  ReportKind = "exception"
)

// Report is what a Collector receives for every observation.
type Report struct {
	Kind        ReportKind    `json:"kind"`
	ExtensionID string        `json:"extension_id"`
	Capability  string        `json:"capability,omitempty"`
	Code        string        `json:"code,omitempty"`
	Duration    time.Duration `json:"duration_ns,omitempty"`
	Success     bool          `json:"success"`
	Error       string        `json:"error,omitempty"`
	Time        time.Time     `json:"time"`
	Stats       Stats         `json:"stats"`
}

// Collector forwards reports to an external system.
type Collector interface {
	Name() string
	Collect(ctx context.Context, r Report) error
}

// CollectorHandler forwards every observation to a Collector, retrying
// transient failures with backoff.
type CollectorHandler struct {
	collector Collector
	retry     retry.Config
}

// NewCollectorHandler creates a CollectorHandler. Only errors classified as
// transient are retried.
func NewCollectorHandler(c Collector, cfg retry.Config) *CollectorHandler {
	if cfg.Retryable == nil {
		cfg.Retryable = errors.IsTransient
	}
	return &CollectorHandler{collector: c, retry: cfg}
}

func (h *CollectorHandler) Name() string { return "collector:" + h.collector.Name() }

func (h *CollectorHandler) OnInvocation(ctx context.Context, inv Invocation, rec *Record) error {
	return h.forward(ctx, Report{
		Kind:        ReportInvocation,
		ExtensionID: inv.ID,
		Capability:  inv.Capability,
		Code:        inv.Code,
		Duration:    inv.Duration,
		Success:     inv.Success,
		Time:        inv.Time,
		Stats:       rec.Snapshot(),
	})
}

func (h *CollectorHandler) OnException(ctx context.Context, exc Exception, rec *Record) error {
	r := Report{
		Kind:        ReportException,
		ExtensionID: exc.ID,
		Capability:  exc.Capability,
		Code:        exc.Code,
		Time:        exc.Time,
		Stats:       rec.Snapshot(),
	}
	if exc.Err != nil {
		r.Error = exc.Err.Error()
	}
	return h.forward(ctx, r)
}

func (h *CollectorHandler) forward(ctx context.Context, r Report) error {
	err := retry.Do(ctx, h.retry, func() error {
		return h.collector.Collect(ctx, r)
	})
	if err != nil {
		return errors.WrapTransient(fmt.Errorf("%s: %w", h.collector.Name(), err),
			"CollectorHandler", "forward", "collect report")
	}
	return nil
}
