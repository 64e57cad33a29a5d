package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "flexpoint"

// Metrics contains the runtime-level metrics shared by every flexpoint component
type Metrics struct {
	// Resolution
	Resolutions        *prometheus.CounterVec
	ResolutionDuration *prometheus.HistogramVec
	SelectorDuration   *prometheus.HistogramVec

	// Registry
	RegisteredExtensions *prometheus.GaugeVec

	// Invocation
	Invocations        *prometheus.CounterVec
	InvocationDuration *prometheus.HistogramVec
	Exceptions         *prometheus.CounterVec

	// Events and alerts
	EventsPublished  *prometheus.CounterVec
	SubscriberErrors *prometheus.CounterVec
	Alerts           *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all runtime metrics
func NewMetrics() *Metrics {
	return &Metrics{
		Resolutions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "resolution",
				Name:      "total",
				Help:      "Total number of capability resolutions by outcome (hit, resolved, empty, error)",
			},
			[]string{"capability", "outcome"},
		),

		ResolutionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "resolution",
				Name:      "duration_seconds",
				Help:      "Time spent resolving a capability to an implementation",
				Buckets:   []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
			},
			[]string{"capability"},
		),

		SelectorDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "selector",
				Name:      "duration_seconds",
				Help:      "Time spent inside a single selector of a chain",
				Buckets:   []float64{0.000001, 0.00001, 0.0001, 0.001, 0.01},
			},
			[]string{"chain", "selector"},
		),

		RegisteredExtensions: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "registry",
				Name:      "extensions",
				Help:      "Number of registered implementations per capability",
			},
			[]string{"capability"},
		),

		Invocations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "invocation",
				Name:      "total",
				Help:      "Total number of recorded invocations by status",
			},
			[]string{"extension", "status"},
		),

		InvocationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "invocation",
				Name:      "duration_seconds",
				Help:      "Recorded invocation duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"extension"},
		),

		Exceptions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "invocation",
				Name:      "exceptions_total",
				Help:      "Total number of recorded invocation exceptions",
			},
			[]string{"extension"},
		),

		EventsPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "events",
				Name:      "published_total",
				Help:      "Total number of events published on the bus",
			},
			[]string{"type"},
		),

		SubscriberErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "events",
				Name:      "subscriber_errors_total",
				Help:      "Total number of subscriber failures (errors and recovered panics)",
			},
			[]string{"subscriber"},
		),

		Alerts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "monitor",
				Name:      "alerts_total",
				Help:      "Total number of alerts raised by alert strategies",
			},
			[]string{"extension", "strategy"},
		),
	}
}

func (c *Metrics) mustRegister(reg prometheus.Registerer) {
	reg.MustRegister(
		c.Resolutions,
		c.ResolutionDuration,
		c.SelectorDuration,
		c.RegisteredExtensions,
		c.Invocations,
		c.InvocationDuration,
		c.Exceptions,
		c.EventsPublished,
		c.SubscriberErrors,
		c.Alerts,
	)
}

// RecordResolution counts a resolution and observes its duration
func (c *Metrics) RecordResolution(capability, outcome string, duration time.Duration) {
	c.Resolutions.WithLabelValues(capability, outcome).Inc()
	c.ResolutionDuration.WithLabelValues(capability).Observe(duration.Seconds())
}

// RecordSelector observes the time one selector spent inside a chain
func (c *Metrics) RecordSelector(chain, selector string, duration time.Duration) {
	c.SelectorDuration.WithLabelValues(chain, selector).Observe(duration.Seconds())
}

// RecordRegisteredExtensions sets the registered implementation count for a capability
func (c *Metrics) RecordRegisteredExtensions(capability string, count int) {
	c.RegisteredExtensions.WithLabelValues(capability).Set(float64(count))
}

// RecordInvocation counts an invocation and observes its duration
func (c *Metrics) RecordInvocation(extension string, success bool, duration time.Duration) {
	status := "success"
	if !success {
		status = "fail"
	}
	c.Invocations.WithLabelValues(extension, status).Inc()
	c.InvocationDuration.WithLabelValues(extension).Observe(duration.Seconds())
}

// RecordException increments the exception counter
func (c *Metrics) RecordException(extension string) {
	c.Exceptions.WithLabelValues(extension).Inc()
}

// RecordEventPublished increments the published event counter
func (c *Metrics) RecordEventPublished(eventType string) {
	c.EventsPublished.WithLabelValues(eventType).Inc()
}

// RecordSubscriberError increments the subscriber failure counter
func (c *Metrics) RecordSubscriberError(subscriber string) {
	c.SubscriberErrors.WithLabelValues(subscriber).Inc()
}

// RecordAlert increments the alert counter
func (c *Metrics) RecordAlert(extension, strategy string) {
	c.Alerts.WithLabelValues(extension, strategy).Inc()
}
