package collector

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/flexpoint/metric"
	"github.com/c360/flexpoint/monitor"
)

// StatsSource provides per-extension stats. *monitor.Store satisfies it.
type StatsSource interface {
	All() map[string]monitor.Stats
}

// StatsFunc adapts a function such as (*dispatch.Runtime).AllMetrics.
type StatsFunc func() map[string]monitor.Stats

// All implements StatsSource.
func (f StatsFunc) All() map[string]monitor.Stats { return f() }

// Prometheus exposes the monitoring store at scrape time: derived figures
// such as success rate and latency quantiles, one series per extension.
type Prometheus struct {
	source StatsSource

	total       *prometheus.Desc
	exceptions  *prometheus.Desc
	successRate *prometheus.Desc
	latency     *prometheus.Desc
	qps         *prometheus.Desc
}

// NewPrometheus creates a scrape-time collector over source.
func NewPrometheus(source StatsSource) *Prometheus {
	labels := []string{"extension"}
	return &Prometheus{
		source: source,
		total: prometheus.NewDesc("flexpoint_extension_invocations",
			"Invocations recorded since the last reset", append(labels, "outcome"), nil),
		exceptions: prometheus.NewDesc("flexpoint_extension_exceptions",
			"Exceptions recorded since the last reset", labels, nil),
		successRate: prometheus.NewDesc("flexpoint_extension_success_rate",
			"Successful invocations divided by all invocations", labels, nil),
		latency: prometheus.NewDesc("flexpoint_extension_latency_seconds",
			"Invocation latency by statistic (avg, min, max, p95, p99)", append(labels, "stat"), nil),
		qps: prometheus.NewDesc("flexpoint_extension_qps",
			"Invocations per second since the record was created", labels, nil),
	}
}

// Register adds the collector to registry under component "monitor".
func (p *Prometheus) Register(registry *metric.MetricsRegistry) error {
	return registry.RegisterCollector("monitor", "extension_stats", p)
}

// Describe implements prometheus.Collector.
func (p *Prometheus) Describe(ch chan<- *prometheus.Desc) {
	ch <- p.total
	ch <- p.exceptions
	ch <- p.successRate
	ch <- p.latency
	ch <- p.qps
}

// Collect implements prometheus.Collector.
func (p *Prometheus) Collect(ch chan<- prometheus.Metric) {
	for id, s := range p.source.All() {
		ch <- prometheus.MustNewConstMetric(p.total, prometheus.GaugeValue, float64(s.Success), id, "success")
		ch <- prometheus.MustNewConstMetric(p.total, prometheus.GaugeValue, float64(s.Failure), id, "fail")
		ch <- prometheus.MustNewConstMetric(p.exceptions, prometheus.GaugeValue, float64(s.Exceptions), id)
		ch <- prometheus.MustNewConstMetric(p.successRate, prometheus.GaugeValue, s.SuccessRate, id)
		ch <- prometheus.MustNewConstMetric(p.qps, prometheus.GaugeValue, s.QPS, id)

		for stat, d := range map[string]float64{
			"avg": s.AverageDuration.Seconds(),
			"min": s.MinDuration.Seconds(),
			"max": s.MaxDuration.Seconds(),
			"p95": s.P95.Seconds(),
			"p99": s.P99.Seconds(),
		} {
			ch <- prometheus.MustNewConstMetric(p.latency, prometheus.GaugeValue, d, id, stat)
		}
	}
}
