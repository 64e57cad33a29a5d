// Package metric provides Prometheus-based metrics and an HTTP exposition
// server for the flexpoint runtime.
//
// The registry owns a private prometheus.Registry with the runtime metrics
// (Metrics type) and the Go process collectors pre-registered. Components may
// register further collectors through the MetricsRegistrar interface; the
// Prometheus collector in package collector uses it to export per-extension
// monitoring records.
//
// # Basic Usage
//
//	registry := metric.NewMetricsRegistry()
//	server := metric.NewServer(9090, "/metrics", registry)
//
//	go func() {
//	    if err := server.Start(); err != nil {
//	        slog.Error("metrics server", "error", err)
//	    }
//	}()
//
//	registry.CoreMetrics().RecordInvocation("order#JD", true, 12*time.Millisecond)
//
// Duplicate registrations are rejected with an invalid-class error so that a
// misconfigured component fails loudly instead of silently sharing a series.
package metric
