// Package collector forwards monitoring data out of the process.
//
// Log, NATS and any other monitor.Collector plug into the monitoring pipeline
// through monitor.NewCollectorHandler, which retries transient failures. The
// NATS collector publishes one JSON message per observation on
// "<prefix>.invocation" or "<prefix>.exception", optionally through JetStream.
//
// Prometheus is different: it is scraped rather than pushed, reading the
// monitor.Store whenever /metrics is served.
package collector
