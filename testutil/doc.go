// Package testutil provides test doubles shared by flexpoint's package tests.
//
// MockPublisher stands in for a NATS connection: it records core and
// JetStream publishes, delivers to subject handlers and can inject failures
// with FailNext. RecordingCollector is a monitor.Collector that keeps every
// report for later assertions.
//
// Nothing here needs a running NATS server.
package testutil
