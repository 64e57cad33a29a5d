// Package monitor records how registered extensions behave once invoked.
//
// A Store keeps one Record per extension id. Records hold lock-free counters
// (total, success, failure, exceptions, cumulative/min/max latency) and a
// streaming quantile estimator for p95 and p99 latency.
//
// Observations flow through a Pipeline: an ordered chain of Handlers that
// each receive the extension's live Record. The usual chain is
//
//	StoreHandler -> MetricsHandler -> AlertHandler -> EventHandler -> CollectorHandler
//
// A handler that errors or panics is logged and skipped; later handlers still
// run and the caller never sees the failure. In async mode the chain runs on
// a worker pool, and a saturated pool runs the observation on the caller
// instead of dropping it.
//
// AlertHandler turns stats into a health.Status per extension and notifies
// breaches of its AlertStrategy set, throttled per extension and strategy.
package monitor
