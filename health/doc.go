// Package health models the health of registered extensions.
//
// A Status is healthy, degraded or unhealthy. The monitoring pipeline's alert
// handler derives one Status per extension id from its invocation statistics
// and stores it in a Monitor; AggregateHealth rolls those up into the
// runtime-wide view, taking the worst state:
//
//	m := health.NewMonitor()
//	m.Update("OrderProcessor#mall", health.NewDegraded("", "p99 latency above 250ms"))
//	overall := m.AggregateHealth("flexpoint") // degraded
//
// Messages built from errors should pass through Sanitize so addresses and
// credentials never reach a health endpoint.
package health
