// Package flexpoint is an in-process runtime for capability dispatch: many
// implementations of one interface are registered, and each call picks the
// right one for the calling context.
//
// # Model
//
// A capability is a Go interface type. An extension is one implementation
// of a capability, tagged with a business code, a priority, a version and
// free-form attributes. Callers describe who they are with an
// extension.Context (business code, tenant, user, attributes) and ask the
// runtime to find the extension that fits.
//
// # Architecture
//
//	┌─────────────────────────────────────┐
//	│          dispatch.Runtime           │  Find, Call, Invoke
//	│   (facade, lifecycle, statistics)   │  Health, Shutdown
//	└─────────────────────────────────────┘
//	      ↓ resolves via          ↓ observes via
//	┌──────────────────┐   ┌───────────────────────┐
//	│ registry         │   │ monitor.Pipeline      │
//	│ selector chains  │   │  store → metrics →    │
//	│ decision cache   │   │  alert → event →      │
//	└──────────────────┘   │  collectors           │
//	                       └───────────────────────┘
//	      ↓ announces              ↓ forwards
//	┌──────────────────┐   ┌───────────────────────┐
//	│ event.Bus        │   │ log, Prometheus, NATS │
//	└──────────────────┘   └───────────────────────┘
//
// Resolution runs the candidates of a capability through a named selector
// chain (code match, tenant, grey list, priority and so on). Decisions are
// cached per chain and context with a TTL and are invalidated whenever the
// candidate set or the chains change.
//
// Every invocation made through dispatch.Call or dispatch.Invoke is timed
// and recorded. Statistics (success rate, latency quantiles, QPS) feed
// alert strategies, the health report, Prometheus and optional report
// forwarding over NATS.
//
// # Packages
//
//   - extension: capability, extension and context types
//   - registry: concurrent capability registry
//   - selector: selector strategies and chains
//   - decision: TTL decision cache
//   - monitor: metrics store, handlers, alerts and the pipeline
//   - event: lifecycle event bus
//   - collector: report sinks (log, NATS, Prometheus)
//   - dispatch: the facade tying it all together
//   - config: layered YAML/JSON configuration with schema validation
//
// See cmd/flexpoint for a runnable demo.
package flexpoint
