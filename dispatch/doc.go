// Package dispatch is the entry point of flexpoint: a Runtime that picks,
// at call time, which registered implementation of a capability serves a
// request.
//
// A capability is a Go interface. Implementations are registered as
// extensions carrying a business code, a version, tags and a priority:
//
//	rt, err := dispatch.New(config.Default())
//	op := extension.CapabilityOf[OrderProcessor]()
//	_ = rt.Register(op, extension.New(mall{}, extension.WithCode("mall"), extension.WithPriority(10)))
//	_ = rt.Register(op, extension.New(logistics{}, extension.WithCode("logistics"), extension.WithPriority(20)))
//
//	ext, err := rt.Find(op, extension.NewContext("logistics"))
//
// Find consults the decision cache, then runs the registry's enabled
// candidates through a selector chain and caches the result. Lookups that
// match nothing return nil; FindRequired turns that into
// errors.ErrCapabilityNotFound.
//
// Invoke and Call time a call and feed the monitoring pipeline, which keeps
// per-extension statistics, evaluates alert strategies into health statuses,
// publishes invoke.* events and forwards reports to collectors.
//
// Selectors and event subscribers run without timeouts. A slow one stalls
// only the goroutine running it.
//
// With config.Enabled false, registration and lookup are no-ops.
package dispatch
