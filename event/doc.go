// Package event provides the runtime's event bus.
//
// Events record registry lifecycle changes, invocation outcomes and alerts.
// A Bus routes each published event to the subscribers whose filter accepts
// it, skips disabled ones, and dispatches the rest in ascending priority.
// Synchronous subscribers run on the publisher's goroutine; asynchronous ones
// run on a shared bounded worker pool and fall back to the publisher's
// goroutine when the pool is saturated. Ordering between asynchronous
// subscribers, or between an asynchronous and a synchronous one, is not
// guaranteed.
//
//	bus := event.NewBus(event.Config{Workers: 4, QueueSize: 1024})
//	defer bus.Shutdown(5 * time.Second)
//
//	_ = bus.Subscribe(event.NewSubscriber("failures", onFailure,
//	    event.WithTypes(event.TypeInvokeFail, event.TypeInvokeException),
//	    event.WithAsync(true),
//	))
//
//	bus.Publish(ctx, event.New(event.TypeInvokeFail, event.WithExtensionID(id)))
//
// Subscribers get no timeout. A slow subscriber stalls only the goroutine it
// runs on. Errors and panics are recovered, counted and logged.
//
// After Shutdown every Publish is a logged no-op.
package event
