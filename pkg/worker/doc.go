// Package worker provides a generic bounded worker pool used for asynchronous
// monitoring and event dispatch.
//
// The pool keeps a fixed number of core workers reading from a bounded queue.
// When the queue is full it starts surge workers up to a maximum, each retiring
// after an idle keep-alive. Once both are exhausted, Submit returns
// ErrQueueFull and SubmitOrRun executes the item on the submitting goroutine
// instead, so saturation slows the producer down rather than losing work.
//
//	pool := worker.NewPool(4, 256, handle,
//	    worker.WithMaxWorkers[task](8),
//	    worker.WithKeepAlive[task](time.Minute),
//	    worker.WithMetricsRegistry[task](registry, "flexpoint_monitor_pool"),
//	)
//	if err := pool.Start(ctx); err != nil {
//	    return err
//	}
//	defer pool.Stop(5 * time.Second)
//
//	_ = pool.SubmitOrRun(task{...})
//
// Processors get no timeout from the pool. A processor that blocks holds its
// worker until it returns or the Start context is cancelled. Panics are
// recovered and counted as failures.
//
// Stop closes the queue and waits for workers to finish the remaining items.
package worker
