package event

import (
	"context"
	"sync"
)

// Handle tracks an asynchronous publish.
type Handle struct {
	done chan struct{}
	once sync.Once
}

func newHandle() *Handle {
	return &Handle{done: make(chan struct{})}
}

func (h *Handle) complete() {
	h.once.Do(func() { close(h.done) })
}

// Done is closed once the synchronous subscribers of the publish have run.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the publish completes or ctx ends.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
