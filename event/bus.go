package event

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/flexpoint/errors"
	"github.com/c360/flexpoint/metric"
	"github.com/c360/flexpoint/pkg/buffer"
	"github.com/c360/flexpoint/pkg/worker"
)

const (
	// DefaultHistorySize is the number of recent events retained for History.
	DefaultHistorySize = 256

	// DefaultWorkers is the number of async dispatch workers.
	DefaultWorkers = 4

	// DefaultQueueSize bounds pending async dispatches.
	DefaultQueueSize = 1024
)

// Publisher is the publishing side of the bus, as consumed by components
// that emit events.
type Publisher interface {
	Publish(ctx context.Context, e Event)
	PublishAsync(ctx context.Context, e Event) *Handle
}

// Config sizes the bus.
type Config struct {
	Workers     int
	QueueSize   int
	HistorySize int
}

// BusOption configures a Bus.
type BusOption func(*Bus)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) BusOption {
	return func(b *Bus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithRouter replaces the default FilterRouter.
func WithRouter(router Router) BusOption {
	return func(b *Bus) {
		if router != nil {
			b.router = router
		}
	}
}

// WithMetricsRegistry exports bus and worker pool metrics.
func WithMetricsRegistry(registry *metric.MetricsRegistry) BusOption {
	return func(b *Bus) { b.registry = registry }
}

type task func(ctx context.Context)

type subscription struct {
	sub      Subscriber
	priority int
	seq      uint64
}

// Bus is an in-process publish/subscribe fabric.
//
// Synchronous subscribers run on the publishing goroutine in ascending
// priority, ties broken by subscription order. Asynchronous subscribers are
// handed to a bounded worker pool; when it is saturated they run inline.
// Subscriber errors and panics are logged and never reach the publisher.
// No timeout is imposed on subscribers.
type Bus struct {
	logger   *slog.Logger
	router   Router
	registry *metric.MetricsRegistry
	metrics  *metric.Metrics

	mu       sync.Mutex // serializes subscription changes
	subs     atomic.Pointer[[]subscription]
	seq      uint64
	pool     *worker.Pool[task]
	cancel   context.CancelFunc
	history  *buffer.Circular[Event]
	closed   atomic.Bool
	shutdown sync.Once

	published atomic.Int64
	delivered atomic.Int64
	failed    atomic.Int64
	rejected  atomic.Int64
}

// NewBus creates and starts a bus.
func NewBus(cfg Config, opts ...BusOption) *Bus {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = DefaultHistorySize
	}

	b := &Bus{
		logger:  slog.Default(),
		router:  FilterRouter{},
		history: buffer.NewCircular[Event](cfg.HistorySize),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With("component", "event-bus")
	b.subs.Store(&[]subscription{})

	var poolOpts []worker.Option[task]
	if b.registry != nil {
		b.metrics = b.registry.CoreMetrics()
		poolOpts = append(poolOpts, worker.WithMetricsRegistry[task](b.registry, "flexpoint_event_pool"))
	}
	b.pool = worker.NewPool(cfg.Workers, cfg.QueueSize, func(ctx context.Context, t task) error {
		t(ctx)
		return nil
	}, poolOpts...)

	ctx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	// A fresh pool cannot fail to start.
	_ = b.pool.Start(ctx)

	return b
}

// Subscribe adds a subscriber. Names must be unique.
func (b *Bus) Subscribe(s Subscriber) error {
	if s == nil {
		return errors.WrapInvalid(fmt.Errorf("nil subscriber"), "Bus", "Subscribe", "validate subscriber")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	current := *b.subs.Load()
	for _, existing := range current {
		if existing.sub.Name() == s.Name() {
			return errors.WrapInvalid(
				fmt.Errorf("subscriber %q already registered", s.Name()),
				"Bus", "Subscribe", "duplicate subscriber")
		}
	}

	b.seq++
	next := append(slices.Clone(current), subscription{sub: s, priority: priorityOf(s), seq: b.seq})
	slices.SortStableFunc(next, func(x, y subscription) int {
		if c := cmp.Compare(x.priority, y.priority); c != 0 {
			return c
		}
		return cmp.Compare(x.seq, y.seq)
	})
	b.subs.Store(&next)

	b.logger.Debug("Subscriber added", "subscriber", s.Name(), "priority", priorityOf(s), "async", isAsync(s))
	return nil
}

// Unsubscribe removes the subscriber with the given name.
func (b *Bus) Unsubscribe(name string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	current := *b.subs.Load()
	idx := slices.IndexFunc(current, func(s subscription) bool { return s.sub.Name() == name })
	if idx < 0 {
		return false
	}
	next := slices.Delete(slices.Clone(current), idx, idx+1)
	b.subs.Store(&next)
	return true
}

// Subscribers returns the subscribers in dispatch order.
func (b *Bus) Subscribers() []Subscriber {
	current := *b.subs.Load()
	out := make([]Subscriber, len(current))
	for i, s := range current {
		out[i] = s.sub
	}
	return out
}

// Publish dispatches e to every routed, enabled subscriber. It returns once
// the synchronous subscribers have run. After Shutdown it is a logged no-op.
func (b *Bus) Publish(ctx context.Context, e Event) {
	if b.closed.Load() {
		b.rejected.Add(1)
		b.logger.Debug("Event bus shut down, event dropped", "type", e.Type, "event_id", e.ID)
		return
	}

	b.published.Add(1)
	b.history.Write(e)
	if b.metrics != nil {
		b.metrics.RecordEventPublished(string(e.Type))
	}

	for _, s := range b.router.Route(e, b.Subscribers()) {
		if !isEnabled(s) {
			continue
		}
		if !isAsync(s) {
			b.deliver(ctx, s, e)
			continue
		}

		detached := context.WithoutCancel(ctx)
		err := b.pool.SubmitOrRun(func(context.Context) { b.deliver(detached, s, e) })
		if err != nil {
			// Pool stopped between the closed check and submission.
			b.deliver(detached, s, e)
		}
	}
}

// PublishAsync publishes e on the worker pool and returns a handle that
// completes once every synchronous subscriber has run. When the pool is
// saturated the publish runs inline and the handle is already complete.
func (b *Bus) PublishAsync(ctx context.Context, e Event) *Handle {
	h := newHandle()
	if b.closed.Load() {
		b.Publish(ctx, e)
		h.complete()
		return h
	}

	detached := context.WithoutCancel(ctx)
	err := b.pool.SubmitOrRun(func(context.Context) {
		defer h.complete()
		b.Publish(detached, e)
	})
	if err != nil {
		b.Publish(detached, e)
		h.complete()
	}
	return h
}

func (b *Bus) deliver(ctx context.Context, s Subscriber, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.fail(s, e, fmt.Errorf("subscriber panic: %v", r))
		}
	}()

	if err := s.Handle(ctx, e); err != nil {
		b.fail(s, e, err)
		return
	}
	b.delivered.Add(1)
}

func (b *Bus) fail(s Subscriber, e Event, err error) {
	b.failed.Add(1)
	if b.metrics != nil {
		b.metrics.RecordSubscriberError(s.Name())
	}
	b.logger.Warn("Subscriber failed", "subscriber", s.Name(), "type", e.Type, "event_id", e.ID, "error", err)
}

// History returns up to n of the most recent published events, oldest first.
func (b *Bus) History(n int) []Event {
	return b.history.Latest(n)
}

// Shutdown stops accepting events and drains pending async dispatches,
// waiting at most timeout.
func (b *Bus) Shutdown(timeout time.Duration) error {
	var err error
	b.shutdown.Do(func() {
		b.closed.Store(true)
		err = b.pool.Stop(timeout)
		b.cancel()
		b.logger.Info("Event bus shut down", "published", b.published.Load(), "failed", b.failed.Load())
	})
	if err != nil {
		return errors.WrapTransient(err, "Bus", "Shutdown", "drain async subscribers")
	}
	return nil
}

// Closed reports whether Shutdown has been called.
func (b *Bus) Closed() bool {
	return b.closed.Load()
}

// Stats is a snapshot of bus counters.
type Stats struct {
	Subscribers int              `json:"subscribers"`
	Published   int64            `json:"published"`
	Delivered   int64            `json:"delivered"`
	Failed      int64            `json:"failed"`
	Rejected    int64            `json:"rejected"`
	History     buffer.Stats     `json:"history"`
	Pool        worker.PoolStats `json:"pool"`
}

// Stats returns current bus counters.
func (b *Bus) Stats() Stats {
	return Stats{
		Subscribers: len(*b.subs.Load()),
		Published:   b.published.Load(),
		Delivered:   b.delivered.Load(),
		Failed:      b.failed.Load(),
		Rejected:    b.rejected.Load(),
		History:     b.history.Stats(),
		Pool:        b.pool.Stats(),
	}
}
