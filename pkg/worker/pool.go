package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/flexpoint/metric"
)

// Pool is a bounded worker pool processing work items of type T.
//
// A fixed set of core workers drains the queue. When the queue is full the
// pool grows up to maxWorkers surge workers, each handed the rejected item
// directly and retired after keepAlive of idleness. Submit reports
// ErrQueueFull once both the queue and the surge capacity are exhausted;
// SubmitOrRun instead runs the item on the calling goroutine.
type Pool[T any] struct {
	// Configuration
	workers    int
	maxWorkers int
	keepAlive  time.Duration
	queueSize  int
	processor  func(context.Context, T) error

	// Runtime state
	workChan chan T
	ctx      context.Context
	live     atomic.Int32
	metrics  *Metrics
	wg       sync.WaitGroup

	// Lifecycle management
	lifecycleMu sync.Mutex
	started     bool
	stopped     bool

	// Statistics
	submitted  atomic.Int64
	processed  atomic.Int64
	failed     atomic.Int64
	dropped    atomic.Int64
	callerRuns atomic.Int64

	// Metrics configuration
	metricsRegistry *metric.MetricsRegistry
	metricsPrefix   string
}

// Metrics holds Prometheus metrics for worker pool monitoring
type Metrics struct {
	queueDepth     prometheus.Gauge
	liveWorkers    prometheus.Gauge
	submitted      prometheus.Counter
	processed      prometheus.Counter
	failed         prometheus.Counter
	dropped        prometheus.Counter
	callerRuns     prometheus.Counter
	processingTime *prometheus.HistogramVec
}

// Option represents a configuration option for the worker pool
type Option[T any] func(*Pool[T])

// WithMetricsRegistry configures the pool to register metrics with the framework's registry
func WithMetricsRegistry[T any](registry *metric.MetricsRegistry, prefix string) Option[T] {
	return func(p *Pool[T]) {
		p.metricsRegistry = registry
		p.metricsPrefix = prefix
	}
}

// WithMaxWorkers sets the upper bound of concurrently running workers.
// Values below the core worker count are ignored.
func WithMaxWorkers[T any](maxWorkers int) Option[T] {
	return func(p *Pool[T]) {
		if maxWorkers > p.workers {
			p.maxWorkers = maxWorkers
		}
	}
}

// WithKeepAlive sets how long a surge worker waits idle before exiting.
func WithKeepAlive[T any](keepAlive time.Duration) Option[T] {
	return func(p *Pool[T]) {
		if keepAlive > 0 {
			p.keepAlive = keepAlive
		}
	}
}

// NewPool creates a new generic worker pool with optional configuration
func NewPool[T any](workers, queueSize int, processor func(context.Context, T) error, opts ...Option[T]) *Pool[T] {
	if workers <= 0 {
		workers = 10 // Default worker count
	}
	if queueSize <= 0 {
		queueSize = 1000 // Default queue size
	}
	if processor == nil {
		panic(ErrNilProcessor)
	}

	pool := &Pool[T]{
		workers:    workers,
		maxWorkers: workers,
		keepAlive:  60 * time.Second,
		queueSize:  queueSize,
		processor:  processor,
		workChan:   make(chan T, queueSize),
	}

	for _, opt := range opts {
		opt(pool)
	}

	if pool.metricsRegistry != nil && pool.metricsPrefix != "" {
		if metrics, err := pool.newMetrics(); err == nil {
			pool.metrics = metrics
		}
	}

	return pool
}

// newMetrics creates and registers the pool metrics. A registration failure
// leaves the pool without Prometheus metrics; statistics are always kept.
func (p *Pool[T]) newMetrics() (*Metrics, error) {
	prefix := p.metricsPrefix
	m := &Metrics{
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: prefix + "_queue_depth",
			Help: "Current worker pool queue depth",
		}),
		liveWorkers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: prefix + "_workers",
			Help: "Number of running workers, core and surge",
		}),
		submitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: prefix + "_submitted_total",
			Help: "Total work items accepted by the pool",
		}),
		processed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: prefix + "_processed_total",
			Help: "Total work items processed",
		}),
		failed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: prefix + "_failed_total",
			Help: "Total work items that failed or panicked",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: prefix + "_rejected_total",
			Help: "Total work items rejected because the pool was saturated",
		}),
		callerRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: prefix + "_caller_runs_total",
			Help: "Total work items run on the submitting goroutine",
		}),
		processingTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    prefix + "_processing_duration_seconds",
			Help:    "Time spent processing work items",
			Buckets: []float64{0.0001, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		}, []string{"status"}),
	}

	const component = "worker_pool"
	reg := p.metricsRegistry
	for _, err := range []error{
		reg.RegisterGauge(component, prefix+"_queue_depth", m.queueDepth),
		reg.RegisterGauge(component, prefix+"_workers", m.liveWorkers),
		reg.RegisterCounter(component, prefix+"_submitted_total", m.submitted),
		reg.RegisterCounter(component, prefix+"_processed_total", m.processed),
		reg.RegisterCounter(component, prefix+"_failed_total", m.failed),
		reg.RegisterCounter(component, prefix+"_rejected_total", m.dropped),
		reg.RegisterCounter(component, prefix+"_caller_runs_total", m.callerRuns),
		reg.RegisterHistogramVec(component, prefix+"_processing_duration_seconds", m.processingTime),
	} {
		if err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Submit submits work to the pool without blocking. Returns ErrQueueFull when
// the queue is full and no surge worker can be started.
func (p *Pool[T]) Submit(work T) error {
	err := p.submit(work)
	if errors.Is(err, ErrQueueFull) {
		p.dropped.Add(1)
		if p.metrics != nil {
			p.metrics.dropped.Inc()
		}
	}
	return err
}

func (p *Pool[T]) submit(work T) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if !p.started {
		return ErrPoolNotStarted
	}
	if p.stopped {
		return ErrPoolStopped
	}

	select {
	case p.workChan <- work:
		p.accepted()
		return nil
	default:
	}

	if p.grow() {
		p.wg.Add(1)
		go p.surgeWorker(work)
		p.accepted()
		return nil
	}

	return ErrQueueFull
}

// SubmitOrRun submits work to the pool, running it on the calling goroutine
// when the pool is saturated. Work is never dropped while the pool is running.
func (p *Pool[T]) SubmitOrRun(work T) error {
	err := p.submit(work)
	if !errors.Is(err, ErrQueueFull) {
		return err
	}

	p.callerRuns.Add(1)
	if p.metrics != nil {
		p.metrics.callerRuns.Inc()
	}
	p.process(p.ctx, work)
	return nil
}

func (p *Pool[T]) accepted() {
	p.submitted.Add(1)
	if p.metrics != nil {
		p.metrics.submitted.Inc()
		p.metrics.queueDepth.Set(float64(len(p.workChan)))
	}
}

// grow reserves a surge worker slot if the pool is below maxWorkers.
func (p *Pool[T]) grow() bool {
	for {
		live := p.live.Load()
		if int(live) >= p.maxWorkers {
			return false
		}
		if p.live.CompareAndSwap(live, live+1) {
			p.updateLiveWorkers()
			return true
		}
	}
}

// Start starts the core workers. The context bounds every worker and is
// passed to the processor, including for caller-run items.
func (p *Pool[T]) Start(ctx context.Context) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if p.started {
		return ErrPoolAlreadyStarted
	}

	p.ctx = ctx
	for i := 0; i < p.workers; i++ {
		p.live.Add(1)
		p.wg.Add(1)
		go p.worker()
	}
	p.updateLiveWorkers()

	p.started = true
	return nil
}

// Stop closes the queue and waits for workers to drain it. Further
// submissions fail with ErrPoolStopped even when the wait times out.
func (p *Pool[T]) Stop(timeout time.Duration) error {
	p.lifecycleMu.Lock()
	if !p.started || p.stopped {
		p.lifecycleMu.Unlock()
		return nil
	}
	p.stopped = true
	close(p.workChan)
	p.lifecycleMu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		return nil
	case <-timer.C:
		return ErrStopTimeout
	}
}

// Stats returns current pool statistics
func (p *Pool[T]) Stats() PoolStats {
	return PoolStats{
		Workers:     p.workers,
		MaxWorkers:  p.maxWorkers,
		LiveWorkers: int(p.live.Load()),
		QueueSize:   p.queueSize,
		QueueDepth:  len(p.workChan),
		Submitted:   p.submitted.Load(),
		Processed:   p.processed.Load(),
		Failed:      p.failed.Load(),
		Dropped:     p.dropped.Load(),
		CallerRuns:  p.callerRuns.Load(),
	}
}

// PoolStats represents worker pool statistics
type PoolStats struct {
	Workers     int   `json:"workers"`
	MaxWorkers  int   `json:"max_workers"`
	LiveWorkers int   `json:"live_workers"`
	QueueSize   int   `json:"queue_size"`
	QueueDepth  int   `json:"queue_depth"`
	Submitted   int64 `json:"submitted"`
	Processed   int64 `json:"processed"`
	Failed      int64 `json:"failed"`
	Dropped     int64 `json:"dropped"`
	CallerRuns  int64 `json:"caller_runs"`
}

// worker processes work items until the queue closes or the context ends.
func (p *Pool[T]) worker() {
	defer p.wg.Done()
	defer p.retire()

	for {
		select {
		case <-p.ctx.Done():
			return
		case work, ok := <-p.workChan:
			if !ok {
				return
			}
			p.process(p.ctx, work)
		}
	}
}

// surgeWorker runs its initial item, then helps drain the queue until it has
// been idle for keepAlive.
func (p *Pool[T]) surgeWorker(first T) {
	defer p.wg.Done()
	defer p.retire()

	p.process(p.ctx, first)

	idle := time.NewTimer(p.keepAlive)
	defer idle.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-idle.C:
			return
		case work, ok := <-p.workChan:
			if !ok {
				return
			}
			p.process(p.ctx, work)
			idle.Reset(p.keepAlive)
		}
	}
}

func (p *Pool[T]) retire() {
	p.live.Add(-1)
	p.updateLiveWorkers()
}

func (p *Pool[T]) updateLiveWorkers() {
	if p.metrics != nil {
		p.metrics.liveWorkers.Set(float64(p.live.Load()))
	}
}

// process runs one item. A panicking processor counts as a failure.
func (p *Pool[T]) process(ctx context.Context, work T) {
	start := time.Now()

	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("worker panic: %v", r)
			}
		}()
		err = p.processor(ctx, work)
	}()
	duration := time.Since(start)

	p.processed.Add(1)
	if err != nil {
		p.failed.Add(1)
	}

	if p.metrics != nil {
		p.metrics.processed.Inc()
		p.metrics.queueDepth.Set(float64(len(p.workChan)))
		status := "success"
		if err != nil {
			p.metrics.failed.Inc()
			status = "error"
		}
		p.metrics.processingTime.WithLabelValues(status).Observe(duration.Seconds())
	}
}
