package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/flexpoint/errors"
	"github.com/c360/flexpoint/metric"
	"github.com/c360/flexpoint/pkg/timestamp"
	"github.com/c360/flexpoint/pkg/worker"
)

// Config controls the monitoring pipeline.
type Config struct {
	Enabled    bool
	Async      bool
	Workers    int // core async workers
	MaxWorkers int // upper bound including surge workers
	QueueSize  int
	KeepAlive  time.Duration // idle time before a surge worker exits
}

// DefaultConfig returns an enabled, synchronous pipeline configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:    true,
		Workers:    2,
		MaxWorkers: 4,
		QueueSize:  1000,
		KeepAlive:  60 * time.Second,
	}
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) PipelineOption {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithHandlers replaces the default handler chain ([StoreHandler]).
func WithHandlers(handlers ...Handler) PipelineOption {
	return func(p *Pipeline) {
		list := slices.DeleteFunc(slices.Clone(handlers), func(h Handler) bool { return h == nil })
		p.handlers.Store(&list)
	}
}

// WithMetricsRegistry exports async pool metrics.
func WithMetricsRegistry(registry *metric.MetricsRegistry) PipelineOption {
	return func(p *Pipeline) { p.registry = registry }
}

// WithPipelineClock sets the clock used to stamp observations.
func WithPipelineClock(clock timestamp.Clock) PipelineOption {
	return func(p *Pipeline) { p.clock = timestamp.OrSystem(clock) }
}

type job func(ctx context.Context)

// Pipeline runs observations through an ordered handler chain, inline or on
// a worker pool. A full pool queue runs the observation on the caller, so
// nothing is ever dropped while the pipeline is open.
type Pipeline struct {
	store    *Store
	enabled  bool
	logger   *slog.Logger
	registry *metric.MetricsRegistry
	clock    timestamp.Clock

	mu       sync.Mutex
	handlers atomic.Pointer[[]Handler]

	pool   *worker.Pool[job]
	cancel context.CancelFunc
	closed atomic.Bool
	once   sync.Once

	observed      atomic.Int64
	handlerErrors atomic.Int64
	dropped       atomic.Int64
}

// NewPipeline creates a pipeline over store. A nil store gets a fresh one.
func NewPipeline(store *Store, cfg Config, opts ...PipelineOption) (*Pipeline, error) {
	if store == nil {
		store = NewStore()
	}
	p := &Pipeline{
		store:   store,
		enabled: cfg.Enabled,
		logger:  slog.Default(),
		clock:   timestamp.System,
	}
	defaults := []Handler{StoreHandler{}}
	p.handlers.Store(&defaults)
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With("component", "monitor")

	if !cfg.Enabled || !cfg.Async {
		return p, nil
	}

	if cfg.Workers <= 0 || cfg.QueueSize <= 0 {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: async monitoring needs workers and queue size > 0", errors.ErrInvalidConfig),
			"Pipeline", "NewPipeline", "validate config")
	}

	poolOpts := []worker.Option[job]{
		worker.WithMaxWorkers[job](cfg.MaxWorkers),
	}
	if cfg.KeepAlive > 0 {
		poolOpts = append(poolOpts, worker.WithKeepAlive[job](cfg.KeepAlive))
	}
	if p.registry != nil {
		poolOpts = append(poolOpts, worker.WithMetricsRegistry[job](p.registry, "flexpoint_monitor_pool"))
	}
	p.pool = worker.NewPool(cfg.Workers, cfg.QueueSize, func(ctx context.Context, j job) error {
		j(ctx)
		return nil
	}, poolOpts...)

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	if err := p.pool.Start(ctx); err != nil {
		cancel()
		return nil, errors.WrapFatal(err, "Pipeline", "NewPipeline", "start worker pool")
	}
	return p, nil
}

// Store returns the backing metrics store.
func (p *Pipeline) Store() *Store { return p.store }

// Enabled reports whether observations are processed at all.
func (p *Pipeline) Enabled() bool { return p.enabled }

// AddHandler appends h to the chain.
func (p *Pipeline) AddHandler(h Handler) {
	if h == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	next := append(slices.Clone(*p.handlers.Load()), h)
	p.handlers.Store(&next)
}

// RemoveHandler removes the first handler named name.
func (p *Pipeline) RemoveHandler(name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	current := *p.handlers.Load()
	idx := slices.IndexFunc(current, func(h Handler) bool { return h.Name() == name })
	if idx < 0 {
		return false
	}
	next := slices.Delete(slices.Clone(current), idx, idx+1)
	p.handlers.Store(&next)
	return true
}

// Handlers returns the chain in execution order.
func (p *Pipeline) Handlers() []Handler {
	return slices.Clone(*p.handlers.Load())
}

// RecordInvocation reports one invocation of id.
func (p *Pipeline) RecordInvocation(id string, d time.Duration, success bool) {
	p.Observe(context.Background(), Invocation{ID: id, Duration: d, Success: success})
}

// RecordException reports one exception of id.
func (p *Pipeline) RecordException(id string, err error) {
	p.ObserveException(context.Background(), Exception{ID: id, Err: err})
}

// Observe runs inv through the handler chain.
func (p *Pipeline) Observe(ctx context.Context, inv Invocation) {
	if inv.Time.IsZero() {
		inv.Time = p.clock.Now()
	}
	p.dispatch(ctx, func(ctx context.Context) {
		rec := p.store.Record(inv.ID)
		for _, h := range *p.handlers.Load() {
			p.run(h, inv.ID, func() error { return h.OnInvocation(ctx, inv, rec) })
		}
	})
}

// ObserveException runs exc through the handler chain.
func (p *Pipeline) ObserveException(ctx context.Context, exc Exception) {
	if exc.Time.IsZero() {
		exc.Time = p.clock.Now()
	}
	p.dispatch(ctx, func(ctx context.Context) {
		rec := p.store.Record(exc.ID)
		for _, h := range *p.handlers.Load() {
			p.run(h, exc.ID, func() error { return h.OnException(ctx, exc, rec) })
		}
	})
}

func (p *Pipeline) dispatch(ctx context.Context, j job) {
	if !p.enabled {
		return
	}
	if p.closed.Load() {
		p.dropped.Add(1)
		p.logger.Debug("Monitoring pipeline closed, observation dropped")
		return
	}
	p.observed.Add(1)

	if p.pool == nil {
		j(ctx)
		return
	}
	detached := context.WithoutCancel(ctx)
	if err := p.pool.SubmitOrRun(func(context.Context) { j(detached) }); err != nil {
		// Pool stopped between the closed check and submission.
		j(detached)
	}
}

func (p *Pipeline) run(h Handler, id string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			p.handlerErrors.Add(1)
			p.logger.Error("Monitoring handler panicked", "handler", h.Name(), "extension", id, "panic", r)
		}
	}()
	if err := fn(); err != nil {
		p.handlerErrors.Add(1)
		p.logger.Warn("Monitoring handler failed", "handler", h.Name(), "extension", id, "error", err)
	}
}

// PipelineStats summarizes pipeline activity.
type PipelineStats struct {
	Observed      int64
	HandlerErrors int64
	Dropped       int64
	Pool          *worker.PoolStats
}

// Stats returns pipeline counters.
func (p *Pipeline) Stats() PipelineStats {
	s := PipelineStats{
		Observed:      p.observed.Load(),
		HandlerErrors: p.handlerErrors.Load(),
		Dropped:       p.dropped.Load(),
	}
	if p.pool != nil {
		ps := p.pool.Stats()
		s.Pool = &ps
	}
	return s
}

// Close stops accepting observations and drains queued ones, waiting at
// most timeout. Later observations are dropped.
func (p *Pipeline) Close(timeout time.Duration) error {
	var err error
	p.once.Do(func() {
		p.closed.Store(true)
		if p.pool != nil {
			err = p.pool.Stop(timeout)
			p.cancel()
		}
	})
	if err != nil {
		return errors.WrapTransient(err, "Pipeline", "Close", "drain async observations")
	}
	return nil
}
