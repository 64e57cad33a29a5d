package dispatch

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/c360/flexpoint/config"
	"github.com/c360/flexpoint/decision"
	"github.com/c360/flexpoint/errors"
	"github.com/c360/flexpoint/event"
	"github.com/c360/flexpoint/extension"
	"github.com/c360/flexpoint/health"
	"github.com/c360/flexpoint/metric"
	"github.com/c360/flexpoint/monitor"
	"github.com/c360/flexpoint/pkg/timestamp"
	"github.com/c360/flexpoint/registry"
	"github.com/c360/flexpoint/selector"
)

// SystemName labels the aggregate health status.
const SystemName = "flexpoint"

// Resolution outcomes recorded in flexpoint_resolution_total.
const (
	outcomeHit      = "hit"
	outcomeResolved = "resolved"
	outcomeEmpty    = "empty"
	outcomeError    = "error"
)

// Runtime composes the registry, selector catalog, decision cache,
// monitoring pipeline and event bus behind one API.
type Runtime struct {
	cfg    config.Config
	logger *slog.Logger
	clock  timestamp.Clock

	metricsRegistry *metric.MetricsRegistry
	metrics         *metric.Metrics

	registry  *registry.Registry
	catalog   *selector.Catalog
	decisions *decision.Cache
	store     *monitor.Store
	pipeline  *monitor.Pipeline
	alerts    *monitor.AlertHandler
	bus       *event.Bus

	collectors    []monitor.Collector
	strategies    []monitor.AlertStrategy
	notify        func(monitor.Alert)
	extraHandlers []monitor.Handler
	selectors     []selector.Selector
	chains        []*selector.Chain

	shutdownOnce sync.Once
	shutdownErr  error
}

// New builds a Runtime from cfg. Configuration problems, including chains
// that reference unknown selectors, are reported here before any
// registration or lookup happens.
func New(cfg config.Config, opts ...Option) (*Runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	r := &Runtime{
		cfg:    cfg.Clone(),
		logger: slog.Default(),
		clock:  timestamp.System,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.metricsRegistry != nil {
		r.metrics = r.metricsRegistry.CoreMetrics()
	}
	if r.strategies == nil && cfg.Alert.Enabled {
		r.strategies = alertStrategies(cfg.Alert)
	}

	busOpts := []event.BusOption{event.WithLogger(r.logger)}
	if r.metricsRegistry != nil {
		busOpts = append(busOpts, event.WithMetricsRegistry(r.metricsRegistry))
	}
	r.bus = event.NewBus(event.Config{
		Workers:     cfg.Event.AsyncWorkers,
		QueueSize:   cfg.Event.QueueSize,
		HistorySize: cfg.Event.HistorySize,
	}, busOpts...)

	if err := r.build(); err != nil {
		_ = r.bus.Shutdown(time.Second)
		return nil, err
	}

	r.logger.Info("Runtime started",
		"enabled", cfg.Enabled,
		"cache", cfg.Cache.Enabled,
		"monitor", cfg.Monitor.Enabled,
		"async", cfg.Monitor.AsyncEnabled,
		"chains", r.catalog.Chains())
	return r, nil
}

func (r *Runtime) build() error {
	regOpts := []registry.Option{
		registry.WithAllowDuplicates(r.cfg.Registry.AllowDuplicateRegistration),
		registry.WithLogger(r.logger),
		registry.WithPublisher(r.bus),
	}
	if r.metrics != nil {
		regOpts = append(regOpts, registry.WithMetrics(r.metrics))
	}
	r.registry = registry.New(regOpts...)

	catOpts := []selector.CatalogOption{selector.WithLogger(r.logger)}
	if r.metrics != nil {
		catOpts = append(catOpts, selector.WithObserver(r.metrics))
	}
	r.catalog = selector.NewCatalog(catOpts...)
	if err := r.buildChains(); err != nil {
		return err
	}

	if r.cfg.Cache.Enabled {
		cacheOpts := []decision.Option{
			decision.WithClock(r.clock),
			decision.WithDefaultTTL(r.cfg.Cache.TTL.Std()),
			decision.WithPublisher(r.bus),
			decision.WithLogger(r.logger),
		}
		if r.metricsRegistry != nil {
			cacheOpts = append(cacheOpts, decision.WithMetricsRegistry(r.metricsRegistry))
		}
		decisions, err := decision.New(cacheOpts...)
		if err != nil {
			return errors.WrapFatal(err, "Runtime", "New", "create decision cache")
		}
		r.decisions = decisions
	}

	r.store = monitor.NewStore(monitor.WithClock(r.clock))
	pipeOpts := []monitor.PipelineOption{
		monitor.WithLogger(r.logger),
		monitor.WithHandlers(r.handlers()...),
		monitor.WithPipelineClock(r.clock),
	}
	if r.metricsRegistry != nil {
		pipeOpts = append(pipeOpts, monitor.WithMetricsRegistry(r.metricsRegistry))
	}
	pipeline, err := monitor.NewPipeline(r.store, monitor.Config{
		Enabled:    r.cfg.Monitor.Enabled,
		Async:      r.cfg.Monitor.AsyncEnabled,
		Workers:    r.cfg.Monitor.AsyncCorePoolSize,
		MaxWorkers: r.cfg.Monitor.AsyncMaxPoolSize,
		QueueSize:  r.cfg.Monitor.AsyncQueueSize,
		KeepAlive:  r.cfg.Monitor.AsyncKeepAlive.Std(),
	}, pipeOpts...)
	if err != nil {
		return err
	}
	r.pipeline = pipeline
	return nil
}

// buildChains registers selectors and chains given as options, then the
// configured chains, and checks the default exists.
func (r *Runtime) buildChains() error {
	for _, s := range r.selectors {
		if err := r.catalog.RegisterSelector(s); err != nil {
			return errors.WrapFatal(fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err),
				"Runtime", "New", "register selectors")
		}
	}
	for _, chain := range r.chains {
		if err := r.catalog.RegisterChain(chain); err != nil {
			return errors.WrapFatal(fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err),
				"Runtime", "New", "register chains")
		}
	}

	names := make([]string, 0, len(r.cfg.Selector.Chains))
	for name := range r.cfg.Selector.Chains {
		names = append(names, name)
	}
	slices.Sort(names)

	for _, name := range names {
		if _, err := r.catalog.BuildChain(name, r.cfg.Selector.Chains[name]); err != nil {
			return errors.WrapFatal(fmt.Errorf("%w: chain %q: %v", errors.ErrInvalidConfig, name, err),
				"Runtime", "New", "build selector chains")
		}
	}
	if _, err := r.catalog.Chain(r.cfg.Selector.DefaultChain); err != nil {
		return errors.WrapFatal(fmt.Errorf("%w: default chain: %v", errors.ErrInvalidConfig, err),
			"Runtime", "New", "build selector chains")
	}
	return nil
}

// handlers assembles the monitoring chain: store first so later handlers
// see current figures.
func (r *Runtime) handlers() []monitor.Handler {
	handlers := []monitor.Handler{monitor.StoreHandler{}}
	if r.metrics != nil {
		handlers = append(handlers, monitor.NewMetricsHandler(r.metrics))
	}
	if len(r.strategies) > 0 {
		alertOpts := []monitor.AlertOption{
			monitor.WithAlertPublisher(r.bus),
			monitor.WithAlertLogger(r.logger),
			monitor.WithAlertClock(r.clock),
			monitor.WithAlertThrottle(r.cfg.Alert.ThrottleInterval.Std(), 1),
		}
		if r.metrics != nil {
			alertOpts = append(alertOpts, monitor.WithAlertMetrics(r.metrics))
		}
		if r.notify != nil {
			alertOpts = append(alertOpts, monitor.WithAlertNotifier(r.notify))
		}
		r.alerts = monitor.NewAlertHandler(r.strategies, alertOpts...)
		handlers = append(handlers, r.alerts)
	}
	handlers = append(handlers, monitor.NewEventHandler(r.bus))

	retryCfg := errors.DefaultRetryConfig().ToRetryConfig()
	for _, c := range r.collectors {
		handlers = append(handlers, monitor.NewCollectorHandler(c, retryCfg))
	}
	return append(handlers, r.extraHandlers...)
}

func alertStrategies(c config.AlertConfig) []monitor.AlertStrategy {
	var strategies []monitor.AlertStrategy
	if c.SuccessRateFloor > 0 {
		strategies = append(strategies, monitor.SuccessRateBelow(c.SuccessRateFloor, c.MinSamples))
	}
	if c.AverageLatency > 0 {
		strategies = append(strategies, monitor.AverageLatencyAbove(c.AverageLatency.Std(), c.MinSamples))
	}
	if c.P99Latency > 0 {
		strategies = append(strategies, monitor.P99LatencyAbove(c.P99Latency.Std(), c.MinSamples))
	}
	if c.ExceptionLimit > 0 {
		strategies = append(strategies, monitor.ExceptionsAtLeast(c.ExceptionLimit))
	}
	return strategies
}

// Enabled reports the master switch.
func (r *Runtime) Enabled() bool { return r.cfg.Enabled }

// Config returns a copy of the configuration the runtime was built with.
func (r *Runtime) Config() config.Config { return r.cfg.Clone() }

// Declare makes capabilities known for inferred registration.
func (r *Runtime) Declare(caps ...extension.Capability) {
	r.registry.Declare(caps...)
}

// Register adds ext under an explicit capability. Cached decisions for the
// capability are dropped so the new extension is considered immediately.
func (r *Runtime) Register(c extension.Capability, ext *extension.Extension) error {
	if !r.cfg.Enabled {
		return nil
	}
	if err := r.registry.RegisterAs(c, ext); err != nil {
		return err
	}
	r.invalidate(c)
	return nil
}

// RegisterExtension adds ext under every declared capability it implements
// and returns them.
func (r *Runtime) RegisterExtension(ext *extension.Extension) ([]extension.Capability, error) {
	if !r.cfg.Enabled {
		return nil, nil
	}
	caps, err := r.registry.Register(ext)
	if err != nil {
		return nil, err
	}
	for _, c := range caps {
		r.invalidate(c)
	}
	return caps, nil
}

// Unregister removes the extension id from capability c. Absent ids are a no-op.
func (r *Runtime) Unregister(c extension.Capability, id string) bool {
	if !r.cfg.Enabled {
		return false
	}
	removed := r.registry.Unregister(c, id)
	if removed {
		r.invalidate(c)
	}
	return removed
}

func (r *Runtime) invalidate(c extension.Capability) {
	if r.decisions != nil {
		r.decisions.Invalidate(c)
	}
}

// Find resolves c for ctx with the default chain. No match is (nil, nil).
func (r *Runtime) Find(c extension.Capability, ctx extension.Context) (*extension.Extension, error) {
	return r.FindWithChain(c, ctx, r.cfg.Selector.DefaultChain)
}

// FindRequired is Find with no match reported as ErrCapabilityNotFound.
func (r *Runtime) FindRequired(c extension.Capability, ctx extension.Context) (*extension.Extension, error) {
	ext, err := r.Find(c, ctx)
	if err != nil {
		return nil, err
	}
	if ext == nil {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: %s for [%s]", errors.ErrCapabilityNotFound, c.Name(), ctx.CacheKey()),
			"Runtime", "FindRequired", "resolve capability")
	}
	return ext, nil
}

// FindWithChain resolves c through the named chain: decision cache, then
// registry candidates, then the chain, then cache population. A missing
// chain fails with ErrSelectorChainNotFound.
func (r *Runtime) FindWithChain(
	c extension.Capability, ctx extension.Context, chainName string,
) (*extension.Extension, error) {
	if !r.cfg.Enabled {
		return nil, nil
	}
	start := r.clock.Now()
	key := strconv.Quote(chainName) + "|" + ctx.CacheKey()

	if r.decisions != nil {
		if ext, ok := r.decisions.Get(c, key); ok {
			if ext.Enabled() {
				r.observeResolution(c, outcomeHit, start)
				return ext, nil
			}
			// disabled since it was cached
			r.decisions.Invalidate(c, key)
		}
	}

	candidates := enabledOnly(r.registry.GetAll(c))
	ext, err := r.catalog.Resolve(chainName, candidates, ctx)
	if err != nil {
		r.observeResolution(c, outcomeError, start)
		return nil, err
	}
	if ext == nil {
		r.observeResolution(c, outcomeEmpty, start)
		return nil, nil
	}

	if r.decisions != nil {
		if err := r.decisions.Put(c, key, ext, 0); err != nil {
			r.logger.Warn("Failed to cache decision", "capability", c.Name(), "error", err)
		}
	}
	r.observeResolution(c, outcomeResolved, start)
	return ext, nil
}

func enabledOnly(exts []*extension.Extension) []*extension.Extension {
	out := exts[:0:0]
	for _, ext := range exts {
		if ext.Enabled() {
			out = append(out, ext)
		}
	}
	return out
}

func (r *Runtime) observeResolution(c extension.Capability, outcome string, start time.Time) {
	if r.metrics != nil {
		r.metrics.RecordResolution(c.Name(), outcome, r.clock.Now().Sub(start))
	}
}

// FindByID returns the extension registered under id.
func (r *Runtime) FindByID(c extension.Capability, id string) (*extension.Extension, bool) {
	if !r.cfg.Enabled {
		return nil, false
	}
	return r.registry.Get(c, id)
}

// Extensions returns every extension of c in priority order.
func (r *Runtime) Extensions(c extension.Capability) []*extension.Extension {
	if !r.cfg.Enabled {
		return []*extension.Extension{}
	}
	return r.registry.GetAll(c)
}

// Capabilities lists capabilities with at least one registration.
func (r *Runtime) Capabilities() []extension.Capability {
	return r.registry.Capabilities()
}

// RecordInvocation reports one invocation of extension id.
func (r *Runtime) RecordInvocation(id string, d time.Duration, success bool) {
	if r.cfg.Enabled {
		r.pipeline.RecordInvocation(id, d, success)
	}
}

// RecordException reports an error raised by extension id.
func (r *Runtime) RecordException(id string, err error) {
	if r.cfg.Enabled {
		r.pipeline.RecordException(id, err)
	}
}

// Metrics returns the statistics of id, zeroed when unseen.
func (r *Runtime) Metrics(id string) monitor.Stats {
	return r.store.Metrics(id)
}

// AllMetrics returns statistics for every observed id.
func (r *Runtime) AllMetrics() map[string]monitor.Stats {
	return r.store.All()
}

// ResetMetrics clears the counters and derived health of id.
func (r *Runtime) ResetMetrics(id string) bool {
	if r.alerts != nil {
		r.alerts.Forget(id)
	}
	return r.store.Reset(id)
}

// RegisterSelector adds or replaces a named selector for chain definitions.
func (r *Runtime) RegisterSelector(s selector.Selector) error {
	return r.catalog.RegisterSelector(s)
}

// RegisterSelectorChain adds or replaces a named chain.
func (r *Runtime) RegisterSelectorChain(chain *selector.Chain) error {
	if err := r.catalog.RegisterChain(chain); err != nil {
		return err
	}
	r.clearDecisions()
	return nil
}

// DefineChain builds a chain from registered selector names and registers it.
func (r *Runtime) DefineChain(name string, selectorNames ...string) error {
	if _, err := r.catalog.BuildChain(name, selectorNames); err != nil {
		return err
	}
	r.clearDecisions()
	return nil
}

// Chains returns the registered chain names.
func (r *Runtime) Chains() []string {
	return r.catalog.Chains()
}

func (r *Runtime) clearDecisions() {
	if r.decisions != nil {
		r.decisions.Clear()
	}
}

// Subscribe adds an event subscriber.
func (r *Runtime) Subscribe(s event.Subscriber) error {
	return r.bus.Subscribe(s)
}

// Unsubscribe removes the named subscriber.
func (r *Runtime) Unsubscribe(name string) bool {
	return r.bus.Unsubscribe(name)
}

// Events returns up to n recent events, oldest first. n <= 0 returns all retained.
func (r *Runtime) Events(n int) []event.Event {
	return r.bus.History(n)
}

// AddHandler appends a monitoring handler.
func (r *Runtime) AddHandler(h monitor.Handler) {
	r.pipeline.AddHandler(h)
}

// CacheStats returns decision cache statistics; zero when caching is off.
func (r *Runtime) CacheStats() decision.Stats {
	if r.decisions == nil {
		return decision.Stats{}
	}
	return r.decisions.Stats()
}

// InvalidateCache drops cached decisions for c and returns how many were removed.
func (r *Runtime) InvalidateCache(c extension.Capability) int {
	if r.decisions == nil {
		return 0
	}
	return r.decisions.Invalidate(c)
}

// ClearCache drops every cached decision.
func (r *Runtime) ClearCache() {
	r.clearDecisions()
}

// Health aggregates the derived status of every monitored extension.
// Without alert strategies the runtime reports healthy.
func (r *Runtime) Health() health.Status {
	if r.alerts == nil {
		return health.NewHealthy(SystemName, "alerting disabled")
	}
	return r.alerts.Health(SystemName)
}

// ExtensionHealth returns the derived status of one extension.
func (r *Runtime) ExtensionHealth(id string) (health.Status, bool) {
	if r.alerts == nil {
		return health.Status{}, false
	}
	return r.alerts.Status(id)
}

// Stats summarizes runtime internals.
type Stats struct {
	Capabilities int
	Cache        decision.Stats
	Pipeline     monitor.PipelineStats
	Events       event.Stats
}

// Stats returns a snapshot of internal counters.
func (r *Runtime) Stats() Stats {
	return Stats{
		Capabilities: len(r.registry.Capabilities()),
		Cache:        r.CacheStats(),
		Pipeline:     r.pipeline.Stats(),
		Events:       r.bus.Stats(),
	}
}

// Shutdown drains the monitoring pipeline and the event bus, waiting at most
// timeout for each. It is safe to call more than once.
func (r *Runtime) Shutdown(timeout time.Duration) error {
	r.shutdownOnce.Do(func() {
		r.logger.Info("Runtime shutting down")
		var errs []error
		if err := r.pipeline.Close(timeout); err != nil {
			errs = append(errs, err)
		}
		if err := r.bus.Shutdown(timeout); err != nil {
			errs = append(errs, err)
		}
		r.shutdownErr = stderrors.Join(errs...)
	})
	return r.shutdownErr
}

// observe reports an invocation with full attribution. Used by Invoke.
func (r *Runtime) observe(ctx context.Context, c extension.Capability, ext *extension.Extension,
	d time.Duration, err error,
) {
	if !r.cfg.Enabled {
		return
	}
	id := ext.ID(c)
	now := r.clock.Now()
	if err != nil {
		r.pipeline.ObserveException(ctx, monitor.Exception{
			ID: id, Capability: c.Name(), Code: ext.Code, Err: err, Time: now,
		})
	}
	r.pipeline.Observe(ctx, monitor.Invocation{
		ID: id, Capability: c.Name(), Code: ext.Code, Duration: d, Success: err == nil, Time: now,
	})
}
