// Package registry holds the capability registry: a concurrent multi-map
// from capability to its registered extensions, kept in priority order.
package registry

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/c360/flexpoint/errors"
	"github.com/c360/flexpoint/event"
	"github.com/c360/flexpoint/extension"
	"github.com/c360/flexpoint/metric"
)

// Option configures a Registry.
type Option func(*Registry)

// WithAllowDuplicates lets extensions with the same derived id coexist under
// one capability. By default a duplicate registration is a logged no-op.
func WithAllowDuplicates(allow bool) Option {
	return func(r *Registry) { r.allowDuplicates = allow }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithPublisher sets the sink for registration lifecycle events.
func WithPublisher(publisher event.Publisher) Option {
	return func(r *Registry) { r.publisher = publisher }
}

// WithMetrics reports per-capability extension counts.
func WithMetrics(metrics *metric.Metrics) Option {
	return func(r *Registry) { r.metrics = metrics }
}

type entry struct {
	ext *extension.Extension
	id  string
	seq uint64
}

// bucket holds the extensions of one capability. Writers serialize on mu;
// readers load the pre-sorted snapshot without locking.
type bucket struct {
	mu       sync.Mutex
	entries  []entry
	snapshot atomic.Pointer[[]*extension.Extension]
}

func newBucket() *bucket {
	b := &bucket{}
	b.snapshot.Store(&[]*extension.Extension{})
	return b
}

// publish re-sorts entries and swaps the reader snapshot. Caller holds mu.
func (b *bucket) publish() {
	slices.SortStableFunc(b.entries, func(x, y entry) int {
		if c := cmp.Compare(x.ext.Priority(), y.ext.Priority()); c != 0 {
			return c
		}
		return cmp.Compare(x.seq, y.seq)
	})
	snap := make([]*extension.Extension, len(b.entries))
	for i, e := range b.entries {
		snap[i] = e.ext
	}
	b.snapshot.Store(&snap)
}

// Registry maps capabilities to extensions.
//
// Lookups never block. Structural changes lock only the affected capability,
// so registrations under unrelated capabilities do not contend.
type Registry struct {
	buckets  sync.Map // extension.Capability -> *bucket
	declMu   sync.Mutex
	declared atomic.Pointer[[]extension.Capability]
	seq      atomic.Uint64

	allowDuplicates bool
	logger          *slog.Logger
	publisher       event.Publisher
	metrics         *metric.Metrics
}

// New creates an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "registry")
	r.declared.Store(&[]extension.Capability{})
	return r
}

// Declare records capabilities that Register may infer from an instance.
func (r *Registry) Declare(caps ...extension.Capability) {
	r.declMu.Lock()
	defer r.declMu.Unlock()

	current := *r.declared.Load()
	next := slices.Clone(current)
	for _, c := range caps {
		if c.IsZero() || slices.Contains(next, c) {
			continue
		}
		next = append(next, c)
	}
	r.declared.Store(&next)
}

// Declared returns the declared capabilities in declaration order.
func (r *Registry) Declared() []extension.Capability {
	return slices.Clone(*r.declared.Load())
}

// Register adds ext under every declared capability its instance implements
// and returns those capabilities. It fails with ErrInvalidImplementation when
// the instance implements none of them.
func (r *Registry) Register(ext *extension.Extension) ([]extension.Capability, error) {
	if err := validate(ext, "Register"); err != nil {
		return nil, err
	}

	var caps []extension.Capability
	for _, c := range *r.declared.Load() {
		if c.ImplementedBy(ext.Instance) {
			caps = append(caps, c)
		}
	}
	if len(caps) == 0 {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: %T implements no declared capability", errors.ErrInvalidImplementation, ext.Instance),
			"Registry", "Register", "capability inference")
	}

	for _, c := range caps {
		r.add(c, ext)
	}
	return caps, nil
}

// RegisterAs adds ext under an explicit capability, declaring it if needed.
func (r *Registry) RegisterAs(c extension.Capability, ext *extension.Extension) error {
	if c.IsZero() {
		return errors.WrapInvalid(errors.ErrInvalidImplementation, "Registry", "RegisterAs", "capability validation")
	}
	if err := validate(ext, "RegisterAs"); err != nil {
		return err
	}
	if !c.ImplementedBy(ext.Instance) {
		return errors.WrapInvalid(
			fmt.Errorf("%w: %T does not implement %s", errors.ErrInvalidImplementation, ext.Instance, c),
			"Registry", "RegisterAs", "capability check")
	}

	r.Declare(c)
	r.add(c, ext)
	return nil
}

func validate(ext *extension.Extension, method string) error {
	if ext == nil || ext.Instance == nil {
		return errors.WrapInvalid(errors.ErrInvalidImplementation, "Registry", method, "extension validation")
	}
	return nil
}

func (r *Registry) bucket(c extension.Capability) *bucket {
	if b, ok := r.buckets.Load(c); ok {
		return b.(*bucket)
	}
	b, _ := r.buckets.LoadOrStore(c, newBucket())
	return b.(*bucket)
}

func (r *Registry) add(c extension.Capability, ext *extension.Extension) bool {
	id := ext.ID(c)
	b := r.bucket(c)

	b.mu.Lock()
	if !r.allowDuplicates && slices.ContainsFunc(b.entries, func(e entry) bool { return e.id == id }) {
		b.mu.Unlock()
		r.logger.Warn("Duplicate registration ignored", "capability", c.Name(), "id", id)
		return false
	}
	b.entries = append(b.entries, entry{ext: ext, id: id, seq: r.seq.Add(1)})
	b.publish()
	count := len(b.entries)
	b.mu.Unlock()

	r.logger.Debug("Extension registered", "capability", c.Name(), "id", id, "priority", ext.Priority())
	r.recordCount(c, count)
	r.emit(event.TypeExtensionRegistered, c, ext, id)
	return true
}

// Unregister removes every extension registered under c with the given id.
// It reports whether anything was removed.
func (r *Registry) Unregister(c extension.Capability, id string) bool {
	v, ok := r.buckets.Load(c)
	if !ok {
		return false
	}
	b := v.(*bucket)

	b.mu.Lock()
	var removed []entry
	kept := b.entries[:0:0]
	for _, e := range b.entries {
		if e.id == id {
			removed = append(removed, e)
			continue
		}
		kept = append(kept, e)
	}
	if len(removed) == 0 {
		b.mu.Unlock()
		return false
	}
	b.entries = kept
	b.publish()
	count := len(b.entries)
	b.mu.Unlock()

	r.recordCount(c, count)
	for _, e := range removed {
		r.logger.Debug("Extension unregistered", "capability", c.Name(), "id", id)
		r.emit(event.TypeExtensionUnregistered, c, e.ext, id)
	}
	return true
}

// GetAll returns the extensions of c in ascending priority, ties in
// registration order. The result is never nil and may be modified by the caller.
func (r *Registry) GetAll(c extension.Capability) []*extension.Extension {
	v, ok := r.buckets.Load(c)
	if !ok {
		return []*extension.Extension{}
	}
	return slices.Clone(*v.(*bucket).snapshot.Load())
}

// Get returns the highest-priority extension of c with the given id.
func (r *Registry) Get(c extension.Capability, id string) (*extension.Extension, bool) {
	v, ok := r.buckets.Load(c)
	if !ok {
		return nil, false
	}
	for _, ext := range *v.(*bucket).snapshot.Load() {
		if ext.ID(c) == id {
			return ext, true
		}
	}
	return nil, false
}

// Exists reports whether an extension with id is registered under c.
func (r *Registry) Exists(c extension.Capability, id string) bool {
	_, ok := r.Get(c, id)
	return ok
}

// Count returns the number of extensions registered under c.
func (r *Registry) Count(c extension.Capability) int {
	v, ok := r.buckets.Load(c)
	if !ok {
		return 0
	}
	return len(*v.(*bucket).snapshot.Load())
}

// Capabilities returns every capability with at least one extension, sorted by name.
func (r *Registry) Capabilities() []extension.Capability {
	var caps []extension.Capability
	r.buckets.Range(func(key, value any) bool {
		if len(*value.(*bucket).snapshot.Load()) > 0 {
			caps = append(caps, key.(extension.Capability))
		}
		return true
	})
	slices.SortFunc(caps, func(a, b extension.Capability) int { return cmp.Compare(a.Name(), b.Name()) })
	return caps
}

func (r *Registry) recordCount(c extension.Capability, count int) {
	if r.metrics != nil {
		r.metrics.RecordRegisteredExtensions(c.Name(), count)
	}
}

// emit publishes a lifecycle event without waiting for subscribers.
func (r *Registry) emit(t event.Type, c extension.Capability, ext *extension.Extension, id string) {
	if r.publisher == nil {
		return
	}
	r.publisher.PublishAsync(context.Background(), event.New(t,
		event.WithCapability(c.Name()),
		event.WithCode(ext.Code),
		event.WithExtensionID(id),
		event.WithAttribute("version", ext.Version),
		event.WithAttribute("priority", ext.Priority()),
	))
}
