package event

import (
	"context"
	"slices"
	"sync/atomic"
)

// Subscriber consumes events from a Bus. Name must be unique per bus.
type Subscriber interface {
	Name() string
	Handle(ctx context.Context, e Event) error
}

// Prioritized subscribers run in ascending priority order. Others default to 0.
type Prioritized interface {
	Priority() int
}

// Filtered subscribers only receive events they accept.
type Filtered interface {
	Accept(e Event) bool
}

// Asynchronous subscribers are dispatched on the bus worker pool.
type Asynchronous interface {
	Async() bool
}

// Toggle subscribers can be switched off without unsubscribing.
type Toggle interface {
	Enabled() bool
}

// HandlerFunc adapts a function to the handling part of Subscriber.
type HandlerFunc func(ctx context.Context, e Event) error

// FuncSubscriber is a Subscriber built from a function and options.
// It implements every optional subscriber interface.
type FuncSubscriber struct {
	name     string
	fn       HandlerFunc
	priority int
	filter   func(Event) bool
	async    bool
	enabled  atomic.Bool
}

// SubscriberOption configures a FuncSubscriber.
type SubscriberOption func(*FuncSubscriber)

// WithPriority sets the dispatch priority, lower first.
func WithPriority(priority int) SubscriberOption {
	return func(s *FuncSubscriber) { s.priority = priority }
}

// WithFilter sets a predicate an event must satisfy to be delivered.
func WithFilter(filter func(Event) bool) SubscriberOption {
	return func(s *FuncSubscriber) { s.filter = filter }
}

// WithTypes restricts delivery to the listed event types.
func WithTypes(types ...Type) SubscriberOption {
	types = slices.Clone(types)
	return WithFilter(func(e Event) bool {
		return slices.Contains(types, e.Type)
	})
}

// WithAsync marks the subscriber for dispatch on the worker pool.
func WithAsync(async bool) SubscriberOption {
	return func(s *FuncSubscriber) { s.async = async }
}

// WithEnabled sets the initial enabled state. Subscribers start enabled.
func WithEnabled(enabled bool) SubscriberOption {
	return func(s *FuncSubscriber) { s.enabled.Store(enabled) }
}

// NewSubscriber builds a subscriber named name that calls fn.
func NewSubscriber(name string, fn HandlerFunc, opts ...SubscriberOption) *FuncSubscriber {
	s := &FuncSubscriber{name: name, fn: fn}
	s.enabled.Store(true)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *FuncSubscriber) Name() string  { return s.name }
func (s *FuncSubscriber) Priority() int { return s.priority }
func (s *FuncSubscriber) Async() bool   { return s.async }
func (s *FuncSubscriber) Enabled() bool { return s.enabled.Load() }

// SetEnabled switches delivery on or off.
func (s *FuncSubscriber) SetEnabled(enabled bool) { s.enabled.Store(enabled) }

// Accept applies the configured filter. No filter accepts everything.
func (s *FuncSubscriber) Accept(e Event) bool {
	return s.filter == nil || s.filter(e)
}

// Handle calls the wrapped function.
func (s *FuncSubscriber) Handle(ctx context.Context, e Event) error {
	return s.fn(ctx, e)
}

func priorityOf(s Subscriber) int {
	if p, ok := s.(Prioritized); ok {
		return p.Priority()
	}
	return 0
}

func isAsync(s Subscriber) bool {
	a, ok := s.(Asynchronous)
	return ok && a.Async()
}

func isEnabled(s Subscriber) bool {
	t, ok := s.(Toggle)
	return !ok || t.Enabled()
}
