package event

import (
	"maps"
	"time"

	"github.com/google/uuid"
)

// Type is the category of an event.
type Type string

// Lifecycle and invocation event types.
const (
	TypeExtensionRegistered   Type = "extension.registered"
	TypeExtensionUnregistered Type = "extension.unregistered"
	TypeInvokeSuccess         Type = "invoke.success"
	TypeInvokeFail            Type = "invoke.fail"
	TypeInvokeException       Type = "invoke.exception"
	TypeAlertRaised           Type = "alert.raised"
	TypeCacheEvicted          Type = "cache.evicted"
)

// Event is an immutable record of something that happened in the runtime.
// Events are passed by value; attributes are copied on construction.
type Event struct {
	ID          uuid.UUID
	Type        Type
	Timestamp   time.Time
	Capability  string
	Code        string
	ExtensionID string
	Duration    time.Duration
	Err         error

	attrs map[string]any
}

// Option sets a field while building an Event.
type Option func(*Event)

// WithCapability sets the capability name.
func WithCapability(name string) Option {
	return func(e *Event) { e.Capability = name }
}

// WithCode sets the extension code.
func WithCode(code string) Option {
	return func(e *Event) { e.Code = code }
}

// WithExtensionID sets the extension identifier.
func WithExtensionID(id string) Option {
	return func(e *Event) { e.ExtensionID = id }
}

// WithDuration sets the invocation duration.
func WithDuration(d time.Duration) Option {
	return func(e *Event) { e.Duration = d }
}

// WithError attaches the failure that caused the event.
func WithError(err error) Option {
	return func(e *Event) { e.Err = err }
}

// WithAttribute adds a free-form attribute.
func WithAttribute(key string, value any) Option {
	return func(e *Event) {
		if e.attrs == nil {
			e.attrs = make(map[string]any)
		}
		e.attrs[key] = value
	}
}

// WithAttributes adds several free-form attributes.
func WithAttributes(attrs map[string]any) Option {
	return func(e *Event) {
		if e.attrs == nil {
			e.attrs = make(map[string]any, len(attrs))
		}
		maps.Copy(e.attrs, attrs)
	}
}

// WithTimestamp overrides the creation time. A zero time is ignored.
func WithTimestamp(ts time.Time) Option {
	return func(e *Event) {
		if !ts.IsZero() {
			e.Timestamp = ts
		}
	}
}

// New creates an event of type t stamped with a fresh id and the current time.
func New(t Type, opts ...Option) Event {
	e := Event{
		ID:        uuid.New(),
		Type:      t,
		Timestamp: time.Now(),
	}
	for _, opt := range opts {
		opt(&e)
	}
	return e
}

// Attr returns the attribute stored under key.
func (e Event) Attr(key string) (any, bool) {
	v, ok := e.attrs[key]
	return v, ok
}

// Attributes returns a copy of all attributes.
func (e Event) Attributes() map[string]any {
	return maps.Clone(e.attrs)
}
