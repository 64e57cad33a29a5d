package extension

import (
	"maps"
	"math"
	"time"
)

// Unversioned is the version of an extension registered without one.
const Unversioned = "unversioned"

// Extension is a registered implementation of one or more capabilities.
// The registry holds a reference to it; the caller owns the instance.
type Extension struct {
	Instance any
	Code     string
	Version  string
	Tags     Tags
	Metadata *Metadata
}

// Metadata carries ordering and bookkeeping attributes of an extension.
type Metadata struct {
	ID          string    `json:"id,omitempty" yaml:"id,omitempty"`
	Priority    int       `json:"priority" yaml:"priority"`
	Description string    `json:"description,omitempty" yaml:"description,omitempty"`
	Disabled    bool      `json:"disabled,omitempty" yaml:"disabled,omitempty"`
	CreatedAt   time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" yaml:"updated_at"`
}

// Enabled reports whether the extension may be selected.
func (m *Metadata) Enabled() bool {
	return m == nil || !m.Disabled
}

// Descriptor is the self-description an instance may provide through Describer.
type Descriptor struct {
	Code     string
	Version  string
	Tags     Tags
	Metadata *Metadata
}

// Describer is implemented by instances that know their own code, version and tags.
// Explicit options passed to New take precedence over the descriptor.
type Describer interface {
	Describe() Descriptor
}

// Option configures an Extension built by New.
type Option func(*Extension)

// WithCode sets the business code.
func WithCode(code string) Option {
	return func(e *Extension) { e.Code = code }
}

// WithVersion sets the version. An empty version means Unversioned.
func WithVersion(version string) Option {
	return func(e *Extension) { e.Version = version }
}

// WithTags merges tags into the extension.
func WithTags(tags Tags) Option {
	return func(e *Extension) {
		if e.Tags == nil {
			e.Tags = make(Tags, len(tags))
		}
		maps.Copy(e.Tags, tags)
	}
}

// WithTag sets a single tag.
func WithTag(key string, value any) Option {
	return WithTags(Tags{key: value})
}

// WithMetadata replaces the metadata.
func WithMetadata(md Metadata) Option {
	return func(e *Extension) { e.Metadata = &md }
}

// WithPriority sets the priority, lower values first.
func WithPriority(priority int) Option {
	return func(e *Extension) { e.metadata().Priority = priority }
}

// WithID sets an explicit extension identifier.
func WithID(id string) Option {
	return func(e *Extension) { e.metadata().ID = id }
}

// WithDescription sets a human-readable description.
func WithDescription(description string) Option {
	return func(e *Extension) { e.metadata().Description = description }
}

// WithEnabled toggles whether the extension may be selected.
func WithEnabled(enabled bool) Option {
	return func(e *Extension) { e.metadata().Disabled = !enabled }
}

func (e *Extension) metadata() *Metadata {
	if e.Metadata == nil {
		now := time.Now()
		e.Metadata = &Metadata{CreatedAt: now, UpdatedAt: now}
	}
	return e.Metadata
}

// New wraps instance as an Extension.
func New(instance any, opts ...Option) *Extension {
	e := &Extension{Instance: instance}

	if d, ok := instance.(Describer); ok {
		desc := d.Describe()
		e.Code = desc.Code
		e.Version = desc.Version
		if len(desc.Tags) > 0 {
			e.Tags = maps.Clone(desc.Tags)
		}
		if desc.Metadata != nil {
			md := *desc.Metadata
			e.Metadata = &md
		}
	}

	for _, opt := range opts {
		opt(e)
	}

	if e.Version == "" {
		e.Version = Unversioned
	}
	return e
}

// ID returns the identifier used for duplicate detection and metrics:
// the explicit metadata ID when set, otherwise "<capability>#<code>" with
// "@<version>" appended for versioned extensions.
func (e *Extension) ID(c Capability) string {
	if e.Metadata != nil && e.Metadata.ID != "" {
		return e.Metadata.ID
	}
	id := c.Name() + "#" + e.Code
	if e.Version != "" && e.Version != Unversioned {
		id += "@" + e.Version
	}
	return id
}

// Priority returns the sort priority. Extensions without metadata sort last.
func (e *Extension) Priority() int {
	if e.Metadata == nil {
		return math.MaxInt
	}
	return e.Metadata.Priority
}

// Enabled reports whether the extension may be selected.
func (e *Extension) Enabled() bool {
	return e.Metadata.Enabled()
}

// Versioned reports whether the extension carries an explicit version.
func (e *Extension) Versioned() bool {
	return e.Version != "" && e.Version != Unversioned
}
