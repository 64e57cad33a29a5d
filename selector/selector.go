package selector

import (
	"fmt"
	"hash/fnv"
	"slices"

	"github.com/c360/flexpoint/errors"
	"github.com/c360/flexpoint/extension"
)

// Selector picks at most one extension from priority-ordered candidates.
// A nil result means the selector does not apply to this context.
//
// Selectors must tolerate empty candidates and missing context attributes by
// returning nil. Only ErrMultipleMatched is treated as a real failure by a Chain.
type Selector interface {
	Name() string
	Select(candidates []*extension.Extension, ctx extension.Context) (*extension.Extension, error)
}

// SelectFunc is the function form of Selector.Select.
type SelectFunc func(candidates []*extension.Extension, ctx extension.Context) (*extension.Extension, error)

type funcSelector struct {
	name string
	fn   SelectFunc
}

func (f funcSelector) Name() string { return f.name }

func (f funcSelector) Select(candidates []*extension.Extension, ctx extension.Context) (*extension.Extension, error) {
	return f.fn(candidates, ctx)
}

// Func adapts fn to a Selector named name.
func Func(name string, fn SelectFunc) Selector {
	return funcSelector{name: name, fn: fn}
}

// Match reports whether a candidate satisfies a context.
type Match func(ext *extension.Extension, ctx extension.Context) bool

// Built-in selector names.
const (
	NameCode        = "code"
	NameCodeVersion = "code-version"
	NameTenant      = "tenant"
	NameGroup       = "group"
	NameFirst       = "first"
)

// TagGrey marks the grey-release extension picked by GreyList.
const TagGrey = "grey"

func first(candidates []*extension.Extension, ctx extension.Context, match Match) *extension.Extension {
	for _, c := range candidates {
		if c != nil && match(c, ctx) {
			return c
		}
	}
	return nil
}

// Predicate selects the first candidate satisfying match.
func Predicate(name string, match Match) Selector {
	return Func(name, func(candidates []*extension.Extension, ctx extension.Context) (*extension.Extension, error) {
		return first(candidates, ctx, match), nil
	})
}

// Code selects the first candidate whose code equals the context code.
func Code() Selector {
	return Predicate(NameCode, func(ext *extension.Extension, ctx extension.Context) bool {
		return ctx.Code != "" && ext.Code == ctx.Code
	})
}

// CodeVersion selects the first candidate with the context code and, when the
// context names a version, that exact version.
func CodeVersion() Selector {
	return Predicate(NameCodeVersion, func(ext *extension.Extension, ctx extension.Context) bool {
		if ctx.Code == "" || ext.Code != ctx.Code {
			return false
		}
		return ctx.Version == "" || ext.Version == ctx.Version
	})
}

// Tag selects the first candidate whose tag key matches the context
// attribute of the same key.
func Tag(name, key string) Selector {
	return Func(name, func(candidates []*extension.Extension, ctx extension.Context) (*extension.Extension, error) {
		want := ctx.String(key)
		if want == "" {
			return nil, nil
		}
		return first(candidates, ctx, func(ext *extension.Extension, _ extension.Context) bool {
			return ext.Tags.Matches(key, want)
		}), nil
	})
}

// Tenant matches the tenant tag against the tenant context attribute.
func Tenant() Selector {
	return Tag(NameTenant, extension.KeyTenant)
}

// Group matches the A/B group tag against the group context attribute.
func Group() Selector {
	return Tag(NameGroup, extension.KeyGroup)
}

// GreyList routes contexts whose key attribute is in allowed to the extension
// tagged grey=true, restricted to the context code when one is given.
func GreyList(name, key string, allowed []string) Selector {
	allowed = slices.Clone(allowed)
	return Func(name, func(candidates []*extension.Extension, ctx extension.Context) (*extension.Extension, error) {
		value := ctx.String(key)
		if value == "" || !slices.Contains(allowed, value) {
			return nil, nil
		}
		return first(candidates, ctx, func(ext *extension.Extension, ctx extension.Context) bool {
			if ctx.Code != "" && ext.Code != ctx.Code {
				return false
			}
			return ext.Tags.Matches(TagGrey, "true")
		}), nil
	})
}

// BucketRange maps hash slots below Upto (0..100) to extensions with Code.
// Ranges are evaluated in order, so Upto values should ascend.
type BucketRange struct {
	Code string
	Upto int
}

// Bucket splits traffic by a stable hash of the key attribute into 100 slots
// and selects the extension whose code owns the slot.
func Bucket(name, key string, ranges []BucketRange) Selector {
	ranges = slices.Clone(ranges)
	return Func(name, func(candidates []*extension.Extension, ctx extension.Context) (*extension.Extension, error) {
		value := ctx.String(key)
		if value == "" {
			return nil, nil
		}
		slot := Slot(value)
		for _, r := range ranges {
			if slot < r.Upto {
				return first(candidates, ctx, func(ext *extension.Extension, _ extension.Context) bool {
					return ext.Code == r.Code
				}), nil
			}
		}
		return nil, nil
	})
}

// Slot returns the stable bucket slot (0..99) for value.
func Slot(value string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(value))
	return int(h.Sum32() % 100)
}

// MultiField selects the first candidate whose tags match every listed
// context attribute. Any missing attribute makes it not apply.
func MultiField(name string, keys ...string) Selector {
	keys = slices.Clone(keys)
	return Func(name, func(candidates []*extension.Extension, ctx extension.Context) (*extension.Extension, error) {
		if len(keys) == 0 {
			return nil, nil
		}
		for _, k := range keys {
			if ctx.String(k) == "" {
				return nil, nil
			}
		}
		return first(candidates, ctx, func(ext *extension.Extension, ctx extension.Context) bool {
			for _, k := range keys {
				if !ext.Tags.Matches(k, ctx.String(k)) {
					return false
				}
			}
			return true
		}), nil
	})
}

// Unique selects the single candidate satisfying match and fails with
// ErrMultipleMatched when more than one does.
func Unique(name string, match Match) Selector {
	return Func(name, func(candidates []*extension.Extension, ctx extension.Context) (*extension.Extension, error) {
		var found *extension.Extension
		for _, c := range candidates {
			if c == nil || !match(c, ctx) {
				continue
			}
			if found != nil {
				return nil, errors.WrapInvalid(
					fmt.Errorf("%w: %q and %q", errors.ErrMultipleMatched, found.Code, c.Code),
					"Selector", name, "unique match")
			}
			found = c
		}
		return found, nil
	})
}

// First selects the highest-priority enabled candidate. It is the usual tail
// of a chain.
func First() Selector {
	return Predicate(NameFirst, func(ext *extension.Extension, _ extension.Context) bool {
		return ext.Enabled()
	})
}
