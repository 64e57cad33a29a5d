package extension

import (
	"fmt"
	"path"
	"reflect"
	"strings"

	"github.com/c360/flexpoint/errors"
)

// Capability identifies an interface type under which implementations are
// registered. The zero value is not a valid capability.
//
// Capabilities are comparable and safe to use as map keys.
type Capability struct {
	t    reflect.Type
	name string
}

// CapabilityOf returns the capability for interface type T.
// It panics if T is not an interface type.
func CapabilityOf[T any]() Capability {
	c, err := CapabilityFor(reflect.TypeOf((*T)(nil)).Elem())
	if err != nil {
		panic(err)
	}
	return c
}

// CapabilityFor returns the capability for t, which must be an interface type.
func CapabilityFor(t reflect.Type) (Capability, error) {
	if t == nil {
		return Capability{}, errors.WrapInvalid(errors.ErrInvalidImplementation,
			"extension", "CapabilityFor", "nil capability type")
	}
	if t.Kind() != reflect.Interface {
		return Capability{}, errors.WrapInvalid(
			fmt.Errorf("%w: %v is a %s, not an interface", errors.ErrInvalidImplementation, t, t.Kind()),
			"extension", "CapabilityFor", "capability type check")
	}
	return Capability{t: t, name: typeName(t)}, nil
}

// typeName yields a stable "pkg.Type" name with generic parameters stripped.
func typeName(t reflect.Type) string {
	name := t.Name()
	if i := strings.IndexByte(name, '['); i >= 0 {
		name = name[:i]
	}
	if name == "" {
		name = t.String()
	}
	if p := t.PkgPath(); p != "" {
		return path.Base(p) + "." + name
	}
	return name
}

// Name returns the stable "pkg.Type" name.
func (c Capability) Name() string { return c.name }

// Type returns the underlying interface type.
func (c Capability) Type() reflect.Type { return c.t }

// String implements fmt.Stringer.
func (c Capability) String() string { return c.name }

// IsZero reports whether c is the zero Capability.
func (c Capability) IsZero() bool { return c.t == nil }

// ImplementedBy reports whether instance satisfies the capability.
func (c Capability) ImplementedBy(instance any) bool {
	if c.t == nil || instance == nil {
		return false
	}
	return reflect.TypeOf(instance).Implements(c.t)
}
