package dispatch

import (
	"context"
	"fmt"

	"github.com/c360/flexpoint/errors"
	"github.com/c360/flexpoint/extension"
)

// Invoke runs fn as one invocation of ext under capability c and reports
// its duration and outcome. An error counts as a failed invocation and an
// exception. A panic is reported the same way and then re-raised.
func Invoke(
	ctx context.Context, rt *Runtime, c extension.Capability, ext *extension.Extension, fn func() error,
) (err error) {
	start := rt.clock.Now()
	defer func() {
		d := rt.clock.Now().Sub(start)
		if p := recover(); p != nil {
			rt.observe(ctx, c, ext, d, fmt.Errorf("panic: %v", p))
			panic(p)
		}
		rt.observe(ctx, c, ext, d, err)
	}()
	return fn()
}

// Lookup resolves capability T for ectx and returns the typed instance.
// No match returns the zero value with a nil extension and no error.
func Lookup[T any](rt *Runtime, ectx extension.Context) (T, *extension.Extension, error) {
	var zero T
	c := extension.CapabilityOf[T]()
	ext, err := rt.Find(c, ectx)
	if err != nil || ext == nil {
		return zero, nil, err
	}
	instance, ok := ext.Instance.(T)
	if !ok {
		return zero, nil, errors.WrapInvalid(
			fmt.Errorf("%w: %T does not implement %s", errors.ErrInvalidImplementation, ext.Instance, c.Name()),
			"Runtime", "Lookup", "type assertion")
	}
	return instance, ext, nil
}

// Call resolves capability T for ectx and invokes fn on it through Invoke.
// No match fails with ErrCapabilityNotFound.
func Call[T, R any](ctx context.Context, rt *Runtime, ectx extension.Context, fn func(T) (R, error)) (R, error) {
	var zero R
	instance, ext, err := Lookup[T](rt, ectx)
	if err != nil {
		return zero, err
	}
	c := extension.CapabilityOf[T]()
	if ext == nil {
		return zero, errors.WrapInvalid(
			fmt.Errorf("%w: %s for [%s]", errors.ErrCapabilityNotFound, c.Name(), ectx.CacheKey()),
			"Runtime", "Call", "resolve capability")
	}

	var result R
	err = Invoke(ctx, rt, c, ext, func() error {
		var callErr error
		result, callErr = fn(instance)
		return callErr
	})
	if err != nil {
		return zero, err
	}
	return result, nil
}
