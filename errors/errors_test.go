package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestErrorClass_String(t *testing.T) {
	tests := []struct {
		class    ErrorClass
		expected string
	}{
		{ErrorTransient, "transient"},
		{ErrorInvalid, "invalid"},
		{ErrorFatal, "fatal"},
		{ErrorClass(999), "unknown"},
	}

	for _, test := range tests {
		t.Run(test.expected, func(t *testing.T) {
			assert.Equal(t, test.expected, test.class.String())
		})
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"connection timeout", ErrConnectionTimeout, true},
		{"connection lost", ErrConnectionLost, true},
		{"rate limited", ErrRateLimited, true},
		{"context deadline exceeded", context.DeadlineExceeded, true},
		{"invalid implementation", ErrInvalidImplementation, false},
		{"timeout in message", fmt.Errorf("publish timeout occurred"), true},
		{"classified transient", &ClassifiedError{Class: ErrorTransient, Err: fmt.Errorf("test")}, true},
		{"classified fatal", &ClassifiedError{Class: ErrorFatal, Err: fmt.Errorf("test")}, false},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert.Equal(t, test.expected, IsTransient(test.err))
		})
	}
}

func TestIsFatal(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"invalid config", ErrInvalidConfig, true},
		{"chain not found", ErrSelectorChainNotFound, true},
		{"selector not found", ErrSelectorNotFound, true},
		{"capability not found", ErrCapabilityNotFound, false},
		{"wrapped chain not found", fmt.Errorf("lookup: %w", ErrSelectorChainNotFound), true},
		{"classified transient", &ClassifiedError{Class: ErrorTransient, Err: ErrInvalidConfig}, false},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert.Equal(t, test.expected, IsFatal(test.err))
		})
	}
}

func TestIsInvalid(t *testing.T) {
	assert.True(t, IsInvalid(ErrInvalidImplementation))
	assert.True(t, IsInvalid(ErrMultipleMatched))
	assert.True(t, IsInvalid(ErrCapabilityNotFound))
	assert.False(t, IsInvalid(ErrConnectionLost))
	assert.False(t, IsInvalid(nil))
}

func TestClassify(t *testing.T) {
	assert.Equal(t, ErrorFatal, Classify(ErrSelectorNotFound))
	assert.Equal(t, ErrorInvalid, Classify(ErrMultipleMatched))
	assert.Equal(t, ErrorTransient, Classify(errors.New("something odd")))
	assert.Equal(t, ErrorInvalid, Classify(WrapInvalid(ErrConnectionLost, "C", "M", "a")))
}

func TestWrap(t *testing.T) {
	assert.Nil(t, Wrap(nil, "Registry", "Register", "validate"))

	err := Wrap(ErrInvalidImplementation, "Registry", "Register", "capability inference")
	assert.Equal(t, "Registry.Register: capability inference failed: invalid implementation", err.Error())
	assert.True(t, errors.Is(err, ErrInvalidImplementation))
}

func TestClassifiedWrappers(t *testing.T) {
	tests := []struct {
		name  string
		wrap  func(error, string, string, string) error
		class ErrorClass
	}{
		{"transient", WrapTransient, ErrorTransient},
		{"invalid", WrapInvalid, ErrorInvalid},
		{"fatal", WrapFatal, ErrorFatal},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert.Nil(t, test.wrap(nil, "C", "M", "a"))

			err := test.wrap(ErrSelectorChainNotFound, "Runtime", "Find", "chain lookup")
			var ce *ClassifiedError
			assert.True(t, errors.As(err, &ce))
			assert.Equal(t, test.class, ce.Class)
			assert.Equal(t, "Runtime", ce.Component)
			assert.Equal(t, "Find", ce.Operation)
			assert.True(t, errors.Is(err, ErrSelectorChainNotFound))
		})
	}
}

func TestRetryConfig(t *testing.T) {
	rc := DefaultRetryConfig()
	assert.True(t, rc.ShouldRetry(ErrConnectionLost, 0))
	assert.False(t, rc.ShouldRetry(ErrConnectionLost, rc.MaxRetries))
	assert.False(t, rc.ShouldRetry(ErrInvalidConfig, 0))
	assert.False(t, rc.ShouldRetry(nil, 0))

	converted := rc.ToRetryConfig()
	assert.Equal(t, rc.MaxRetries+1, converted.MaxAttempts)
	assert.Equal(t, 50*time.Millisecond, converted.InitialDelay)
	assert.True(t, converted.AddJitter)
}
