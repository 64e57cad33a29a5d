// Package errors provides standardized error handling for flexpoint.
//
// # Overview
//
// Errors use the three-class system shared by every flexpoint package:
// Transient (temporary, retryable), Invalid (bad input, non-retryable) and
// Fatal (the calling operation cannot proceed).
//
// # Taxonomy
//
//   - ErrCapabilityNotFound: nothing registered or matched for a capability. Lookups
//     return empty by default; required lookups surface this error.
//   - ErrSelectorChainNotFound / ErrSelectorNotFound: configuration references an
//     unregistered chain or selector. Fatal to the resolution call.
//   - ErrInvalidImplementation: the value implements no recognized capability.
//   - ErrMultipleMatched: a uniqueness-requiring selector matched several candidates.
//   - ErrInvalidConfig: configuration rejected at build time.
//
// Errors raised inside selectors, monitoring handlers and event subscribers are
// caught at the pipeline boundary and logged. They never reach the business caller.
//
// # Error Wrapping Pattern
//
// All wrapping follows the format:
//
//	"component.method: action failed: %w"
//
// Three wrappers set the classification:
//
//	errors.WrapTransient(err, "Collector", "Forward", "publish")
//	errors.WrapInvalid(err, "Registry", "Register", "capability inference")
//	errors.WrapFatal(err, "Runtime", "Find", "chain lookup")
//
// Callers test for taxonomy members with the standard library:
//
//	if errors.Is(err, fperrors.ErrSelectorChainNotFound) { ... }
package errors
