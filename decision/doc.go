// Package decision caches resolution outcomes so repeated lookups with the
// same context skip the selector chain.
//
// A decision is stored under the capability name and a caller-chosen key,
// usually extension.Context.CacheKey. Invalidate with no keys drops every
// decision of a capability, which is what registration changes call for.
// Expiry is lazy; there is no background sweeper.
package decision
