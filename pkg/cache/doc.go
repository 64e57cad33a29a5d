// Package cache provides a generic, thread-safe TTL cache with always-on
// statistics and optional Prometheus metrics.
//
// Every entry carries its own expiry instant. Expired entries are never
// returned: a lookup that finds one purges it, counts an eviction and reports a
// miss. There is no background sweeper, so a cache that is never read again
// keeps its expired entries until Delete, DeletePrefix or Clear.
//
//	c, err := cache.NewTTL[string](30*time.Minute,
//	    cache.WithMetrics[string](registry, "decisions"),
//	)
//	_, _ = c.SetWithTTL("order|code=JD", "order#JD", time.Minute)
//	v, ok := c.Get("order|code=JD")
//
// Time is read through a timestamp.Clock; tests inject a ManualClock with
// WithClock to step past expiry deterministically.
package cache
