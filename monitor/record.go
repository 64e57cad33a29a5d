package monitor

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/beorn7/perks/quantile"

	"github.com/c360/flexpoint/health"
	"github.com/c360/flexpoint/pkg/timestamp"
)

// Quantile targets with their allowed rank error.
var latencyTargets = map[float64]float64{
	0.95: 0.005,
	0.99: 0.001,
}

// Record accumulates invocation statistics for one extension id. Counters
// are lock-free; only the latency quantile stream takes a mutex.
type Record struct {
	id    string
	clock timestamp.Clock

	total      atomic.Int64
	success    atomic.Int64
	failure    atomic.Int64
	exceptions atomic.Int64

	cumulative atomic.Int64 // nanoseconds
	minNanos   atomic.Int64
	maxNanos   atomic.Int64

	sinceMs   atomic.Int64
	lastMs    atomic.Int64
	lastError atomic.Pointer[string]

	mu      sync.Mutex
	latency *quantile.Stream
}

func newRecord(id string, clock timestamp.Clock) *Record {
	r := &Record{
		id:      id,
		clock:   clock,
		latency: quantile.NewTargeted(latencyTargets),
	}
	r.minNanos.Store(math.MaxInt64)
	r.sinceMs.Store(timestamp.ToUnixMs(clock.Now()))
	return r
}

// ID returns the extension id the record belongs to.
func (r *Record) ID() string { return r.id }

// Observe adds one invocation. Negative durations count as zero.
func (r *Record) Observe(d time.Duration, success bool) {
	if d < 0 {
		d = 0
	}
	nanos := int64(d)

	r.total.Add(1)
	if success {
		r.success.Add(1)
	} else {
		r.failure.Add(1)
	}
	r.cumulative.Add(nanos)

	for {
		cur := r.minNanos.Load()
		if nanos >= cur || r.minNanos.CompareAndSwap(cur, nanos) {
			break
		}
	}
	for {
		cur := r.maxNanos.Load()
		if nanos <= cur || r.maxNanos.CompareAndSwap(cur, nanos) {
			break
		}
	}
	r.lastMs.Store(timestamp.ToUnixMs(r.clock.Now()))

	r.mu.Lock()
	r.latency.Insert(float64(nanos))
	r.mu.Unlock()
}

// Exception counts one exception. It does not count as an invocation.
func (r *Record) Exception(err error) {
	r.exceptions.Add(1)
	if err != nil {
		msg := err.Error()
		r.lastError.Store(&msg)
	}
}

// Stats is a point-in-time view of a Record with derived figures.
type Stats struct {
	ID         string
	Total      int64
	Success    int64
	Failure    int64
	Exceptions int64

	SuccessRate     float64
	TotalDuration   time.Duration
	AverageDuration time.Duration
	MinDuration     time.Duration
	MaxDuration     time.Duration
	P95             time.Duration
	P99             time.Duration
	QPS             float64

	Since          time.Time
	LastInvocation time.Time
	LastError      string
}

// Snapshot derives Stats from the current counters. Success rate and
// averages are zero when nothing was recorded; QPS divides by at least one
// second of elapsed time.
func (r *Record) Snapshot() Stats {
	s := Stats{
		ID:            r.id,
		Total:         r.total.Load(),
		Success:       r.success.Load(),
		Failure:       r.failure.Load(),
		Exceptions:    r.exceptions.Load(),
		TotalDuration: time.Duration(r.cumulative.Load()),
		MaxDuration:   time.Duration(r.maxNanos.Load()),
		Since:         timestamp.FromUnixMs(r.sinceMs.Load()),
	}
	if last := r.lastMs.Load(); last > 0 {
		s.LastInvocation = timestamp.FromUnixMs(last)
	}
	if msg := r.lastError.Load(); msg != nil {
		s.LastError = *msg
	}
	if s.Total == 0 {
		return s
	}

	s.SuccessRate = float64(s.Success) / float64(s.Total)
	s.AverageDuration = s.TotalDuration / time.Duration(s.Total)
	if m := r.minNanos.Load(); m != math.MaxInt64 {
		s.MinDuration = time.Duration(m)
	}

	elapsed := r.clock.Now().Sub(s.Since).Seconds()
	s.QPS = float64(s.Total) / max(elapsed, 1)

	r.mu.Lock()
	s.P95 = time.Duration(r.latency.Query(0.95))
	s.P99 = time.Duration(r.latency.Query(0.99))
	r.mu.Unlock()

	return s
}

// HealthMetrics converts the stats into the summary attached to a health.Status.
func (s Stats) HealthMetrics() *health.Metrics {
	return &health.Metrics{
		Invocations:    s.Total,
		Failures:       s.Failure,
		Exceptions:     s.Exceptions,
		SuccessRate:    s.SuccessRate,
		AverageLatency: s.AverageDuration,
		P99Latency:     s.P99,
		LastActivity:   s.LastInvocation,
	}
}
