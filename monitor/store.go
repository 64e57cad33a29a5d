package monitor

import (
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/c360/flexpoint/pkg/timestamp"
)

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithClock sets the time source for timestamps and QPS.
func WithClock(clock timestamp.Clock) StoreOption {
	return func(s *Store) { s.clock = timestamp.OrSystem(clock) }
}

// Store keeps one Record per extension id. Records are created on first use
// and live until reset.
type Store struct {
	records sync.Map // string -> *Record
	clock   timestamp.Clock
}

// NewStore creates an empty store.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{clock: timestamp.System}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Record returns the record for id, creating it if needed.
func (s *Store) Record(id string) *Record {
	if r, ok := s.records.Load(id); ok {
		return r.(*Record)
	}
	r, _ := s.records.LoadOrStore(id, newRecord(id, s.clock))
	return r.(*Record)
}

// RecordInvocation adds one invocation to id's record.
func (s *Store) RecordInvocation(id string, d time.Duration, success bool) {
	s.Record(id).Observe(d, success)
}

// RecordException counts one exception against id.
func (s *Store) RecordException(id string, err error) {
	s.Record(id).Exception(err)
}

// Metrics returns the stats for id. An unseen id yields zeroed stats
// carrying only the id.
func (s *Store) Metrics(id string) Stats {
	if r, ok := s.records.Load(id); ok {
		return r.(*Record).Snapshot()
	}
	return Stats{ID: id}
}

// All returns stats for every tracked id.
func (s *Store) All() map[string]Stats {
	out := make(map[string]Stats)
	s.records.Range(func(key, value any) bool {
		out[key.(string)] = value.(*Record).Snapshot()
		return true
	})
	return out
}

// IDs returns the tracked ids, sorted.
func (s *Store) IDs() []string {
	ids := make(map[string]struct{})
	s.records.Range(func(key, _ any) bool {
		ids[key.(string)] = struct{}{}
		return true
	})
	return slices.Sorted(maps.Keys(ids))
}

// Reset drops id's record. It reports whether one existed.
func (s *Store) Reset(id string) bool {
	_, existed := s.records.LoadAndDelete(id)
	return existed
}

// ResetAll drops every record.
func (s *Store) ResetAll() {
	s.records.Clear()
}
