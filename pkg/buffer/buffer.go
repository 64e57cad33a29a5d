// Package buffer provides a generic, thread-safe circular buffer that keeps
// the most recent items and drops the oldest on overflow.
package buffer

import (
	"sync"
	"sync/atomic"
)

// Circular is a fixed-capacity ring. Writes never block; once full, each
// write overwrites the oldest item.
type Circular[T any] struct {
	mu       sync.RWMutex
	items    []T
	capacity int
	size     int
	head     int // next write position

	writes  atomic.Int64
	dropped atomic.Int64
	onDrop  func(T)
}

// Option configures a Circular buffer.
type Option[T any] func(*Circular[T])

// WithDropCallback sets a function called with each item displaced by an
// overflow. It runs after the buffer lock is released.
func WithDropCallback[T any](fn func(T)) Option[T] {
	return func(c *Circular[T]) {
		c.onDrop = fn
	}
}

// NewCircular creates a circular buffer. Capacity is at least 1.
func NewCircular[T any](capacity int, opts ...Option[T]) *Circular[T] {
	if capacity <= 0 {
		capacity = 1
	}
	c := &Circular[T]{
		items:    make([]T, capacity),
		capacity: capacity,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Write appends an item, displacing the oldest one when full.
func (c *Circular[T]) Write(item T) {
	c.mu.Lock()
	var displaced T
	overflow := c.size == c.capacity
	if overflow {
		displaced = c.items[c.head]
	} else {
		c.size++
	}
	c.items[c.head] = item
	c.head = (c.head + 1) % c.capacity
	c.mu.Unlock()

	c.writes.Add(1)
	if overflow {
		c.dropped.Add(1)
		if c.onDrop != nil {
			c.onDrop(displaced)
		}
	}
}

// Latest returns up to n of the most recent items, oldest first.
// n <= 0 returns everything held.
func (c *Circular[T]) Latest(n int) []T {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if n <= 0 || n > c.size {
		n = c.size
	}
	out := make([]T, n)
	start := (c.head - n + c.capacity) % c.capacity
	for i := 0; i < n; i++ {
		out[i] = c.items[(start+i)%c.capacity]
	}
	return out
}

// Len returns the number of items held.
func (c *Circular[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.size
}

// Capacity returns the maximum number of items held.
func (c *Circular[T]) Capacity() int {
	return c.capacity
}

// Clear removes all items. Counters are preserved.
func (c *Circular[T]) Clear() {
	c.mu.Lock()
	c.items = make([]T, c.capacity)
	c.size = 0
	c.head = 0
	c.mu.Unlock()
}

// Stats is a snapshot of buffer counters.
type Stats struct {
	Writes   int64 `json:"writes"`
	Dropped  int64 `json:"dropped"`
	Size     int   `json:"size"`
	Capacity int   `json:"capacity"`
}

// Stats returns the current counters.
func (c *Circular[T]) Stats() Stats {
	return Stats{
		Writes:   c.writes.Load(),
		Dropped:  c.dropped.Load(),
		Size:     c.Len(),
		Capacity: c.capacity,
	}
}
