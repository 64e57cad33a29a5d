package selector

import (
	stderrors "errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/flexpoint/errors"
	"github.com/c360/flexpoint/extension"
)

// Observer receives the time each selector spent inside a chain.
// *metric.Metrics satisfies it.
type Observer interface {
	RecordSelector(chain, selector string, duration time.Duration)
}

// Chain is a named, ordered sequence of selectors. Resolution runs them in
// order and returns the first non-nil result.
//
// Mutations copy the selector list, so Resolve reads a snapshot without
// locking and never observes a partial update.
type Chain struct {
	name      string
	mu        sync.Mutex
	selectors atomic.Pointer[[]Selector]
}

// NewChain creates a chain. Nil selectors are ignored.
func NewChain(name string, selectors ...Selector) *Chain {
	c := &Chain{name: name}
	list := slices.DeleteFunc(slices.Clone(selectors), func(s Selector) bool { return s == nil })
	c.selectors.Store(&list)
	return c
}

// Name returns the chain name.
func (c *Chain) Name() string { return c.name }

// Add appends a selector.
func (c *Chain) Add(s Selector) {
	if s == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	next := append(slices.Clone(*c.selectors.Load()), s)
	c.selectors.Store(&next)
}

// Insert places a selector at index, clamped to the chain bounds.
func (c *Chain) Insert(index int, s Selector) {
	if s == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	current := *c.selectors.Load()
	index = max(0, min(index, len(current)))
	next := slices.Insert(slices.Clone(current), index, s)
	c.selectors.Store(&next)
}

// Remove deletes the first selector with the given name.
func (c *Chain) Remove(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	current := *c.selectors.Load()
	idx := slices.IndexFunc(current, func(s Selector) bool { return s.Name() == name })
	if idx < 0 {
		return false
	}
	next := slices.Delete(slices.Clone(current), idx, idx+1)
	c.selectors.Store(&next)
	return true
}

// Selectors returns a copy of the selectors in evaluation order.
func (c *Chain) Selectors() []Selector {
	return slices.Clone(*c.selectors.Load())
}

// Len returns the number of selectors.
func (c *Chain) Len() int {
	return len(*c.selectors.Load())
}

// Resolve runs the chain over priority-ordered candidates. It returns nil
// when candidates is empty or no selector matches.
func (c *Chain) Resolve(candidates []*extension.Extension, ctx extension.Context) (*extension.Extension, error) {
	return c.resolve(candidates, ctx, nil, slog.Default())
}

func (c *Chain) resolve(
	candidates []*extension.Extension, ctx extension.Context, observer Observer, logger *slog.Logger,
) (*extension.Extension, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	for _, s := range *c.selectors.Load() {
		start := time.Now()
		ext, err := c.apply(s, candidates, ctx)
		if observer != nil {
			observer.RecordSelector(c.name, s.Name(), time.Since(start))
		}

		if err != nil {
			if stderrors.Is(err, errors.ErrMultipleMatched) {
				return nil, err
			}
			logger.Warn("Selector failed, skipping",
				"chain", c.name, "selector", s.Name(), "context", ctx.CacheKey(), "error", err)
			continue
		}
		if ext != nil {
			return ext, nil
		}
	}
	return nil, nil
}

// apply calls one selector, turning a panic into an error.
func (c *Chain) apply(
	s Selector, candidates []*extension.Extension, ctx extension.Context,
) (ext *extension.Extension, err error) {
	defer func() {
		if r := recover(); r != nil {
			ext, err = nil, fmt.Errorf("selector panic: %v", r)
		}
	}()
	return s.Select(candidates, ctx)
}
