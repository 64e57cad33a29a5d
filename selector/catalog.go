package selector

import (
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/c360/flexpoint/errors"
	"github.com/c360/flexpoint/extension"
)

// DefaultChainName is the chain used when a lookup names none.
const DefaultChainName = "default"

// DefaultChain returns the chain [code-version, code, first].
func DefaultChain() *Chain {
	return NewChain(DefaultChainName, CodeVersion(), Code(), First())
}

// CatalogOption configures a Catalog.
type CatalogOption func(*Catalog)

// WithObserver records per-selector latency for every chain resolved through the catalog.
func WithObserver(observer Observer) CatalogOption {
	return func(c *Catalog) { c.observer = observer }
}

// WithLogger sets the logger for selector failures.
func WithLogger(logger *slog.Logger) CatalogOption {
	return func(c *Catalog) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Catalog holds named selectors and chains. It starts with the built-in
// selectors and the default chain registered.
type Catalog struct {
	mu        sync.RWMutex
	selectors map[string]Selector
	chains    map[string]*Chain
	observer  Observer
	logger    *slog.Logger
}

// NewCatalog creates a catalog.
func NewCatalog(opts ...CatalogOption) *Catalog {
	c := &Catalog{
		selectors: make(map[string]Selector),
		chains:    make(map[string]*Chain),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "selector")

	for _, s := range []Selector{Code(), CodeVersion(), Tenant(), Group(), First()} {
		c.selectors[s.Name()] = s
	}
	c.chains[DefaultChainName] = DefaultChain()
	return c
}

// RegisterSelector adds or replaces a named selector.
func (c *Catalog) RegisterSelector(s Selector) error {
	if s == nil || s.Name() == "" {
		return errors.WrapInvalid(fmt.Errorf("selector must be non-nil and named"),
			"Catalog", "RegisterSelector", "selector validation")
	}
	c.mu.Lock()
	_, replaced := c.selectors[s.Name()]
	c.selectors[s.Name()] = s
	c.mu.Unlock()

	c.logger.Debug("Selector registered", "selector", s.Name(), "replaced", replaced)
	return nil
}

// Selector returns the named selector.
func (c *Catalog) Selector(name string) (Selector, error) {
	c.mu.RLock()
	s, ok := c.selectors[name]
	c.mu.RUnlock()
	if !ok {
		return nil, errors.WrapFatal(
			fmt.Errorf("%w: %q", errors.ErrSelectorNotFound, name),
			"Catalog", "Selector", "selector lookup")
	}
	return s, nil
}

// RegisterChain adds or replaces a named chain.
func (c *Catalog) RegisterChain(chain *Chain) error {
	if chain == nil || chain.Name() == "" {
		return errors.WrapInvalid(fmt.Errorf("chain must be non-nil and named"),
			"Catalog", "RegisterChain", "chain validation")
	}
	c.mu.Lock()
	_, replaced := c.chains[chain.Name()]
	c.chains[chain.Name()] = chain
	c.mu.Unlock()

	c.logger.Debug("Selector chain registered", "chain", chain.Name(), "selectors", chain.Len(), "replaced", replaced)
	return nil
}

// Chain returns the named chain or ErrSelectorChainNotFound.
func (c *Catalog) Chain(name string) (*Chain, error) {
	c.mu.RLock()
	chain, ok := c.chains[name]
	c.mu.RUnlock()
	if !ok {
		return nil, errors.WrapFatal(
			fmt.Errorf("%w: %q", errors.ErrSelectorChainNotFound, name),
			"Catalog", "Chain", "chain lookup")
	}
	return chain, nil
}

// BuildChain assembles a chain from registered selector names and registers
// it. Unknown names fail with ErrSelectorNotFound and nothing is registered.
func (c *Catalog) BuildChain(name string, selectorNames []string) (*Chain, error) {
	selectors := make([]Selector, 0, len(selectorNames))
	for _, sn := range selectorNames {
		s, err := c.Selector(sn)
		if err != nil {
			return nil, errors.WrapFatal(err, "Catalog", "BuildChain", fmt.Sprintf("build chain %q", name))
		}
		selectors = append(selectors, s)
	}

	chain := NewChain(name, selectors...)
	if err := c.RegisterChain(chain); err != nil {
		return nil, err
	}
	return chain, nil
}

// Chains returns the registered chain names, sorted.
func (c *Catalog) Chains() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Sorted(maps.Keys(c.chains))
}

// Resolve runs the named chain with the catalog's observer and logger.
func (c *Catalog) Resolve(
	chainName string, candidates []*extension.Extension, ctx extension.Context,
) (*extension.Extension, error) {
	chain, err := c.Chain(chainName)
	if err != nil {
		return nil, err
	}
	return chain.resolve(candidates, ctx, c.observer, c.logger)
}
