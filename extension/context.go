package extension

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
)

// Well-known context attribute keys.
const (
	KeyTenant = "tenant"
	KeyGroup  = "group"
	KeyUser   = "user"
)

// Context is the per-call bag a resolution is matched against. It is a value
// type; With and WithVersion return modified copies.
type Context struct {
	Code       string
	Version    string // empty matches any version
	Attributes map[string]any
}

// NewContext returns a Context for code.
func NewContext(code string) Context {
	return Context{Code: code}
}

// WithVersion returns a copy of c requesting version.
func (c Context) WithVersion(version string) Context {
	c.Version = version
	return c
}

// With returns a copy of c with key set to value.
func (c Context) With(key string, value any) Context {
	attrs := make(map[string]any, len(c.Attributes)+1)
	maps.Copy(attrs, c.Attributes)
	attrs[key] = value
	c.Attributes = attrs
	return c
}

// Get returns the attribute stored under key.
func (c Context) Get(key string) (any, bool) {
	v, ok := c.Attributes[key]
	return v, ok
}

// String returns the attribute stored under key formatted as a string,
// or "" when absent.
func (c Context) String(key string) string {
	v, ok := c.Attributes[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// CacheKey returns a deterministic key for decision caching. Code,
// version and attribute keys are quoted and values rendered with their Go
// syntax, so distinct contexts never share a key.
func (c Context) CacheKey() string {
	var b strings.Builder
	b.WriteString("code=")
	b.WriteString(strconv.Quote(c.Code))
	if c.Version != "" {
		b.WriteString(";version=")
		b.WriteString(strconv.Quote(c.Version))
	}
	for _, k := range slices.Sorted(maps.Keys(c.Attributes)) {
		b.WriteByte(';')
		b.WriteString(strconv.Quote(k))
		b.WriteByte('=')
		fmt.Fprintf(&b, "%#v", c.Attributes[k])
	}
	return b.String()
}
