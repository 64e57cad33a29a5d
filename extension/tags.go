package extension

import (
	"fmt"
	"slices"
)

// Tags is a bag of scalar or string-list values attached to an extension.
type Tags map[string]any

// Has reports whether key is present.
func (t Tags) Has(key string) bool {
	_, ok := t[key]
	return ok
}

// String returns the scalar value of key formatted as a string.
// List values report false.
func (t Tags) String(key string) (string, bool) {
	v, ok := t[key]
	if !ok || v == nil {
		return "", false
	}
	switch val := v.(type) {
	case string:
		return val, true
	case []string, []any:
		return "", false
	default:
		return fmt.Sprint(val), true
	}
}

// Strings returns the value of key as a list. A scalar becomes a one-element list.
func (t Tags) Strings(key string) []string {
	v, ok := t[key]
	if !ok || v == nil {
		return nil
	}
	switch val := v.(type) {
	case []string:
		return slices.Clone(val)
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			out = append(out, fmt.Sprint(item))
		}
		return out
	default:
		s, _ := t.String(key)
		return []string{s}
	}
}

// Matches reports whether key equals value, or contains it when key holds a list.
func (t Tags) Matches(key, value string) bool {
	return slices.Contains(t.Strings(key), value)
}
