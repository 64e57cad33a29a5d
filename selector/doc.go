// Package selector resolves a context to one extension among candidates.
//
// A Selector inspects priority-ordered candidates and either picks one or
// returns nil to signal that it does not apply. A Chain runs selectors in
// order and stops at the first non-nil pick; if none applies the result is
// nil, not an error. Selector errors and panics are logged and skipped so the
// rest of the chain still runs. ErrMultipleMatched, raised by Unique, is the
// one selector error that reaches the caller.
//
// A Catalog names selectors and chains so configuration can refer to them:
//
//	catalog := selector.NewCatalog()
//	_ = catalog.RegisterSelector(selector.GreyList("grey-users", extension.KeyUser, []string{"42"}))
//	_, err := catalog.BuildChain("grey", []string{"grey-users", "code", "first"})
//
//	ext, err := catalog.Resolve("grey", candidates, extension.NewContext("mall").With(extension.KeyUser, "42"))
//
// Selectors run without a timeout on the caller's goroutine.
package selector
