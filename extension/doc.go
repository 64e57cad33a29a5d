// Package extension defines the data model of the dispatch runtime.
//
// A Capability is an interface type. An Extension wraps a concrete value
// implementing one or more capabilities together with its business code,
// version, tags and metadata. A Context is the per-call bag of attributes a
// resolution is matched against.
//
//	type OrderProcessor interface{ Process(order Order) error }
//
//	capability := extension.CapabilityOf[OrderProcessor]()
//	ext := extension.New(mallProcessor{},
//	    extension.WithCode("mall"),
//	    extension.WithPriority(10),
//	    extension.WithTag("region", []string{"eu", "us"}),
//	)
//	ext.ID(capability) // "orders.OrderProcessor#mall"
//
//	ctx := extension.NewContext("mall").With(extension.KeyTenant, "acme")
//
// Priorities sort ascending. Extensions without metadata sort after every
// extension that has it.
package extension
