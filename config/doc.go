// Package config provides configuration loading and validation for flexpoint.
//
// Configuration is read from JSON or YAML files, layered over Default, then
// overridden from FLEXPOINT_* environment variables:
//
//	loader := config.NewLoader()
//	loader.AddLayer("flexpoint.yaml")
//	loader.AddLayer("production.yaml") // overrides the first layer
//	cfg, err := loader.Load()
//
// Every layer is checked against an embedded JSON schema (see Schema) before
// it is applied, so unknown keys and wrongly typed values are rejected with
// the offending path. The merged result then passes through Validate, which
// checks cross-field rules such as pool sizes needed by async monitoring.
// Both failures wrap errors.ErrInvalidConfig.
//
// Durations are written as strings ("30m", "1d") or integer nanoseconds.
//
// SafeConfig guards a Config shared between goroutines; Get returns a deep
// copy and Update validates before swapping.
package config
