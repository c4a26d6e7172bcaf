// Package catalog compiles host administration parameters into a validated,
// dependency-ordered resource catalog.
//
// # Overview
//
// Compilation is the only place desired state is decided. The compiler takes
// a Params value (YAML-loaded, validator-checked) plus a RuntimeContext and
// emits an engine.Catalog: every conditional branch is resolved, every
// resource's attributes are validated against its kind's CUE schema, and the
// dependency graph is checked for cycles. A catalog that compiles cleanly
// can be applied without further policy decisions.
//
// # Components
//
// Compiler: branch selection (exactly one logged-shell branch per run), the
// prelink lifecycle resource set, and always-on access rules.
//
// SchemaRegistry: per-kind CUE attribute schemas; violations surface as
// schema errors naming the resource and field.
//
// Resolver: layered key lookup over YAML mappings and Starlark scripts. A
// missing layer or key falls through; only a malformed layer is an error.
//
// # Determinism
//
// Identical parameters and runtime context always produce the identical
// resource sequence: branch selection is a pure function of Params, and the
// graph order breaks ties by declaration order.
package catalog
