// Package policy gates compiled catalogs through Open Policy Agent before
// they are applied.
//
// Policies are written in Rego and compiled once at gate construction. Each
// resource of a catalog is evaluated against every enabled policy; any
// error-severity violation blocks the run. Two policies ship built in:
// resource-naming (the kind:title ID convention) and
// dangerous-recursive-delete, which rejects recursive tidy resources whose
// target path is not an allowlisted housekeeping root. The latter exists so
// a mis-resolved lookup can never compile into a sweep of arbitrary host
// paths.
package policy
