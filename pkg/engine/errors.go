// Package engine provides the declarative reconciliation core: typed
// resources, the dependency graph, the applier, and the run report it
// produces. Catalogs are compiled by pkg/catalog and executed here.
package engine

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorClass classifies an error for propagation policy.
// Schema and cycle errors are fatal to a whole run and surface before any
// mutation; provider and blocked errors are isolated to a single resource
// and its dependents.
type ErrorClass string

const (
	// ErrorClassSchema indicates invalid resource attributes or parameters.
	ErrorClassSchema ErrorClass = "schema"

	// ErrorClassCycle indicates a cyclic dependency relation in a catalog.
	ErrorClassCycle ErrorClass = "cycle"

	// ErrorClassProvider indicates a failure inside a provider read or apply.
	ErrorClassProvider ErrorClass = "provider"

	// ErrorClassBlocked indicates a resource skipped because a dependency
	// failed. Generated by the applier, never raised by providers.
	ErrorClassBlocked ErrorClass = "blocked"

	// ErrorClassCancelled indicates a resource that was never scheduled
	// because the run was cancelled.
	ErrorClassCancelled ErrorClass = "cancelled"
)

// ProviderReason narrows a provider error for callers that branch on cause.
type ProviderReason string

const (
	// ReasonPermissionDenied indicates insufficient privilege on the host.
	ReasonPermissionDenied ProviderReason = "permission_denied"

	// ReasonNotSupported indicates the host lacks the required subsystem
	// (package manager, semanage, ...).
	ReasonNotSupported ProviderReason = "not_supported"

	// ReasonExternalToolFailed indicates a host command failed or timed out.
	ReasonExternalToolFailed ProviderReason = "external_tool_failed"
)

// Error is the classified error type used throughout the engine.
type Error struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Reason narrows provider errors; empty for other classes.
	Reason ProviderReason `json:"reason,omitempty"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Resource is the resource ID the error is attributed to, if any.
	Resource string `json:"resource,omitempty"`

	// Field is the offending attribute for schema errors.
	Field string `json:"field,omitempty"`

	// Err is the underlying error.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s]", e.Class)
	if e.Reason != "" {
		fmt.Fprintf(&b, "[%s]", e.Reason)
	}
	b.WriteString(" ")
	b.WriteString(e.Message)
	if e.Resource != "" {
		fmt.Fprintf(&b, " (resource=%s", e.Resource)
		if e.Field != "" {
			fmt.Fprintf(&b, ", field=%s", e.Field)
		}
		b.WriteString(")")
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

// Unwrap returns the underlying error for error chain inspection.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is implements error equality for errors.Is: two engine errors match when
// their class and reason match.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Class == t.Class && (t.Reason == "" || e.Reason == t.Reason)
}

// WithResource attributes the error to a resource ID.
func (e *Error) WithResource(id string) *Error {
	e.Resource = id
	return e
}

// NewSchemaError creates a compile-time attribute validation error.
func NewSchemaError(resource, field, message string) *Error {
	return &Error{
		Class:    ErrorClassSchema,
		Message:  message,
		Resource: resource,
		Field:    field,
	}
}

// NewCycleError creates a compile-time dependency cycle error. The path is
// the cycle in walk order, e.g. ["a", "b", "a"].
func NewCycleError(path []string) *Error {
	return &Error{
		Class:   ErrorClassCycle,
		Message: fmt.Sprintf("dependency cycle detected: %s", strings.Join(path, " -> ")),
	}
}

// NewProviderError creates an apply-time provider error.
func NewProviderError(reason ProviderReason, message string, err error) *Error {
	return &Error{
		Class:   ErrorClassProvider,
		Reason:  reason,
		Message: message,
		Err:     err,
	}
}

// NewBlockedError creates the synthetic error recorded for a dependent of a
// failed resource.
func NewBlockedError(resource, failedDep string) *Error {
	return &Error{
		Class:    ErrorClassBlocked,
		Message:  fmt.Sprintf("blocked by %s", failedDep),
		Resource: resource,
	}
}

// IsSchemaError reports whether err is a schema validation error.
func IsSchemaError(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Class == ErrorClassSchema
}

// IsCycleError reports whether err is a dependency cycle error.
func IsCycleError(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Class == ErrorClassCycle
}

// IsProviderError reports whether err is a provider error, optionally
// narrowed to a reason.
func IsProviderError(err error, reason ProviderReason) bool {
	var e *Error
	if !errors.As(err, &e) || e.Class != ErrorClassProvider {
		return false
	}
	return reason == "" || e.Reason == reason
}
