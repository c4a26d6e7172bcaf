package policy

import "time"

// Severity is the severity level of a policy violation.
type Severity string

const (
	// SeverityWarning marks violations that are reported but do not block.
	SeverityWarning Severity = "warning"

	// SeverityError marks violations that block the run.
	SeverityError Severity = "error"
)

// Policy is one Rego rule set evaluated against compiled catalogs.
type Policy struct {
	// Name is the unique policy name.
	Name string `json:"name"`

	// Description explains what the policy enforces.
	Description string `json:"description"`

	// Rego is the policy source.
	Rego string `json:"rego"`

	// Severity is the default severity for the policy's violations.
	Severity Severity `json:"severity"`

	// Enabled indicates whether the policy is evaluated.
	Enabled bool `json:"enabled"`

	// Tags label the policy for listing.
	Tags []string `json:"tags,omitempty"`
}

// Violation is a single policy violation against one resource.
type Violation struct {
	// Policy names the violated policy.
	Policy string `json:"policy"`

	// ResourceID is the offending resource.
	ResourceID string `json:"resource_id,omitempty"`

	// Message describes the violation.
	Message string `json:"message"`

	// Severity is the violation severity.
	Severity Severity `json:"severity"`
}

// Result is the outcome of gating one catalog.
type Result struct {
	// Allowed is false when any error-severity violation exists.
	Allowed bool `json:"allowed"`

	// Violations lists every violation found.
	Violations []Violation `json:"violations,omitempty"`

	// EvaluatedAt records when the gate ran.
	EvaluatedAt time.Time `json:"evaluated_at"`
}
