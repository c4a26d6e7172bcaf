package engine

import (
	"fmt"
	"io"
	"time"
)

// Outcome is the per-resource result of a reconciliation run.
type Outcome string

const (
	// OutcomeUnchanged means the resource was already converged.
	OutcomeUnchanged Outcome = "unchanged"

	// OutcomeChanged means the resource was mutated and verified converged.
	OutcomeChanged Outcome = "changed"

	// OutcomeFailed means the resource's read or apply failed.
	OutcomeFailed Outcome = "failed"

	// OutcomeBlocked means a dependency of the resource failed.
	OutcomeBlocked Outcome = "blocked"

	// OutcomeSkipped means the resource was never scheduled (cancelled run).
	OutcomeSkipped Outcome = "skipped"
)

// IsFailure reports whether the outcome counts against overall run success.
func (o Outcome) IsFailure() bool {
	return o == OutcomeFailed || o == OutcomeBlocked
}

// ReportEntry is one (resource, outcome) pair in execution order.
type ReportEntry struct {
	// ID is the resource ID.
	ID string `json:"id"`

	// Kind is the resource kind.
	Kind Kind `json:"kind"`

	// Outcome is the reconciliation outcome.
	Outcome Outcome `json:"outcome"`

	// Message carries the failure reason or a change summary.
	Message string `json:"message,omitempty"`

	// Duration is how long the resource took to reconcile.
	Duration time.Duration `json:"duration"`
}

// ReportSummary aggregates entry counts.
type ReportSummary struct {
	Total     int `json:"total"`
	Unchanged int `json:"unchanged"`
	Changed   int `json:"changed"`
	Failed    int `json:"failed"`
	Blocked   int `json:"blocked"`
	Skipped   int `json:"skipped"`
}

// RunReport is the machine-readable result of one reconciliation run.
// Entries appear in execution order. A second run against unchanged desired
// state and unchanged host reality yields all entries unchanged.
type RunReport struct {
	// RunID is the unique identifier of this run.
	RunID string `json:"run_id"`

	// StartedAt is when the run started.
	StartedAt time.Time `json:"started_at"`

	// CompletedAt is when the run finished.
	CompletedAt time.Time `json:"completed_at"`

	// Entries are the per-resource outcomes in execution order.
	Entries []ReportEntry `json:"entries"`

	// Summary aggregates the entries.
	Summary ReportSummary `json:"summary"`
}

// Finalize computes the summary from the entries. Callers rehydrating a
// report from storage must call it before reading the summary.
func (r *RunReport) Finalize() {
	s := ReportSummary{Total: len(r.Entries)}
	for i := range r.Entries {
		switch r.Entries[i].Outcome {
		case OutcomeUnchanged:
			s.Unchanged++
		case OutcomeChanged:
			s.Changed++
		case OutcomeFailed:
			s.Failed++
		case OutcomeBlocked:
			s.Blocked++
		case OutcomeSkipped:
			s.Skipped++
		}
	}
	r.Summary = s
}

// Entry returns the entry for a resource ID, or nil.
func (r *RunReport) Entry(id string) *ReportEntry {
	for i := range r.Entries {
		if r.Entries[i].ID == id {
			return &r.Entries[i]
		}
	}
	return nil
}

// Changed reports whether any resource was mutated. Callers running a
// no-change acceptance check treat true as a failure.
func (r *RunReport) Changed() bool {
	return r.Summary.Changed > 0
}

// Failed reports whether any entry failed or was blocked.
func (r *RunReport) Failed() bool {
	return r.Summary.Failed > 0 || r.Summary.Blocked > 0
}

// ExitCode maps the report to a process exit status: 0 when no entry failed,
// 1 otherwise.
func (r *RunReport) ExitCode() int {
	if r.Failed() {
		return 1
	}
	return 0
}

// Duration returns the total run duration.
func (r *RunReport) Duration() time.Duration {
	return r.CompletedAt.Sub(r.StartedAt)
}

// Render writes the human-readable summary: one line per failed or changed
// resource plus a closing summary line. Failures are never silently dropped.
func (r *RunReport) Render(w io.Writer) {
	for i := range r.Entries {
		e := &r.Entries[i]
		switch e.Outcome {
		case OutcomeChanged:
			fmt.Fprintf(w, "~ %s (%s): %s\n", e.ID, e.Kind, e.Message)
		case OutcomeFailed:
			fmt.Fprintf(w, "! %s (%s): failed: %s\n", e.ID, e.Kind, e.Message)
		case OutcomeBlocked:
			fmt.Fprintf(w, "! %s (%s): %s\n", e.ID, e.Kind, e.Message)
		case OutcomeSkipped:
			fmt.Fprintf(w, "- %s (%s): skipped: %s\n", e.ID, e.Kind, e.Message)
		}
	}
	fmt.Fprintf(w, "%d resources: %d unchanged, %d changed, %d failed, %d blocked, %d skipped (%.2fs)\n",
		r.Summary.Total, r.Summary.Unchanged, r.Summary.Changed,
		r.Summary.Failed, r.Summary.Blocked, r.Summary.Skipped,
		r.Duration().Seconds())
}
