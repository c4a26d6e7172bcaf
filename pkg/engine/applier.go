package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hostadm/hostadm/pkg/telemetry"
)

// ApplyOptions controls one reconciliation run.
type ApplyOptions struct {
	// MaxParallel bounds concurrent reconciliation within a graph level.
	// 1 (the default) applies strictly sequentially in dependency order.
	// Resources on a shared dependency path are never applied concurrently.
	MaxParallel int

	// Timeout bounds each provider read/apply; an expired timeout is
	// recorded as a provider error (external tool failed).
	Timeout time.Duration

	// DryRun computes diffs but performs no mutation. Resources with a diff
	// are reported changed with the pending change summary.
	DryRun bool
}

// DefaultApplyOptions returns the options used when none are given.
func DefaultApplyOptions() ApplyOptions {
	return ApplyOptions{
		MaxParallel: 1,
		Timeout:     5 * time.Minute,
	}
}

// Applier walks a catalog's dependency graph and converges each resource via
// its provider, producing a RunReport.
type Applier struct {
	registry *Registry
	logger   zerolog.Logger
	metrics  *telemetry.Metrics
	tracer   *telemetry.Tracer
	opts     ApplyOptions
}

// NewApplier creates an applier. Metrics and tracer may be nil.
func NewApplier(registry *Registry, logger zerolog.Logger, metrics *telemetry.Metrics, tracer *telemetry.Tracer, opts ApplyOptions) *Applier {
	if opts.MaxParallel <= 0 {
		opts.MaxParallel = 1
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultApplyOptions().Timeout
	}
	return &Applier{
		registry: registry,
		logger:   logger.With().Str("component", "applier").Logger(),
		metrics:  metrics,
		tracer:   tracer,
		opts:     opts,
	}
}

// Apply reconciles every resource in the catalog in dependency order and
// returns the run report. A non-nil error is returned only for catalog-level
// failures (a bad graph); per-resource failures are recorded in the report.
func (a *Applier) Apply(ctx context.Context, cat *Catalog) (*RunReport, error) {
	ctx, span := a.tracer.Start(ctx, "applier.apply")
	defer span.End()

	graph, err := NewGraphBuilder().Build(cat)
	if err != nil {
		return nil, err
	}

	report := &RunReport{
		RunID:     uuid.New().String(),
		StartedAt: time.Now(),
	}
	a.logger.Info().
		Str("run_id", report.RunID).
		Int("resources", cat.Len()).
		Bool("dry_run", a.opts.DryRun).
		Msg("run started")

	results := newResultSet()
	for _, level := range graph.Levels {
		a.applyLevel(ctx, cat, level, results)
	}

	// Assemble entries in execution (catalog) order.
	for _, id := range graph.Order {
		entry, ok := results.get(id)
		if !ok {
			// Unreachable: every scheduled resource records exactly one entry.
			entry = ReportEntry{ID: id, Outcome: OutcomeFailed, Message: "no result recorded"}
		}
		report.Entries = append(report.Entries, entry)
	}

	report.CompletedAt = time.Now()
	report.Finalize()
	a.metrics.RunCompleted(runStatus(report), report.Duration())
	a.logger.Info().
		Str("run_id", report.RunID).
		Int("unchanged", report.Summary.Unchanged).
		Int("changed", report.Summary.Changed).
		Int("failed", report.Summary.Failed).
		Int("blocked", report.Summary.Blocked).
		Int("skipped", report.Summary.Skipped).
		Msg("run completed")
	return report, nil
}

// applyLevel reconciles all resources of one graph level, sequentially or
// with a bounded worker pool. Resources within a level are independent.
func (a *Applier) applyLevel(ctx context.Context, cat *Catalog, level []string, results *resultSet) {
	if a.opts.MaxParallel == 1 || len(level) == 1 {
		for _, id := range level {
			results.put(a.reconcile(ctx, cat, id, results))
		}
		return
	}

	work := make(chan string, len(level))
	for _, id := range level {
		work <- id
	}
	close(work)

	workers := a.opts.MaxParallel
	if len(level) < workers {
		workers = len(level)
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range work {
				results.put(a.reconcile(ctx, cat, id, results))
			}
		}()
	}
	wg.Wait()
}

// reconcile converges a single resource and returns its report entry.
func (a *Applier) reconcile(ctx context.Context, cat *Catalog, id string, results *resultSet) ReportEntry {
	res := cat.Resource(id)
	entry := ReportEntry{ID: id, Kind: res.Kind}
	start := time.Now()
	defer func() {
		entry.Duration = time.Since(start)
		a.metrics.ResourceReconciled(string(res.Kind), string(entry.Outcome), entry.Duration)
	}()

	// A dependent of a failed resource is recorded blocked, not attempted.
	for _, dep := range res.Dependencies {
		if prev, ok := results.get(dep); ok && prev.Outcome.IsFailure() {
			entry.Outcome = OutcomeBlocked
			entry.Message = NewBlockedError(id, dep).Message
			return entry
		}
	}

	// Cancellation stops scheduling new resources; in-flight applies below
	// run on a detached context so external state is never left half-mutated.
	if ctx.Err() != nil {
		entry.Outcome = OutcomeSkipped
		entry.Message = "cancelled"
		return entry
	}

	ctx, span := a.tracer.Start(ctx, "applier.reconcile",
		telemetry.Attr("resource_id", id), telemetry.Attr("kind", string(res.Kind)))
	defer span.End()

	outcome, msg := a.converge(ctx, res)
	entry.Outcome = outcome
	entry.Message = msg

	log := a.logger.With().Str("resource_id", id).Str("kind", string(res.Kind)).Logger()
	switch outcome {
	case OutcomeFailed:
		log.Error().Str("reason", msg).Msg("resource failed")
	case OutcomeChanged:
		log.Info().Str("changes", msg).Msg("resource changed")
	default:
		log.Debug().Msg("resource unchanged")
	}
	return entry
}

// converge performs read -> diff -> apply -> verify for one resource.
func (a *Applier) converge(ctx context.Context, res *Resource) (Outcome, string) {
	provider, err := a.registry.Get(res.Kind)
	if err != nil {
		return OutcomeFailed, err.Error()
	}

	// The per-resource context is detached from run cancellation so a
	// started apply finishes; only the timeout bounds it.
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.opts.Timeout)
	defer cancel()

	current, err := provider.Read(rctx, res)
	if err != nil {
		return OutcomeFailed, a.classify(rctx, "read", err).Error()
	}

	changes, err := provider.Diff(res, current)
	if err != nil {
		return OutcomeFailed, a.classify(rctx, "diff", err).Error()
	}
	if changes == nil {
		return OutcomeUnchanged, ""
	}

	if a.opts.DryRun {
		return OutcomeChanged, fmt.Sprintf("would apply: %s", changes.Summary())
	}

	if err := provider.Apply(rctx, res, changes); err != nil {
		return OutcomeFailed, a.classify(rctx, "apply", err).Error()
	}

	// Verify convergence: a remaining diff after apply is a failure.
	verified, err := provider.Read(rctx, res)
	if err != nil {
		return OutcomeFailed, a.classify(rctx, "verify", err).Error()
	}
	remaining, err := provider.Diff(res, verified)
	if err != nil {
		return OutcomeFailed, a.classify(rctx, "verify", err).Error()
	}
	if remaining != nil {
		return OutcomeFailed, fmt.Sprintf("did not converge: %s", remaining.Summary())
	}

	return OutcomeChanged, changes.Summary()
}

// classify normalizes provider failures: engine errors pass through even
// when the deadline has also expired (the provider's own classification is
// more specific than a timeout), bare timeouts become external-tool failures,
// anything else is wrapped.
func (a *Applier) classify(ctx context.Context, op string, err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
		return NewProviderError(ReasonExternalToolFailed,
			fmt.Sprintf("%s timed out after %s", op, a.opts.Timeout), err)
	}
	return NewProviderError(ReasonExternalToolFailed, op+" failed", err)
}

// resultSet is the write-once-per-resource result aggregation shared by
// level workers.
type resultSet struct {
	mu      sync.RWMutex
	entries map[string]ReportEntry
}

func newResultSet() *resultSet {
	return &resultSet{entries: make(map[string]ReportEntry)}
}

func (rs *resultSet) put(entry ReportEntry) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if _, dup := rs.entries[entry.ID]; dup {
		return
	}
	rs.entries[entry.ID] = entry
}

func (rs *resultSet) get(id string) (ReportEntry, bool) {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	entry, ok := rs.entries[id]
	return entry, ok
}

func runStatus(r *RunReport) string {
	switch {
	case r.Summary.Skipped > 0:
		return "cancelled"
	case r.Failed():
		return "failed"
	case r.Changed():
		return "changed"
	default:
		return "unchanged"
	}
}
