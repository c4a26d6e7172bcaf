package policy

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/open-policy-agent/opa/rego"
	"github.com/rs/zerolog"

	"github.com/hostadm/hostadm/pkg/engine"
)

// Gate evaluates compiled catalogs against the built-in Rego policies before
// they reach the applier. Policies are compiled once at construction.
type Gate struct {
	logger   zerolog.Logger
	policies []compiledPolicy
}

// compiledPolicy is a policy with its prepared deny query.
type compiledPolicy struct {
	policy Policy
	query  rego.PreparedEvalQuery
}

// NewGate creates a gate with the built-in policies compiled.
func NewGate(logger zerolog.Logger) (*Gate, error) {
	return NewGateWithPolicies(logger, BuiltinPolicies())
}

// NewGateWithPolicies creates a gate over an explicit policy set.
func NewGateWithPolicies(logger zerolog.Logger, policies []Policy) (*Gate, error) {
	g := &Gate{
		logger: logger.With().Str("component", "policy-gate").Logger(),
	}
	for _, p := range policies {
		if !p.Enabled {
			continue
		}
		query, err := rego.New(
			rego.Module(p.Name, p.Rego),
			rego.Query(fmt.Sprintf("data.%s.deny", regoPackage(p.Rego))),
		).PrepareForEval(context.Background())
		if err != nil {
			return nil, fmt.Errorf("compile policy %s: %w", p.Name, err)
		}
		g.policies = append(g.policies, compiledPolicy{policy: p, query: query})
	}
	return g, nil
}

// EvaluateCatalog gates a catalog. Allowed is false when any error-severity
// violation exists; warnings are reported but do not block.
func (g *Gate) EvaluateCatalog(ctx context.Context, cat *engine.Catalog) (*Result, error) {
	result := &Result{Allowed: true, EvaluatedAt: time.Now()}

	for i := range cat.Resources {
		res := &cat.Resources[i]
		for _, cp := range g.policies {
			violations, err := g.evaluate(ctx, cp, res)
			if err != nil {
				return nil, fmt.Errorf("evaluate policy %s on %s: %w", cp.policy.Name, res.ID, err)
			}
			result.Violations = append(result.Violations, violations...)
		}
	}

	for i := range result.Violations {
		if result.Violations[i].Severity == SeverityError {
			result.Allowed = false
			break
		}
	}

	g.logger.Debug().
		Int("resources", cat.Len()).
		Int("violations", len(result.Violations)).
		Bool("allowed", result.Allowed).
		Msg("catalog gated")
	return result, nil
}

// evaluate runs one prepared policy query against one resource.
func (g *Gate) evaluate(ctx context.Context, cp compiledPolicy, res *engine.Resource) ([]Violation, error) {
	input := map[string]any{"resource": res}
	results, err := cp.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, err
	}

	var violations []Violation
	for _, r := range results {
		for _, expr := range r.Expressions {
			denySet, ok := expr.Value.([]any)
			if !ok {
				continue
			}
			for _, d := range denySet {
				violations = append(violations, g.toViolation(cp.policy, res, d))
			}
		}
	}
	return violations, nil
}

// toViolation converts a deny result into a Violation, falling back to the
// policy's defaults for fields the rule did not set.
func (g *Gate) toViolation(p Policy, res *engine.Resource, raw any) Violation {
	v := Violation{
		Policy:     p.Name,
		ResourceID: res.ID,
		Severity:   p.Severity,
	}
	switch d := raw.(type) {
	case string:
		v.Message = d
	case map[string]any:
		if msg, ok := d["message"].(string); ok {
			v.Message = msg
		}
		if sev, ok := d["severity"].(string); ok {
			v.Severity = Severity(sev)
		}
		if id, ok := d["resource"].(string); ok {
			v.ResourceID = id
		}
	default:
		v.Message = fmt.Sprintf("%v", raw)
	}
	return v
}

// regoPackage extracts the package name from Rego source.
func regoPackage(src string) string {
	for _, line := range strings.Split(src, "\n") {
		trimmed := strings.TrimSpace(line)
		if name, ok := strings.CutPrefix(trimmed, "package "); ok {
			return strings.TrimSpace(name)
		}
	}
	return "hostadm.policies"
}
