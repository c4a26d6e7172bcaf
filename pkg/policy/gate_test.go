package policy

import (
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/hostadm/hostadm/pkg/catalog"
	"github.com/hostadm/hostadm/pkg/engine"
)

func newTestGate(t *testing.T) *Gate {
	t.Helper()
	g, err := NewGate(zerolog.Nop())
	if err != nil {
		t.Fatalf("NewGate failed: %v", err)
	}
	return g
}

func gateCatalog(t *testing.T, g *Gate, resources []engine.Resource) *Result {
	t.Helper()
	cat, err := engine.NewCatalog(resources)
	if err != nil {
		t.Fatalf("NewCatalog failed: %v", err)
	}
	result, err := g.EvaluateCatalog(context.Background(), cat)
	if err != nil {
		t.Fatalf("EvaluateCatalog failed: %v", err)
	}
	return result
}

func TestGate_EvaluateCatalog_NamingViolation(t *testing.T) {
	g := newTestGate(t)
	result := gateCatalog(t, g, []engine.Resource{
		{ID: "File:Bad Name", Kind: engine.KindFile, Ensure: engine.EnsurePresent},
	})

	if result.Allowed {
		t.Error("Expected catalog rejected for malformed resource ID")
	}
	if len(result.Violations) == 0 {
		t.Fatal("Expected a naming violation")
	}
	v := result.Violations[0]
	if v.Policy != "resource-naming" {
		t.Errorf("Expected resource-naming policy, got %s", v.Policy)
	}
	if v.ResourceID != "File:Bad Name" {
		t.Errorf("Expected violation to name the resource, got %s", v.ResourceID)
	}
	if v.Severity != SeverityError {
		t.Errorf("Expected error severity, got %s", v.Severity)
	}
}

func TestGate_EvaluateCatalog_DangerousRecursiveDelete(t *testing.T) {
	g := newTestGate(t)
	result := gateCatalog(t, g, []engine.Resource{
		{
			ID:     "tidy:home-sweep",
			Kind:   engine.KindTidy,
			Ensure: engine.EnsureAbsent,
			Attributes: map[string]any{
				"path":      "/home/alice",
				"recursive": true,
			},
		},
	})

	if result.Allowed {
		t.Error("Expected recursive delete outside allowlisted roots rejected")
	}
	found := false
	for _, v := range result.Violations {
		if v.Policy == "dangerous-recursive-delete" && strings.Contains(v.Message, "/home/alice") {
			found = true
		}
	}
	if !found {
		t.Errorf("Expected dangerous-recursive-delete violation, got %+v", result.Violations)
	}
}

func TestGate_EvaluateCatalog_ShortTidyPathRejected(t *testing.T) {
	g := newTestGate(t)
	result := gateCatalog(t, g, []engine.Resource{
		{
			ID:         "tidy:root",
			Kind:       engine.KindTidy,
			Ensure:     engine.EnsureAbsent,
			Attributes: map[string]any{"path": "/etc"},
		},
	})

	if result.Allowed {
		t.Error("Expected near-root tidy path rejected")
	}
}

func TestGate_EvaluateCatalog_AllowlistedRecursiveDelete(t *testing.T) {
	g := newTestGate(t)
	result := gateCatalog(t, g, []engine.Resource{
		{
			ID:     "tidy:sudosh-logs",
			Kind:   engine.KindTidy,
			Ensure: engine.EnsureAbsent,
			Attributes: map[string]any{
				"path":      "/var/log/sudosh",
				"recursive": true,
			},
		},
	})

	if !result.Allowed {
		t.Errorf("Expected allowlisted recursive delete permitted, violations: %+v", result.Violations)
	}
}

func TestGate_EvaluateCatalog_WarningsDoNotBlock(t *testing.T) {
	warn := Policy{
		Name:     "warn-everything",
		Severity: SeverityWarning,
		Enabled:  true,
		Rego: `package hostadm.policies.warn

import rego.v1

deny contains msg if {
	input.resource
	msg := "advisory only"
}
`,
	}
	g, err := NewGateWithPolicies(zerolog.Nop(), []Policy{warn})
	if err != nil {
		t.Fatalf("NewGateWithPolicies failed: %v", err)
	}

	result := gateCatalog(t, g, []engine.Resource{
		{ID: "file:motd", Kind: engine.KindFile, Ensure: engine.EnsurePresent},
	})

	if !result.Allowed {
		t.Error("Expected warnings not to block the catalog")
	}
	if len(result.Violations) != 1 {
		t.Fatalf("Expected 1 warning violation, got %d", len(result.Violations))
	}
	if result.Violations[0].Severity != SeverityWarning {
		t.Errorf("Expected warning severity, got %s", result.Violations[0].Severity)
	}
}

func TestGate_EvaluateCatalog_DisabledPolicySkipped(t *testing.T) {
	off := resourceNamingPolicy()
	off.Enabled = false
	g, err := NewGateWithPolicies(zerolog.Nop(), []Policy{off})
	if err != nil {
		t.Fatalf("NewGateWithPolicies failed: %v", err)
	}

	result := gateCatalog(t, g, []engine.Resource{
		{ID: "File:Bad Name", Kind: engine.KindFile, Ensure: engine.EnsurePresent},
	})
	if !result.Allowed {
		t.Error("Expected disabled policy not to gate the catalog")
	}
}

func TestGate_EvaluateCatalog_CompiledCatalogPasses(t *testing.T) {
	compiler, err := catalog.NewCompiler(zerolog.Nop(), nil, nil)
	if err != nil {
		t.Fatalf("NewCompiler failed: %v", err)
	}
	params := catalog.DefaultParams()
	params.Prelink = true
	cat, err := compiler.Compile(context.Background(), params, catalog.RuntimeContext{})
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}

	g := newTestGate(t)
	result, err := g.EvaluateCatalog(context.Background(), cat)
	if err != nil {
		t.Fatalf("EvaluateCatalog failed: %v", err)
	}
	if !result.Allowed {
		t.Errorf("Expected compiled catalog to pass the gate, violations: %+v", result.Violations)
	}
}
