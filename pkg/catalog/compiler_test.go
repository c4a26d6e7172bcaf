package catalog

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/rs/zerolog"

	"github.com/hostadm/hostadm/pkg/engine"
)

func newTestCompiler(t *testing.T) *Compiler {
	t.Helper()
	c, err := NewCompiler(zerolog.Nop(), nil, nil)
	if err != nil {
		t.Fatalf("NewCompiler failed: %v", err)
	}
	return c
}

func compile(t *testing.T, params Params, rctx RuntimeContext) *engine.Catalog {
	t.Helper()
	cat, err := newTestCompiler(t).Compile(context.Background(), params, rctx)
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	return cat
}

func TestCompiler_Compile_Deterministic(t *testing.T) {
	params := DefaultParams()
	params.Prelink = true

	first := compile(t, params, RuntimeContext{})
	for i := 0; i < 10; i++ {
		next := compile(t, params, RuntimeContext{})
		if !reflect.DeepEqual(first.IDs(), next.IDs()) {
			t.Fatalf("Run %d: ordering differs:\n%v\n%v", i, first.IDs(), next.IDs())
		}
	}
}

func TestCompiler_Compile_ShellBranchExclusive(t *testing.T) {
	tests := []struct {
		name        string
		force       bool
		shell       LoggedShell
		wantPresent []string
		wantAbsent  []string
	}{
		{
			name:        "sudosh",
			force:       true,
			shell:       ShellSudosh,
			wantPresent: []string{"package:sudosh", "file:sudosh-conf", "sudo_rule:admin"},
			wantAbsent:  []string{"file:tlog-conf"},
		},
		{
			name:        "tlog",
			force:       true,
			shell:       ShellTlog,
			wantPresent: []string{"package:tlog", "file:tlog-conf", "sudo_rule:admin", "selinux_login:admin"},
			wantAbsent:  []string{"file:sudosh-conf"},
		},
		{
			name:        "plain",
			force:       false,
			shell:       ShellSudosh,
			wantPresent: []string{"sudo_rule:admin"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := DefaultParams()
			params.ForceLoggedShell = tt.force
			params.LoggedShell = tt.shell
			cat := compile(t, params, RuntimeContext{})

			for _, id := range tt.wantPresent {
				res := cat.Resource(id)
				if res == nil {
					t.Fatalf("Expected resource %s in catalog, IDs: %v", id, cat.IDs())
				}
				if res.Ensure == engine.EnsureAbsent {
					t.Errorf("Expected %s present, got absent", id)
				}
			}
			for _, id := range tt.wantAbsent {
				res := cat.Resource(id)
				if res == nil {
					t.Fatalf("Expected absent-marker resource %s, IDs: %v", id, cat.IDs())
				}
				if res.Ensure != engine.EnsureAbsent {
					t.Errorf("Expected %s ensure=absent, got %s", id, res.Ensure)
				}
			}

			// The other branches' packages must never coexist.
			if tt.name != "sudosh" && hasPresent(cat, "package:sudosh") {
				t.Error("sudosh package leaked into non-sudosh branch")
			}
			if tt.name != "tlog" && hasPresent(cat, "package:tlog") {
				t.Error("tlog package leaked into non-tlog branch")
			}
		})
	}
}

func hasPresent(cat *engine.Catalog, id string) bool {
	res := cat.Resource(id)
	return res != nil && res.Ensure != engine.EnsureAbsent
}

func TestCompiler_Compile_PlainBranchTidiesLeftovers(t *testing.T) {
	params := DefaultParams()
	params.ForceLoggedShell = false
	cat := compile(t, params, RuntimeContext{})

	for _, id := range []string{"tidy:sudosh-logs", "tidy:tlog-logs"} {
		if cat.Resource(id) == nil {
			t.Errorf("Expected %s in plain branch, IDs: %v", id, cat.IDs())
		}
	}
}

func TestCompiler_Compile_PrelinkEnabled(t *testing.T) {
	params := DefaultParams()
	params.Prelink = true
	cat := compile(t, params, RuntimeContext{})

	pkg := cat.Resource("package:prelink")
	conf := cat.Resource("file:prelink-conf")
	cron := cat.Resource("cron_trigger:prelink")
	if pkg == nil || conf == nil || cron == nil {
		t.Fatalf("Expected full prelink set, IDs: %v", cat.IDs())
	}
	if pkg.Ensure != engine.EnsurePresent {
		t.Errorf("Expected package present, got %s", pkg.Ensure)
	}

	// Install order: package, configuration, trigger.
	if !reflect.DeepEqual(conf.Dependencies, []string{"package:prelink"}) {
		t.Errorf("Expected conf to depend on package, got %v", conf.Dependencies)
	}
	if !reflect.DeepEqual(cron.Dependencies, []string{"file:prelink-conf"}) {
		t.Errorf("Expected cron to depend on conf, got %v", cron.Dependencies)
	}
}

func TestCompiler_Compile_PrelinkDisabled(t *testing.T) {
	cat := compile(t, DefaultParams(), RuntimeContext{})

	cache := cat.Resource("file:prelink-cache")
	cron := cat.Resource("cron_trigger:prelink")
	pkg := cat.Resource("package:prelink")
	if cache == nil || cron == nil || pkg == nil {
		t.Fatalf("Expected prelink removal set, IDs: %v", cat.IDs())
	}
	for id, res := range map[string]*engine.Resource{"cache": cache, "cron": cron, "package": pkg} {
		if res.Ensure != engine.EnsureAbsent {
			t.Errorf("Expected prelink %s absent, got %s", id, res.Ensure)
		}
	}

	// Removal order: cache artifact, trigger, package.
	if !reflect.DeepEqual(cron.Dependencies, []string{"file:prelink-cache"}) {
		t.Errorf("Expected cron removal after cache, got %v", cron.Dependencies)
	}
	if !reflect.DeepEqual(pkg.Dependencies, []string{"cron_trigger:prelink"}) {
		t.Errorf("Expected package removal after cron, got %v", pkg.Dependencies)
	}
}

func TestCompiler_Compile_CertCleanupSuppression(t *testing.T) {
	params := DefaultParams()

	cat := compile(t, params, RuntimeContext{CertDir: "/etc/hostadm/certs"})
	if cat.Resource("tidy:stale-certs") == nil {
		t.Error("Expected cert cleanup in a normal run")
	}

	cat = compile(t, params, RuntimeContext{AutomationRun: true})
	if cat.Resource("tidy:stale-certs") != nil {
		t.Error("Expected cert cleanup suppressed in an automation run")
	}

	params.CleanCerts = false
	cat = compile(t, params, RuntimeContext{})
	if cat.Resource("tidy:stale-certs") != nil {
		t.Error("Expected cert cleanup suppressed when disabled")
	}
}

func TestCompiler_Compile_EmptyNetlistRejected(t *testing.T) {
	params := DefaultParams()
	params.TrustedNetworks = nil

	_, err := newTestCompiler(t).Compile(context.Background(), params, RuntimeContext{})
	if err == nil {
		t.Fatal("Expected schema error for empty netlist, got nil")
	}
	if !engine.IsSchemaError(err) {
		t.Fatalf("Expected schema error, got: %v", err)
	}
	var engErr *engine.Error
	if !errors.As(err, &engErr) {
		t.Fatalf("Expected *engine.Error, got %T", err)
	}
	if engErr.Field == "" {
		t.Error("Expected schema error to name the offending field")
	}
}

func TestCompiler_Compile_InvalidShellRejected(t *testing.T) {
	params := DefaultParams()
	params.LoggedShell = "csh"

	_, err := newTestCompiler(t).Compile(context.Background(), params, RuntimeContext{})
	if err == nil {
		t.Fatal("Expected schema error for unknown shell, got nil")
	}
	if !engine.IsSchemaError(err) {
		t.Fatalf("Expected schema error, got: %v", err)
	}
}

func TestCompiler_Compile_AlwaysOnResources(t *testing.T) {
	cat := compile(t, DefaultParams(), RuntimeContext{})

	pam := cat.Resource("pam_rule:admin-access")
	if pam == nil {
		t.Fatal("Expected pam rule in every catalog")
	}
	if got := pam.StringSliceAttr("origins"); len(got) == 0 {
		t.Error("Expected pam rule to carry the netlist")
	}
	if pam.StringAttr("who") != "(admins)" {
		t.Errorf("Expected group who spec, got %q", pam.StringAttr("who"))
	}

	if cat.Resource("polkit_rule:admin") == nil {
		t.Error("Expected polkit rule in every catalog")
	}
}

func TestCompiler_Compile_TrustedNetworksFromLookup(t *testing.T) {
	layer, err := NewYAMLLayer("host.yaml", []byte("trusted_networks: [\"10.0.0.0/8\", \"192.168.1.0/24\"]\n"))
	if err != nil {
		t.Fatalf("NewYAMLLayer failed: %v", err)
	}
	resolver := NewResolver(zerolog.Nop(), layer)

	c, err := NewCompiler(zerolog.Nop(), resolver, nil)
	if err != nil {
		t.Fatalf("NewCompiler failed: %v", err)
	}
	cat, err := c.Compile(context.Background(), DefaultParams(), RuntimeContext{})
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}

	pam := cat.Resource("pam_rule:admin-access")
	want := []string{"10.0.0.0/8", "192.168.1.0/24"}
	if got := pam.StringSliceAttr("origins"); !reflect.DeepEqual(got, want) {
		t.Errorf("Expected origins %v, got %v", want, got)
	}
}

func TestCompiler_Compile_OrderingIsTopological(t *testing.T) {
	params := DefaultParams()
	params.Prelink = true
	cat := compile(t, params, RuntimeContext{})

	index := make(map[string]int, cat.Len())
	for i, id := range cat.IDs() {
		index[id] = i
	}
	for i := range cat.Resources {
		r := &cat.Resources[i]
		for _, dep := range r.Dependencies {
			if index[dep] >= index[r.ID] {
				t.Errorf("Dependency %s of %s ordered at %d >= %d", dep, r.ID, index[dep], index[r.ID])
			}
		}
	}
}
