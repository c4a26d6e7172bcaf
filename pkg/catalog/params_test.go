package catalog

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/hostadm/hostadm/pkg/engine"
)

func TestLoadParams_OverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "params.yaml")
	content := `
admin_group: site-admins
logged_shell: tlog
trusted_networks:
  - 10.0.0.0/8
  - LOCAL
prelink: true
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	params, err := LoadParams(path)
	if err != nil {
		t.Fatalf("LoadParams failed: %v", err)
	}

	if params.AdminGroup != "site-admins" {
		t.Errorf("Expected site-admins, got %s", params.AdminGroup)
	}
	if params.LoggedShell != ShellTlog {
		t.Errorf("Expected tlog, got %s", params.LoggedShell)
	}
	if want := []string{"10.0.0.0/8", "LOCAL"}; !reflect.DeepEqual(params.TrustedNetworks, want) {
		t.Errorf("Expected %v, got %v", want, params.TrustedNetworks)
	}
	if !params.Prelink {
		t.Error("Expected prelink enabled")
	}

	// Keys absent from the file keep their defaults.
	if !params.ForceLoggedShell {
		t.Error("Expected force_logged_shell default true")
	}
	if !reflect.DeepEqual(params.SudoCommands, []string{"ALL"}) {
		t.Errorf("Expected default sudo commands, got %v", params.SudoCommands)
	}
}

func TestLoadParams_MalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "params.yaml")
	if err := os.WriteFile(path, []byte("admin_group: [unterminated"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	_, err := LoadParams(path)
	if err == nil {
		t.Fatal("Expected parse error, got nil")
	}
	if !engine.IsSchemaError(err) {
		t.Fatalf("Expected schema error, got: %v", err)
	}
}

func TestParams_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Params)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*Params) {}},
		{name: "missing group", mutate: func(p *Params) { p.AdminGroup = "" }, wantErr: true},
		{name: "empty sudo commands", mutate: func(p *Params) { p.SudoCommands = nil }, wantErr: true},
		{name: "blank network entry", mutate: func(p *Params) { p.TrustedNetworks = []string{""} }, wantErr: true},
		{name: "unknown shell", mutate: func(p *Params) { p.LoggedShell = "zsh" }, wantErr: true},
		{name: "bash shell", mutate: func(p *Params) { p.LoggedShell = ShellBash }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := DefaultParams()
			tt.mutate(&params)
			err := params.Validate()
			if tt.wantErr {
				if err == nil {
					t.Fatal("Expected validation error, got nil")
				}
				if !engine.IsSchemaError(err) {
					t.Fatalf("Expected schema error, got: %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Expected valid, got: %v", err)
			}
		})
	}
}
