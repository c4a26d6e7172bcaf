package catalog

import (
	"errors"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/hostadm/hostadm/pkg/engine"
)

// LoggedShell selects which session-logging shell the admin group is forced
// into.
type LoggedShell string

const (
	// ShellSudosh wraps administrative sessions in sudosh.
	ShellSudosh LoggedShell = "sudosh"

	// ShellTlog records sessions through tlog-rec-session.
	ShellTlog LoggedShell = "tlog"

	// ShellBash grants a plain unlogged shell.
	ShellBash LoggedShell = "bash"
)

// Params is the host administration parameter set the catalog is compiled
// from. Zero values are filled from DefaultParams before validation.
type Params struct {
	// AdminGroup is the POSIX group granted administrative access.
	AdminGroup string `yaml:"admin_group" validate:"required"`

	// SudoCommands lists the commands the admin group may run via sudo.
	SudoCommands []string `yaml:"sudo_commands" validate:"required,min=1,dive,required"`

	// TrustedNetworks is the pam_access origin list. Resolved through the
	// layered lookup when not set explicitly.
	TrustedNetworks []string `yaml:"trusted_networks" validate:"required,min=1,dive,required"`

	// ForceLoggedShell forces the admin group into the logged shell instead
	// of granting the declared sudo commands directly.
	ForceLoggedShell bool `yaml:"force_logged_shell"`

	// LoggedShell selects the logging shell implementation.
	LoggedShell LoggedShell `yaml:"logged_shell" validate:"required,oneof=sudosh tlog bash"`

	// PolkitOptions tunes the generated polkit rule. Recognized keys:
	// "result" (polkit result string) and "actions" (comma-separated action
	// IDs or prefixes).
	PolkitOptions map[string]string `yaml:"polkit_options"`

	// ManageSelinux enables SELinux login mapping management.
	ManageSelinux bool `yaml:"manage_selinux"`

	// Prelink enables the prelink package, its configuration, and the cron
	// trigger that builds the prelink cache. Disabling removes all three and
	// the cache artifact.
	Prelink bool `yaml:"prelink"`

	// CleanCerts enables cleanup of stale certificates under the runtime
	// certificate directory. Suppressed during automation runs.
	CleanCerts bool `yaml:"clean_certs"`
}

// RuntimeContext carries per-run facts that are not policy parameters.
type RuntimeContext struct {
	// AutomationRun marks a run driven by an automation harness; destructive
	// housekeeping (certificate cleanup) is suppressed.
	AutomationRun bool

	// CertDir is the certificate directory housekeeping operates on.
	CertDir string
}

// DefaultParams returns the parameter defaults.
func DefaultParams() Params {
	return Params{
		AdminGroup:       "admins",
		SudoCommands:     []string{"ALL"},
		TrustedNetworks:  []string{"ALL"},
		ForceLoggedShell: true,
		LoggedShell:      ShellSudosh,
		ManageSelinux:    true,
		Prelink:          false,
		CleanCerts:       true,
	}
}

// LoadParams reads a YAML parameter file over the defaults. Keys absent from
// the file keep their default values.
func LoadParams(path string) (Params, error) {
	params := DefaultParams()

	data, err := os.ReadFile(path)
	if err != nil {
		return params, fmt.Errorf("read parameters: %w", err)
	}
	if err := yaml.Unmarshal(data, &params); err != nil {
		return params, engine.NewSchemaError("params", "", fmt.Sprintf("parse parameters: %v", err))
	}
	return params, nil
}

// Validate checks the parameter set and reports the first violation as a
// schema error naming the offending field.
func (p *Params) Validate() error {
	validate := validator.New()
	err := validate.Struct(p)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return engine.NewSchemaError("params", fe.Field(),
			fmt.Sprintf("failed %q validation", fe.Tag()))
	}
	return engine.NewSchemaError("params", "", err.Error())
}
