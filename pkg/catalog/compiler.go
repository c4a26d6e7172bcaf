package catalog

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/hostadm/hostadm/pkg/engine"
	"github.com/hostadm/hostadm/pkg/telemetry"
)

// Managed paths and names the compiled resources refer to.
const (
	sudoRuleName   = "10-hostadm-admin"
	polkitRuleName = "50-hostadm-admin.rules"

	sudoshConfPath = "/etc/sudosh.conf"
	tlogConfPath   = "/etc/tlog/tlog-rec-session.conf"

	prelinkConfPath  = "/etc/sysconfig/prelink"
	prelinkCachePath = "/etc/prelink.cache"
	prelinkCronName  = "hostadm-prelink"

	defaultCertDir = "/etc/hostadm/certs"
)

// Compiler turns a parameter set plus runtime context into a validated,
// dependency-ordered catalog. Compilation is deterministic: equal inputs
// produce identical resource sets and ordering. All schema and cycle errors
// surface here, before any host mutation.
type Compiler struct {
	schemas  *SchemaRegistry
	resolver *Resolver
	logger   zerolog.Logger
	tracer   *telemetry.Tracer
}

// NewCompiler creates a compiler. The resolver and tracer may be nil.
func NewCompiler(logger zerolog.Logger, resolver *Resolver, tracer *telemetry.Tracer) (*Compiler, error) {
	schemas, err := NewSchemaRegistry()
	if err != nil {
		return nil, err
	}
	return &Compiler{
		schemas:  schemas,
		resolver: resolver,
		logger:   logger.With().Str("component", "compiler").Logger(),
		tracer:   tracer,
	}, nil
}

// Compile produces the catalog for one reconciliation run.
func (c *Compiler) Compile(ctx context.Context, params Params, rctx RuntimeContext) (*engine.Catalog, error) {
	ctx, span := c.tracer.Start(ctx, "compiler.compile")
	defer span.End()

	// Lookup layers refine parameters before validation so a host layer can
	// supply what the parameter file leaves out.
	if c.resolver != nil {
		params.TrustedNetworks = c.resolver.StringSlice(ctx, "trusted_networks", params.TrustedNetworks)
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}

	resources := c.shellResources(params)
	resources = append(resources, c.accessResources(params)...)
	resources = append(resources, c.prelinkResources(params)...)
	if res, ok := c.certCleanupResource(params, rctx); ok {
		resources = append(resources, res)
	}

	for i := range resources {
		r := &resources[i]
		if err := r.Kind.Validate(); err != nil {
			return nil, engine.NewSchemaError(r.ID, "kind", err.Error())
		}
		if err := r.Ensure.Validate(); err != nil {
			return nil, engine.NewSchemaError(r.ID, "ensure", err.Error())
		}
		if err := c.schemas.ValidateResource(r); err != nil {
			return nil, err
		}
	}

	cat, err := engine.NewCatalog(resources)
	if err != nil {
		return nil, err
	}
	graph, err := engine.NewGraphBuilder().Build(cat)
	if err != nil {
		return nil, err
	}

	// Re-sequence into execution order so the catalog itself carries the
	// deterministic ordering.
	ordered := make([]engine.Resource, 0, cat.Len())
	for _, id := range graph.Order {
		ordered = append(ordered, *cat.Resource(id))
	}
	cat, err = engine.NewCatalog(ordered)
	if err != nil {
		return nil, err
	}

	c.logger.Debug().
		Int("resources", cat.Len()).
		Str("shell", string(c.selectShell(params))).
		Bool("prelink", params.Prelink).
		Msg("catalog compiled")
	return cat, nil
}

// selectShell picks exactly one logged-shell branch for the run.
func (c *Compiler) selectShell(params Params) LoggedShell {
	if !params.ForceLoggedShell {
		return ShellBash
	}
	switch params.LoggedShell {
	case ShellSudosh, ShellTlog:
		return params.LoggedShell
	default:
		return ShellBash
	}
}

// shellResources emits the resource set of the selected shell branch. The
// branches are mutually exclusive; each one also removes the artifacts the
// other branches would have created.
func (c *Compiler) shellResources(params Params) []engine.Resource {
	switch c.selectShell(params) {
	case ShellSudosh:
		return []engine.Resource{
			{
				ID:     "package:sudosh",
				Kind:   engine.KindPackage,
				Ensure: engine.EnsurePresent,
				Attributes: map[string]any{
					"name": "sudosh",
				},
			},
			{
				ID:     "file:sudosh-conf",
				Kind:   engine.KindFile,
				Ensure: engine.EnsurePresent,
				Attributes: map[string]any{
					"path":    sudoshConfPath,
					"content": "# Managed by hostadm. Local changes will be overwritten.\nlogdir = /var/log/sudosh\n",
					"mode":    "0644",
				},
				Dependencies: []string{"package:sudosh"},
			},
			{
				ID:     "sudo_rule:admin",
				Kind:   engine.KindSudoRule,
				Ensure: engine.EnsurePresent,
				Attributes: map[string]any{
					"name":     sudoRuleName,
					"group":    params.AdminGroup,
					"commands": []string{"/usr/bin/sudosh"},
				},
				Dependencies: []string{"package:sudosh"},
			},
			{
				ID:     "file:tlog-conf",
				Kind:   engine.KindFile,
				Ensure: engine.EnsureAbsent,
				Attributes: map[string]any{
					"path": tlogConfPath,
				},
			},
		}

	case ShellTlog:
		resources := []engine.Resource{
			{
				ID:     "package:tlog",
				Kind:   engine.KindPackage,
				Ensure: engine.EnsurePresent,
				Attributes: map[string]any{
					"name": "tlog",
				},
			},
			{
				ID:     "file:tlog-conf",
				Kind:   engine.KindFile,
				Ensure: engine.EnsurePresent,
				Attributes: map[string]any{
					"path":    tlogConfPath,
					"content": tlogConf(),
					"mode":    "0644",
				},
				Dependencies: []string{"package:tlog"},
			},
			{
				ID:     "sudo_rule:admin",
				Kind:   engine.KindSudoRule,
				Ensure: engine.EnsurePresent,
				Attributes: map[string]any{
					"name":     sudoRuleName,
					"group":    params.AdminGroup,
					"commands": params.SudoCommands,
				},
			},
			{
				ID:     "file:sudosh-conf",
				Kind:   engine.KindFile,
				Ensure: engine.EnsureAbsent,
				Attributes: map[string]any{
					"path": sudoshConfPath,
				},
			},
		}
		if params.ManageSelinux {
			resources = append(resources, engine.Resource{
				ID:     "selinux_login:admin",
				Kind:   engine.KindSelinuxLogin,
				Ensure: engine.EnsurePresent,
				Attributes: map[string]any{
					"login":  "%" + params.AdminGroup,
					"seuser": "staff_u",
					"range":  "s0-s0:c0.c1023",
				},
				Dependencies: []string{"package:tlog"},
			})
		}
		return resources

	default:
		return []engine.Resource{
			{
				ID:     "sudo_rule:admin",
				Kind:   engine.KindSudoRule,
				Ensure: engine.EnsurePresent,
				Attributes: map[string]any{
					"name":     sudoRuleName,
					"group":    params.AdminGroup,
					"commands": params.SudoCommands,
				},
			},
			{
				ID:     "tidy:sudosh-logs",
				Kind:   engine.KindTidy,
				Ensure: engine.EnsureAbsent,
				Attributes: map[string]any{
					"path":      "/var/log/sudosh",
					"recursive": true,
				},
			},
			{
				ID:     "tidy:tlog-logs",
				Kind:   engine.KindTidy,
				Ensure: engine.EnsureAbsent,
				Attributes: map[string]any{
					"path":      "/var/log/tlog",
					"recursive": true,
				},
			},
		}
	}
}

// accessResources emits the resources present in every catalog: the PAM
// access rule and the polkit rule for the admin group.
func (c *Compiler) accessResources(params Params) []engine.Resource {
	result := params.PolkitOptions["result"]
	actions := []string{"org.freedesktop.systemd1.*"}
	if raw, ok := params.PolkitOptions["actions"]; ok && raw != "" {
		actions = splitTrim(raw)
	}

	polkitAttrs := map[string]any{
		"name":    polkitRuleName,
		"group":   params.AdminGroup,
		"actions": actions,
	}
	if result != "" {
		polkitAttrs["result"] = result
	}

	return []engine.Resource{
		{
			ID:     "pam_rule:admin-access",
			Kind:   engine.KindPamRule,
			Ensure: engine.EnsurePresent,
			Attributes: map[string]any{
				"permission": "+",
				"who":        "(" + params.AdminGroup + ")",
				"origins":    params.TrustedNetworks,
			},
		},
		{
			ID:         "polkit_rule:admin",
			Kind:       engine.KindPolkitRule,
			Ensure:     engine.EnsurePresent,
			Attributes: polkitAttrs,
		},
	}
}

// prelinkResources emits the prelink lifecycle resource set. Enabling
// installs the package, writes its configuration, and schedules the cache
// build; disabling unwinds in reverse: cache artifact, cron trigger, package.
func (c *Compiler) prelinkResources(params Params) []engine.Resource {
	if params.Prelink {
		return []engine.Resource{
			{
				ID:     "package:prelink",
				Kind:   engine.KindPackage,
				Ensure: engine.EnsurePresent,
				Attributes: map[string]any{
					"name": "prelink",
				},
			},
			{
				ID:     "file:prelink-conf",
				Kind:   engine.KindFile,
				Ensure: engine.EnsurePresent,
				Attributes: map[string]any{
					"path":    prelinkConfPath,
					"content": "# Managed by hostadm. Local changes will be overwritten.\nPRELINKING=yes\n",
					"mode":    "0644",
				},
				Dependencies: []string{"package:prelink"},
			},
			{
				ID:     "cron_trigger:prelink",
				Kind:   engine.KindCronTrigger,
				Ensure: engine.EnsurePresent,
				Attributes: map[string]any{
					"name":     prelinkCronName,
					"command":  "/usr/sbin/prelink -av -mR",
					"schedule": "30 4 * * *",
				},
				Dependencies: []string{"file:prelink-conf"},
			},
		}
	}

	return []engine.Resource{
		{
			ID:     "file:prelink-cache",
			Kind:   engine.KindFile,
			Ensure: engine.EnsureAbsent,
			Attributes: map[string]any{
				"path": prelinkCachePath,
			},
		},
		{
			ID:     "cron_trigger:prelink",
			Kind:   engine.KindCronTrigger,
			Ensure: engine.EnsureAbsent,
			Attributes: map[string]any{
				"name":    prelinkCronName,
				"command": "/usr/sbin/prelink -av -mR",
			},
			Dependencies: []string{"file:prelink-cache"},
		},
		{
			ID:     "package:prelink",
			Kind:   engine.KindPackage,
			Ensure: engine.EnsureAbsent,
			Attributes: map[string]any{
				"name": "prelink",
			},
			Dependencies: []string{"cron_trigger:prelink"},
		},
	}
}

// certCleanupResource emits the stale-certificate tidy unless disabled or
// suppressed by an automation run.
func (c *Compiler) certCleanupResource(params Params, rctx RuntimeContext) (engine.Resource, bool) {
	if !params.CleanCerts || rctx.AutomationRun {
		return engine.Resource{}, false
	}
	certDir := rctx.CertDir
	if certDir == "" {
		certDir = defaultCertDir
	}
	return engine.Resource{
		ID:     "tidy:stale-certs",
		Kind:   engine.KindTidy,
		Ensure: engine.EnsureAbsent,
		Attributes: map[string]any{
			"path":    certDir,
			"matches": "*.pem",
		},
	}, true
}

// tlogConf renders the tlog-rec-session configuration.
func tlogConf() string {
	return `{
    "shell": "/bin/bash",
    "notice": "\nATTENTION! Your session is being recorded!\n\n",
    "log": {
        "input": true,
        "output": true,
        "window": true
    },
    "writer": "journal"
}
`
}

func splitTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Describe renders a one-line summary per resource in catalog order, used by
// the compile command's text output.
func Describe(cat *engine.Catalog) string {
	var sb strings.Builder
	for i := range cat.Resources {
		r := &cat.Resources[i]
		fmt.Fprintf(&sb, "%-28s %-14s %s", r.ID, r.Kind, r.Ensure)
		if len(r.Dependencies) > 0 {
			fmt.Fprintf(&sb, "  after %s", strings.Join(r.Dependencies, ", "))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}
