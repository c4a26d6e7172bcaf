package providers

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/hostadm/hostadm/pkg/engine"
)

// sudoersDir is where sudo rule drop-ins are managed.
const sudoersDir = "/etc/sudoers.d"

// SudoRuleProvider manages one drop-in file under /etc/sudoers.d.
//
// Attributes: name (drop-in file name, required), group (required),
// commands (non-empty sequence), runas (default ALL), nopasswd (bool).
type SudoRuleProvider struct {
	sys System
}

// NewSudoRuleProvider creates the sudo rule provider.
func NewSudoRuleProvider(sys System) *SudoRuleProvider {
	return &SudoRuleProvider{sys: sys}
}

// Kind implements engine.Provider.
func (p *SudoRuleProvider) Kind() engine.Kind { return engine.KindSudoRule }

// Read implements engine.Provider.
func (p *SudoRuleProvider) Read(_ context.Context, res *engine.Resource) (*engine.CurrentState, error) {
	return readManagedFile(p.sys, p.path(res))
}

// Diff implements engine.Provider.
func (p *SudoRuleProvider) Diff(res *engine.Resource, current *engine.CurrentState) (*engine.ChangeSet, error) {
	return diffManagedFile(res, p.render(res), 0o440, current), nil
}

// Apply implements engine.Provider.
func (p *SudoRuleProvider) Apply(ctx context.Context, res *engine.Resource, _ *engine.ChangeSet) error {
	return applyManagedFile(ctx, p.sys, res, p.path(res), p.render(res), 0o440)
}

func (p *SudoRuleProvider) path(res *engine.Resource) string {
	return path.Join(sudoersDir, res.StringAttr("name"))
}

// render produces the sudoers drop-in content. The attribute schema
// guarantees a non-empty command list by the time a catalog reaches a
// provider.
func (p *SudoRuleProvider) render(res *engine.Resource) string {
	group := res.StringAttr("group")
	runas := res.StringAttr("runas")
	if runas == "" {
		runas = "ALL"
	}
	tag := ""
	if res.BoolAttr("nopasswd") {
		tag = "NOPASSWD: "
	}

	var sb strings.Builder
	sb.WriteString("# Managed by hostadm. Local changes will be overwritten.\n")
	for _, cmd := range res.StringSliceAttr("commands") {
		fmt.Fprintf(&sb, "%%%s ALL=(%s) %s%s\n", group, runas, tag, cmd)
	}
	return sb.String()
}
