package providers

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/hostadm/hostadm/pkg/engine"
)

// polkitRulesDir is where polkit JavaScript rules are managed.
const polkitRulesDir = "/etc/polkit-1/rules.d"

// PolkitRuleProvider manages one rules file under /etc/polkit-1/rules.d.
//
// Attributes: name (rules file name, required), group (required), result
// (polkit result string, default "yes"), actions (action IDs or prefixes
// ending in "*", non-empty).
type PolkitRuleProvider struct {
	sys System
}

// NewPolkitRuleProvider creates the polkit rule provider.
func NewPolkitRuleProvider(sys System) *PolkitRuleProvider {
	return &PolkitRuleProvider{sys: sys}
}

// Kind implements engine.Provider.
func (p *PolkitRuleProvider) Kind() engine.Kind { return engine.KindPolkitRule }

// Read implements engine.Provider.
func (p *PolkitRuleProvider) Read(_ context.Context, res *engine.Resource) (*engine.CurrentState, error) {
	return readManagedFile(p.sys, p.path(res))
}

// Diff implements engine.Provider.
func (p *PolkitRuleProvider) Diff(res *engine.Resource, current *engine.CurrentState) (*engine.ChangeSet, error) {
	return diffManagedFile(res, p.render(res), 0o644, current), nil
}

// Apply implements engine.Provider.
func (p *PolkitRuleProvider) Apply(ctx context.Context, res *engine.Resource, _ *engine.ChangeSet) error {
	return applyManagedFile(ctx, p.sys, res, p.path(res), p.render(res), 0o644)
}

func (p *PolkitRuleProvider) path(res *engine.Resource) string {
	return path.Join(polkitRulesDir, res.StringAttr("name"))
}

// render produces the polkit addRule script. An action ending in "*" becomes
// a prefix match, anything else an exact match.
func (p *PolkitRuleProvider) render(res *engine.Resource) string {
	group := res.StringAttr("group")
	result := res.StringAttr("result")
	if result == "" {
		result = "yes"
	}

	var conds []string
	for _, action := range res.StringSliceAttr("actions") {
		if prefix, ok := strings.CutSuffix(action, "*"); ok {
			conds = append(conds, fmt.Sprintf("action.id.indexOf(%q) == 0", prefix))
		} else {
			conds = append(conds, fmt.Sprintf("action.id == %q", action))
		}
	}

	var sb strings.Builder
	sb.WriteString("// Managed by hostadm. Local changes will be overwritten.\n")
	sb.WriteString("polkit.addRule(function(action, subject) {\n")
	fmt.Fprintf(&sb, "    if ((%s) &&\n", strings.Join(conds, " ||\n         "))
	fmt.Fprintf(&sb, "        subject.isInGroup(%q)) {\n", group)
	fmt.Fprintf(&sb, "        return polkit.Result.%s;\n", polkitResult(result))
	sb.WriteString("    }\n")
	sb.WriteString("});\n")
	return sb.String()
}

// polkitResult maps a result attribute to a polkit.Result constant name.
func polkitResult(result string) string {
	switch result {
	case "auth_admin":
		return "AUTH_ADMIN"
	case "auth_admin_keep":
		return "AUTH_ADMIN_KEEP"
	case "auth_self":
		return "AUTH_SELF"
	case "auth_self_keep":
		return "AUTH_SELF_KEEP"
	case "no":
		return "NO"
	default:
		return "YES"
	}
}
