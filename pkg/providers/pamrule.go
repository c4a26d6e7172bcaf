package providers

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/hostadm/hostadm/pkg/engine"
)

// defaultAccessConf is the pam_access rule file managed by default.
const defaultAccessConf = "/etc/security/access.conf"

// PamRuleProvider manages one marker-delimited rule block inside
// access.conf, leaving the rest of the file untouched.
//
// Attributes: file (default /etc/security/access.conf), permission
// ("+" or "-"), who (group or user spec), origins (netlist, non-empty).
type PamRuleProvider struct {
	sys System
}

// NewPamRuleProvider creates the PAM access rule provider.
func NewPamRuleProvider(sys System) *PamRuleProvider {
	return &PamRuleProvider{sys: sys}
}

// Kind implements engine.Provider.
func (p *PamRuleProvider) Kind() engine.Kind { return engine.KindPamRule }

// Read implements engine.Provider. The current state is the managed block
// extracted from the file, not the whole file.
func (p *PamRuleProvider) Read(_ context.Context, res *engine.Resource) (*engine.CurrentState, error) {
	data, err := p.sys.ReadFile(p.file(res))
	if err != nil {
		if isNotExist(err) {
			return engine.NotFound(), nil
		}
		return nil, wrapErr("read "+p.file(res), err)
	}

	block := extractBlock(string(data), p.beginMarker(res), p.endMarker(res))
	if block == "" {
		return engine.NotFound(), nil
	}
	return &engine.CurrentState{
		Exists:     true,
		Attributes: map[string]any{"block": block},
	}, nil
}

// Diff implements engine.Provider.
func (p *PamRuleProvider) Diff(res *engine.Resource, current *engine.CurrentState) (*engine.ChangeSet, error) {
	desired := p.renderBlock(res)

	if res.Ensure == engine.EnsureAbsent {
		if !current.Exists {
			return nil, nil
		}
		return &engine.ChangeSet{
			ResourceID: res.ID,
			Changes:    []engine.Change{{Path: "block", Action: engine.ChangeRemove}},
		}, nil
	}

	if !current.Exists {
		return &engine.ChangeSet{
			ResourceID: res.ID,
			Changes:    []engine.Change{{Path: "block", After: desired, Action: engine.ChangeCreate}},
		}, nil
	}
	if got, _ := current.Attributes["block"].(string); got != desired {
		return &engine.ChangeSet{
			ResourceID: res.ID,
			Changes:    []engine.Change{{Path: "block", Before: got, After: desired, Action: engine.ChangeUpdate}},
		}, nil
	}
	return nil, nil
}

// Apply implements engine.Provider. The managed block is spliced in or out;
// unmanaged lines are preserved verbatim.
func (p *PamRuleProvider) Apply(ctx context.Context, res *engine.Resource, _ *engine.ChangeSet) error {
	if err := ctx.Err(); err != nil {
		return wrapErr("apply pam rule", err)
	}

	file := p.file(res)
	var content string
	data, err := p.sys.ReadFile(file)
	switch {
	case err == nil:
		content = string(data)
	case isNotExist(err):
		content = ""
	default:
		return wrapErr("read "+file, err)
	}

	stripped := removeBlock(content, p.beginMarker(res), p.endMarker(res))
	if res.Ensure != engine.EnsureAbsent {
		if stripped != "" && !strings.HasSuffix(stripped, "\n") {
			stripped += "\n"
		}
		stripped += p.beginMarker(res) + "\n" + p.renderBlock(res) + p.endMarker(res) + "\n"
	}
	return wrapErr("write "+file, p.sys.WriteFile(file, []byte(stripped), 0o644))
}

func (p *PamRuleProvider) file(res *engine.Resource) string {
	if f := res.StringAttr("file"); f != "" {
		return f
	}
	return defaultAccessConf
}

func (p *PamRuleProvider) beginMarker(res *engine.Resource) string {
	return fmt.Sprintf("# BEGIN hostadm %s", res.ID)
}

func (p *PamRuleProvider) endMarker(res *engine.Resource) string {
	return fmt.Sprintf("# END hostadm %s", res.ID)
}

// renderBlock renders the access rule lines between the markers.
func (p *PamRuleProvider) renderBlock(res *engine.Resource) string {
	permission := res.StringAttr("permission")
	if permission == "" {
		permission = "+"
	}
	who := res.StringAttr("who")
	origins := strings.Join(res.StringSliceAttr("origins"), " ")
	return fmt.Sprintf("%s : %s : %s\n", permission, who, origins)
}

// extractBlock returns the lines between begin and end markers, exclusive,
// or empty when the block is missing.
func extractBlock(content, begin, end string) string {
	lines := strings.Split(content, "\n")
	var block []string
	inside := false
	for _, line := range lines {
		switch {
		case line == begin:
			inside = true
		case line == end:
			if inside {
				return strings.Join(block, "\n") + "\n"
			}
		case inside:
			block = append(block, line)
		}
	}
	return ""
}

// removeBlock deletes the managed block, markers included.
func removeBlock(content, begin, end string) string {
	lines := strings.Split(content, "\n")
	var kept []string
	inside := false
	for _, line := range lines {
		switch {
		case line == begin:
			inside = true
		case line == end && inside:
			inside = false
		case !inside:
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}

func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
