package providers

import (
	"context"

	"github.com/hostadm/hostadm/pkg/engine"
)

// PackageProvider manages an installed package through the host package
// manager.
//
// Attributes: name (required), version (optional pin for ensure=present).
type PackageProvider struct {
	sys System
}

// NewPackageProvider creates the package provider.
func NewPackageProvider(sys System) *PackageProvider {
	return &PackageProvider{sys: sys}
}

// Kind implements engine.Provider.
func (p *PackageProvider) Kind() engine.Kind { return engine.KindPackage }

// Read implements engine.Provider. For ensure=latest on an installed
// package it also queries the candidate version, so the diff stays pure and
// every manager call runs under the caller's timeout. The repository is never
// consulted for absent/present resources, so an unreachable repository cannot
// fail those diffs.
func (p *PackageProvider) Read(ctx context.Context, res *engine.Resource) (*engine.CurrentState, error) {
	name := res.StringAttr("name")
	version, installed, err := p.sys.PackageVersion(ctx, name)
	if err != nil {
		return nil, wrapErr("query package", err)
	}
	if !installed {
		return engine.NotFound(), nil
	}

	state := &engine.CurrentState{
		Exists:     true,
		Attributes: map[string]any{"version": version},
	}
	if res.Ensure == engine.EnsureLatest {
		candidate, err := p.sys.CandidateVersion(ctx, name)
		if err != nil {
			return nil, wrapErr("query candidate version", err)
		}
		state.Attributes["candidate"] = candidate
	}
	return state, nil
}

// Diff implements engine.Provider.
func (p *PackageProvider) Diff(res *engine.Resource, current *engine.CurrentState) (*engine.ChangeSet, error) {
	name := res.StringAttr("name")

	switch res.Ensure {
	case engine.EnsureAbsent:
		if !current.Exists {
			return nil, nil
		}
		return &engine.ChangeSet{
			ResourceID: res.ID,
			Changes:    []engine.Change{{Path: "package", Before: name, Action: engine.ChangeRemove}},
		}, nil

	case engine.EnsurePresent:
		if current.Exists {
			if pin := res.StringAttr("version"); pin != "" {
				if got, _ := current.Attributes["version"].(string); got != pin {
					return &engine.ChangeSet{
						ResourceID: res.ID,
						Changes:    []engine.Change{{Path: "version", Before: got, After: pin, Action: engine.ChangeUpdate}},
					}, nil
				}
			}
			return nil, nil
		}
		return &engine.ChangeSet{
			ResourceID: res.ID,
			Changes:    []engine.Change{{Path: "package", After: name, Action: engine.ChangeCreate}},
		}, nil

	case engine.EnsureLatest:
		if !current.Exists {
			return &engine.ChangeSet{
				ResourceID: res.ID,
				Changes:    []engine.Change{{Path: "package", After: name, Action: engine.ChangeCreate}},
			}, nil
		}
		candidate, _ := current.Attributes["candidate"].(string)
		got, _ := current.Attributes["version"].(string)
		if got == candidate {
			return nil, nil
		}
		return &engine.ChangeSet{
			ResourceID: res.ID,
			Changes:    []engine.Change{{Path: "version", Before: got, After: candidate, Action: engine.ChangeUpdate}},
		}, nil

	default:
		return nil, engine.NewSchemaError(res.ID, "ensure", "invalid ensure for package: "+string(res.Ensure))
	}
}

// Apply implements engine.Provider.
func (p *PackageProvider) Apply(ctx context.Context, res *engine.Resource, _ *engine.ChangeSet) error {
	name := res.StringAttr("name")

	switch res.Ensure {
	case engine.EnsureAbsent:
		return wrapErr("remove package", p.sys.RemovePackage(ctx, name))
	case engine.EnsurePresent:
		return wrapErr("install package", p.sys.InstallPackage(ctx, name, res.StringAttr("version")))
	case engine.EnsureLatest:
		if _, installed, err := p.sys.PackageVersion(ctx, name); err != nil {
			return wrapErr("query package", err)
		} else if !installed {
			return wrapErr("install package", p.sys.InstallPackage(ctx, name, ""))
		}
		return wrapErr("upgrade package", p.sys.UpgradePackage(ctx, name))
	default:
		return engine.NewSchemaError(res.ID, "ensure", "invalid ensure for package: "+string(res.Ensure))
	}
}
