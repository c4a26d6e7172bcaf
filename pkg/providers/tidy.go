package providers

import (
	"context"
	"path/filepath"
	"sort"

	"github.com/hostadm/hostadm/pkg/engine"
)

// TidyProvider removes files matching a pattern under a directory. Ensure is
// always absent-like: the matched set is the unwanted state.
//
// Attributes: path (directory, required), matches (base-name pattern,
// default "*"), recursive (bool).
type TidyProvider struct {
	sys System
}

// NewTidyProvider creates the tidy provider.
func NewTidyProvider(sys System) *TidyProvider {
	return &TidyProvider{sys: sys}
}

// Kind implements engine.Provider.
func (p *TidyProvider) Kind() engine.Kind { return engine.KindTidy }

// Read implements engine.Provider. The current state lists the matched
// paths; an empty match set means the directory is already tidy.
func (p *TidyProvider) Read(_ context.Context, res *engine.Resource) (*engine.CurrentState, error) {
	matched, err := p.matches(res)
	if err != nil {
		return nil, err
	}
	if len(matched) == 0 {
		return engine.NotFound(), nil
	}
	return &engine.CurrentState{
		Exists:     true,
		Attributes: map[string]any{"paths": matched},
	}, nil
}

// Diff implements engine.Provider.
func (p *TidyProvider) Diff(res *engine.Resource, current *engine.CurrentState) (*engine.ChangeSet, error) {
	if !current.Exists {
		return nil, nil
	}
	paths, _ := current.Attributes["paths"].([]string)
	changes := make([]engine.Change, 0, len(paths))
	for _, path := range paths {
		changes = append(changes, engine.Change{Path: path, Action: engine.ChangeRemove})
	}
	return &engine.ChangeSet{ResourceID: res.ID, Changes: changes}, nil
}

// Apply implements engine.Provider.
func (p *TidyProvider) Apply(ctx context.Context, res *engine.Resource, changes *engine.ChangeSet) error {
	for _, change := range changes.Changes {
		if err := ctx.Err(); err != nil {
			return wrapErr("tidy", err)
		}
		if err := p.sys.Remove(change.Path); err != nil {
			return wrapErr("remove "+change.Path, err)
		}
	}
	return nil
}

func (p *TidyProvider) matches(res *engine.Resource) ([]string, error) {
	dir := res.StringAttr("path")
	pattern := res.StringAttr("matches")
	if pattern == "" {
		pattern = "*"
	}

	var candidates []string
	var err error
	if res.BoolAttr("recursive") {
		candidates, err = p.sys.Walk(dir)
	} else {
		candidates, err = p.sys.Glob(filepath.Join(dir, pattern))
	}
	if err != nil {
		return nil, wrapErr("list "+dir, err)
	}

	matched := make([]string, 0, len(candidates))
	for _, path := range candidates {
		ok, err := filepath.Match(pattern, filepath.Base(path))
		if err != nil {
			return nil, engine.NewSchemaError(res.ID, "matches", err.Error())
		}
		if ok {
			matched = append(matched, path)
		}
	}
	sort.Strings(matched)
	return matched, nil
}
