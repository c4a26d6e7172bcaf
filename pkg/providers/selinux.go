package providers

import (
	"context"
	"strings"

	"github.com/hostadm/hostadm/pkg/engine"
)

// SelinuxLoginProvider manages one SELinux login mapping through semanage.
//
// Attributes: login (required, "%group" or user), seuser (required),
// range (MLS range, default "s0").
type SelinuxLoginProvider struct {
	sys System
}

// NewSelinuxLoginProvider creates the SELinux login mapping provider.
func NewSelinuxLoginProvider(sys System) *SelinuxLoginProvider {
	return &SelinuxLoginProvider{sys: sys}
}

// Kind implements engine.Provider.
func (p *SelinuxLoginProvider) Kind() engine.Kind { return engine.KindSelinuxLogin }

// Read implements engine.Provider. It parses `semanage login -l` output; a
// login absent from the table reads as not found.
func (p *SelinuxLoginProvider) Read(ctx context.Context, res *engine.Resource) (*engine.CurrentState, error) {
	out, err := p.sys.Run(ctx, "semanage", "login", "-l")
	if err != nil {
		return nil, wrapErr("semanage login -l", err)
	}

	login := res.StringAttr("login")
	for _, line := range strings.Split(string(out), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 || fields[0] != login {
			continue
		}
		state := &engine.CurrentState{
			Exists:     true,
			Attributes: map[string]any{"seuser": fields[1]},
		}
		if len(fields) > 2 {
			state.Attributes["range"] = fields[2]
		}
		return state, nil
	}
	return engine.NotFound(), nil
}

// Diff implements engine.Provider.
func (p *SelinuxLoginProvider) Diff(res *engine.Resource, current *engine.CurrentState) (*engine.ChangeSet, error) {
	if res.Ensure == engine.EnsureAbsent {
		if !current.Exists {
			return nil, nil
		}
		return &engine.ChangeSet{
			ResourceID: res.ID,
			Changes:    []engine.Change{{Path: "login", Before: res.StringAttr("login"), Action: engine.ChangeRemove}},
		}, nil
	}

	seuser := res.StringAttr("seuser")
	mlsRange := p.mlsRange(res)

	if !current.Exists {
		return &engine.ChangeSet{
			ResourceID: res.ID,
			Changes: []engine.Change{
				{Path: "seuser", After: seuser, Action: engine.ChangeCreate},
				{Path: "range", After: mlsRange, Action: engine.ChangeCreate},
			},
		}, nil
	}

	var changes []engine.Change
	if got, _ := current.Attributes["seuser"].(string); got != seuser {
		changes = append(changes, engine.Change{Path: "seuser", Before: got, After: seuser, Action: engine.ChangeUpdate})
	}
	if got, _ := current.Attributes["range"].(string); got != mlsRange {
		changes = append(changes, engine.Change{Path: "range", Before: got, After: mlsRange, Action: engine.ChangeUpdate})
	}
	if len(changes) == 0 {
		return nil, nil
	}
	return &engine.ChangeSet{ResourceID: res.ID, Changes: changes}, nil
}

// Apply implements engine.Provider. Creation uses -a, modification -m,
// removal -d; the change set's first action distinguishes create from update.
func (p *SelinuxLoginProvider) Apply(ctx context.Context, res *engine.Resource, changes *engine.ChangeSet) error {
	login := res.StringAttr("login")

	if res.Ensure == engine.EnsureAbsent {
		_, err := p.sys.Run(ctx, "semanage", "login", "-d", login)
		return wrapErr("semanage login -d", err)
	}

	flag := "-m"
	if len(changes.Changes) > 0 && changes.Changes[0].Action == engine.ChangeCreate {
		flag = "-a"
	}
	_, err := p.sys.Run(ctx, "semanage", "login", flag,
		"-s", res.StringAttr("seuser"), "-r", p.mlsRange(res), login)
	return wrapErr("semanage login "+flag, err)
}

func (p *SelinuxLoginProvider) mlsRange(res *engine.Resource) string {
	if r := res.StringAttr("range"); r != "" {
		return r
	}
	return "s0"
}
