package providers

import (
	"context"
	"fmt"
	"io/fs"
	"strconv"

	"github.com/hostadm/hostadm/pkg/engine"
)

// Several kinds (file, sudo rule, polkit rule, cron trigger) reconcile a
// single rendered file. The helpers here implement their shared
// read/diff/apply mechanics; each provider contributes only path and
// rendering.

// readManagedFile builds the current state for a file-backed resource.
func readManagedFile(sys System, path string) (*engine.CurrentState, error) {
	exists, err := sys.Exists(path)
	if err != nil {
		return nil, wrapErr("stat "+path, err)
	}
	if !exists {
		return engine.NotFound(), nil
	}

	data, err := sys.ReadFile(path)
	if err != nil {
		return nil, wrapErr("read "+path, err)
	}
	mode, err := sys.Mode(path)
	if err != nil {
		return nil, wrapErr("stat "+path, err)
	}

	return &engine.CurrentState{
		Exists: true,
		Attributes: map[string]any{
			"content": string(data),
			"mode":    fmt.Sprintf("%04o", mode),
		},
	}, nil
}

// diffManagedFile computes the change set for a file-backed resource.
func diffManagedFile(res *engine.Resource, desired string, mode fs.FileMode, current *engine.CurrentState) *engine.ChangeSet {
	if res.Ensure == engine.EnsureAbsent {
		if !current.Exists {
			return nil
		}
		return &engine.ChangeSet{
			ResourceID: res.ID,
			Changes:    []engine.Change{{Path: "file", Action: engine.ChangeRemove}},
		}
	}

	if !current.Exists {
		return &engine.ChangeSet{
			ResourceID: res.ID,
			Changes:    []engine.Change{{Path: "file", After: desired, Action: engine.ChangeCreate}},
		}
	}

	var changes []engine.Change
	if got, _ := current.Attributes["content"].(string); got != desired {
		changes = append(changes, engine.Change{
			Path: "content", Before: got, After: desired, Action: engine.ChangeUpdate,
		})
	}
	wantMode := fmt.Sprintf("%04o", mode)
	if got, _ := current.Attributes["mode"].(string); got != wantMode {
		changes = append(changes, engine.Change{
			Path: "mode", Before: got, After: wantMode, Action: engine.ChangeUpdate,
		})
	}
	if len(changes) == 0 {
		return nil
	}
	return &engine.ChangeSet{ResourceID: res.ID, Changes: changes}
}

// applyManagedFile converges a file-backed resource.
func applyManagedFile(ctx context.Context, sys System, res *engine.Resource, path, desired string, mode fs.FileMode) error {
	if err := ctx.Err(); err != nil {
		return wrapErr("apply "+path, err)
	}
	if res.Ensure == engine.EnsureAbsent {
		return wrapErr("remove "+path, sys.Remove(path))
	}
	return wrapErr("write "+path, sys.WriteFile(path, []byte(desired), mode))
}

// parseMode parses an octal mode attribute, defaulting when unset.
func parseMode(attr string, def fs.FileMode) (fs.FileMode, error) {
	if attr == "" {
		return def, nil
	}
	n, err := strconv.ParseUint(attr, 8, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid mode %q: %w", attr, err)
	}
	return fs.FileMode(n), nil
}
