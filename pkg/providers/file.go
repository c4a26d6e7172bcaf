package providers

import (
	"context"
	"io/fs"

	"github.com/hostadm/hostadm/pkg/engine"
)

// FileProvider manages a single file's existence, content, and mode.
//
// Attributes: path (required), content, mode (octal string, default 0644).
type FileProvider struct {
	sys System
}

// NewFileProvider creates the file provider.
func NewFileProvider(sys System) *FileProvider {
	return &FileProvider{sys: sys}
}

// Kind implements engine.Provider.
func (p *FileProvider) Kind() engine.Kind { return engine.KindFile }

// Read implements engine.Provider.
func (p *FileProvider) Read(_ context.Context, res *engine.Resource) (*engine.CurrentState, error) {
	return readManagedFile(p.sys, res.StringAttr("path"))
}

// Diff implements engine.Provider.
func (p *FileProvider) Diff(res *engine.Resource, current *engine.CurrentState) (*engine.ChangeSet, error) {
	mode, err := p.mode(res)
	if err != nil {
		return nil, err
	}
	return diffManagedFile(res, res.StringAttr("content"), mode, current), nil
}

// Apply implements engine.Provider.
func (p *FileProvider) Apply(ctx context.Context, res *engine.Resource, _ *engine.ChangeSet) error {
	mode, err := p.mode(res)
	if err != nil {
		return err
	}
	return applyManagedFile(ctx, p.sys, res, res.StringAttr("path"), res.StringAttr("content"), mode)
}

func (p *FileProvider) mode(res *engine.Resource) (fs.FileMode, error) {
	mode, err := parseMode(res.StringAttr("mode"), 0o644)
	if err != nil {
		return 0, engine.NewSchemaError(res.ID, "mode", err.Error())
	}
	return mode, nil
}
