package catalog

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Layer is one source in the layered lookup chain.
type Layer interface {
	// Name identifies the layer in logs.
	Name() string

	// Lookup resolves a key. found=false falls through to the next layer.
	Lookup(ctx context.Context, key string) (value any, found bool, err error)
}

// Resolver resolves lookup keys through an ordered list of layers, most
// specific first. A missing file or key falls through; only a malformed
// layer is an error.
type Resolver struct {
	layers []Layer
	logger zerolog.Logger
}

// NewResolver creates a resolver over the given layers.
func NewResolver(logger zerolog.Logger, layers ...Layer) *Resolver {
	return &Resolver{
		layers: layers,
		logger: logger.With().Str("component", "lookup").Logger(),
	}
}

// NewResolverFromPaths builds a resolver from layer file paths. YAML files
// become mapping layers, *.star files become Starlark layers. Missing files
// are skipped so host-specific layers are optional.
func NewResolverFromPaths(logger zerolog.Logger, paths ...string) (*Resolver, error) {
	var layers []Layer
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}

		var layer Layer
		if filepath.Ext(path) == ".star" {
			layer, err = NewStarlarkLayer(filepath.Base(path), string(data), 10*time.Second)
		} else {
			layer, err = NewYAMLLayer(filepath.Base(path), data)
		}
		if err != nil {
			return nil, err
		}
		layers = append(layers, layer)
	}
	return NewResolver(logger, layers...), nil
}

// Lookup resolves a key; the first layer that has it wins.
func (r *Resolver) Lookup(ctx context.Context, key string) (any, bool) {
	for _, layer := range r.layers {
		value, found, err := layer.Lookup(ctx, key)
		if err != nil {
			r.logger.Warn().Err(err).
				Str("layer", layer.Name()).
				Str("key", key).
				Msg("lookup layer failed, falling through")
			continue
		}
		if found {
			return value, true
		}
	}
	return nil, false
}

// StringSlice resolves a key to a string list, or returns def when the key
// is missing or not a list of strings.
func (r *Resolver) StringSlice(ctx context.Context, key string, def []string) []string {
	value, found := r.Lookup(ctx, key)
	if !found {
		return def
	}
	switch v := value.(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return def
			}
			out = append(out, s)
		}
		return out
	default:
		return def
	}
}

// YAMLLayer is a lookup layer backed by one flat YAML mapping.
type YAMLLayer struct {
	name   string
	values map[string]any
}

// NewYAMLLayer parses a YAML mapping into a layer.
func NewYAMLLayer(name string, data []byte) (*YAMLLayer, error) {
	values := make(map[string]any)
	if err := yaml.Unmarshal(data, &values); err != nil {
		return nil, err
	}
	return &YAMLLayer{name: name, values: values}, nil
}

// Name returns the layer's source name.
func (l *YAMLLayer) Name() string { return l.name }

// Lookup implements Layer.
func (l *YAMLLayer) Lookup(_ context.Context, key string) (any, bool, error) {
	value, ok := l.values[key]
	return value, ok, nil
}
