package catalog

import (
	"context"
	"fmt"
	"time"

	"go.starlark.net/starlark"
)

// lookupFunc is the conventional entry point a Starlark lookup layer exports.
const lookupFunc = "lookup"

// StarlarkLayer is a lookup layer whose values are computed by a Starlark
// script exporting a lookup(key) function. Returning None signals a miss and
// resolution falls through to the next layer.
type StarlarkLayer struct {
	name    string
	fn      starlark.Callable
	timeout time.Duration
}

// NewStarlarkLayer compiles and executes a lookup script. The script's
// globals must include a callable named lookup.
func NewStarlarkLayer(name, script string, timeout time.Duration) (*StarlarkLayer, error) {
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	thread := &starlark.Thread{
		Name: "hostadm",
		Print: func(_ *starlark.Thread, _ string) {
			// Lookup scripts have no output channel.
		},
	}
	globals, err := starlark.ExecFile(thread, name, script, nil)
	if err != nil {
		return nil, fmt.Errorf("starlark layer %s: %w", name, err)
	}

	fn, ok := globals[lookupFunc].(starlark.Callable)
	if !ok {
		return nil, fmt.Errorf("starlark layer %s: no lookup(key) function exported", name)
	}
	return &StarlarkLayer{name: name, fn: fn, timeout: timeout}, nil
}

// Name returns the layer's source name.
func (l *StarlarkLayer) Name() string { return l.name }

// Lookup calls the script's lookup function under the layer timeout.
func (l *StarlarkLayer) Lookup(ctx context.Context, key string) (any, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	type result struct {
		value starlark.Value
		err   error
	}
	ch := make(chan result, 1)
	go func() {
		thread := &starlark.Thread{Name: "hostadm-lookup"}
		v, err := starlark.Call(thread, l.fn, starlark.Tuple{starlark.String(key)}, nil)
		ch <- result{value: v, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, false, fmt.Errorf("starlark layer %s: lookup(%q) timed out", l.name, key)
	case r := <-ch:
		if r.err != nil {
			return nil, false, fmt.Errorf("starlark layer %s: %w", l.name, r.err)
		}
		if r.value == starlark.None {
			return nil, false, nil
		}
		v, err := fromStarlarkValue(r.value)
		if err != nil {
			return nil, false, fmt.Errorf("starlark layer %s: %w", l.name, err)
		}
		return v, true, nil
	}
}

// fromStarlarkValue converts a Starlark value to a plain Go value.
func fromStarlarkValue(v starlark.Value) (any, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(val), nil
	case starlark.Int:
		i, ok := val.Int64()
		if !ok {
			return nil, fmt.Errorf("integer too large")
		}
		return i, nil
	case starlark.Float:
		return float64(val), nil
	case starlark.String:
		return string(val), nil
	case *starlark.List:
		list := make([]any, val.Len())
		for i := 0; i < val.Len(); i++ {
			item, err := fromStarlarkValue(val.Index(i))
			if err != nil {
				return nil, err
			}
			list[i] = item
		}
		return list, nil
	case *starlark.Dict:
		dict := make(map[string]any)
		for _, item := range val.Items() {
			key, ok := item[0].(starlark.String)
			if !ok {
				return nil, fmt.Errorf("dict key must be string")
			}
			value, err := fromStarlarkValue(item[1])
			if err != nil {
				return nil, err
			}
			dict[string(key)] = value
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported starlark type: %s", v.Type())
	}
}
