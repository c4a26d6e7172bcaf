package engine

import (
	"context"
	"fmt"
	"sync"
)

// Provider is the per-kind logic implementing read/diff/apply against live
// host state. Read must not mutate; Diff is a pure function; Apply performs
// the minimal mutation to satisfy the change set.
type Provider interface {
	// Kind returns the resource kind this provider handles.
	Kind() Kind

	// Read inspects current host state for the resource. A missing entity is
	// reported via CurrentState.Exists = false, not an error.
	Read(ctx context.Context, res *Resource) (*CurrentState, error)

	// Diff compares desired state with current state. A nil change set
	// signals the idempotent no-op.
	Diff(res *Resource, current *CurrentState) (*ChangeSet, error)

	// Apply converges the entity toward the desired state described by the
	// change set. Failures are reported as provider errors, never panics.
	Apply(ctx context.Context, res *Resource, changes *ChangeSet) error
}

// CurrentState is a provider's view of the live entity backing a resource.
type CurrentState struct {
	// Exists reports whether the entity exists at all.
	Exists bool `json:"exists"`

	// Attributes holds the observed kind-specific state.
	Attributes map[string]any `json:"attributes,omitempty"`
}

// NotFound is the canonical current state for a missing entity.
func NotFound() *CurrentState {
	return &CurrentState{Exists: false}
}

// ChangeAction describes what a single change does.
type ChangeAction string

const (
	// ChangeCreate introduces a missing entity.
	ChangeCreate ChangeAction = "create"

	// ChangeUpdate modifies an attribute of an existing entity.
	ChangeUpdate ChangeAction = "update"

	// ChangeRemove removes an entity or attribute.
	ChangeRemove ChangeAction = "remove"
)

// Change is one attribute-level difference between desired and current state.
type Change struct {
	// Path names the attribute being changed.
	Path string `json:"path"`

	// Before is the observed value, if any.
	Before any `json:"before,omitempty"`

	// After is the desired value, if any.
	After any `json:"after,omitempty"`

	// Action is the change action.
	Action ChangeAction `json:"action"`
}

// ChangeSet is the non-empty list of changes required to converge one
// resource. A nil *ChangeSet means the resource is already converged.
type ChangeSet struct {
	// ResourceID is the resource this change set belongs to.
	ResourceID string `json:"resource_id"`

	// Changes lists the attribute-level differences.
	Changes []Change `json:"changes"`
}

// Summary renders a short human-readable description of the change set.
func (cs *ChangeSet) Summary() string {
	if cs == nil || len(cs.Changes) == 0 {
		return "no changes"
	}
	if len(cs.Changes) == 1 {
		return fmt.Sprintf("%s %s", cs.Changes[0].Action, cs.Changes[0].Path)
	}
	return fmt.Sprintf("%d changes", len(cs.Changes))
}

// Registry holds the closed set of providers, keyed by resource kind.
type Registry struct {
	mu        sync.RWMutex
	providers map[Kind]Provider
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[Kind]Provider)}
}

// Register adds a provider. Registering a kind twice is a programming error.
func (r *Registry) Register(p Provider) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := p.Kind().Validate(); err != nil {
		return err
	}
	if _, dup := r.providers[p.Kind()]; dup {
		return fmt.Errorf("provider already registered for kind %s", p.Kind())
	}
	r.providers[p.Kind()] = p
	return nil
}

// Get returns the provider for a kind.
func (r *Registry) Get(kind Kind) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[kind]
	if !ok {
		return nil, NewProviderError(ReasonNotSupported,
			fmt.Sprintf("no provider registered for kind %s", kind), nil)
	}
	return p, nil
}

// Kinds returns the registered kinds.
func (r *Registry) Kinds() []Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]Kind, 0, len(r.providers))
	for k := range r.providers {
		kinds = append(kinds, k)
	}
	return kinds
}
