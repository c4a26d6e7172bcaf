package engine

import (
	"fmt"
	"sort"
)

// Kind identifies the provider capability set a resource is dispatched to.
// The set is closed: dispatch is by tag, not reflection.
type Kind string

const (
	// KindPackage manages an installed package (present, absent, latest).
	KindPackage Kind = "package"

	// KindFile manages a single file's existence, content and mode.
	KindFile Kind = "file"

	// KindTidy removes files matching a pattern under a directory.
	KindTidy Kind = "tidy"

	// KindSudoRule manages a drop-in under /etc/sudoers.d.
	KindSudoRule Kind = "sudo_rule"

	// KindPamRule manages an access rule block in /etc/security/access.conf.
	KindPamRule Kind = "pam_rule"

	// KindPolkitRule manages a PolicyKit rules file.
	KindPolkitRule Kind = "polkit_rule"

	// KindSelinuxLogin manages an SELinux login mapping.
	KindSelinuxLogin Kind = "selinux_login"

	// KindCronTrigger manages a cron file that fires a one-shot action
	// producing an artifact.
	KindCronTrigger Kind = "cron_trigger"
)

// Validate checks that the kind is one of the closed set.
func (k Kind) Validate() error {
	switch k {
	case KindPackage, KindFile, KindTidy, KindSudoRule, KindPamRule,
		KindPolkitRule, KindSelinuxLogin, KindCronTrigger:
		return nil
	default:
		return fmt.Errorf("invalid resource kind: %s", k)
	}
}

// Ensure is the desired-state disposition of a resource.
type Ensure string

const (
	// EnsurePresent requires the entity to exist in the declared shape.
	EnsurePresent Ensure = "present"

	// EnsureAbsent requires the entity to not exist.
	EnsureAbsent Ensure = "absent"

	// EnsureLatest requires a package to be installed at the newest version.
	EnsureLatest Ensure = "latest"
)

// Validate checks that the ensure value is known.
func (e Ensure) Validate() error {
	switch e {
	case EnsurePresent, EnsureAbsent, EnsureLatest:
		return nil
	default:
		return fmt.Errorf("invalid ensure value: %s", e)
	}
}

// Resource is a single typed declaration of desired state for one managed
// entity. Attribute schemas vary per kind and are validated by the catalog
// compiler before graph construction.
type Resource struct {
	// ID is the unique name of the resource within a catalog (kind + title).
	ID string `json:"id"`

	// Kind selects the provider.
	Kind Kind `json:"kind"`

	// Ensure is the desired disposition.
	Ensure Ensure `json:"ensure"`

	// Attributes is the kind-specific desired configuration.
	Attributes map[string]any `json:"attributes,omitempty"`

	// Dependencies lists resource IDs that must be reconciled first.
	Dependencies []string `json:"dependencies,omitempty"`
}

// StringAttr returns a string attribute, or empty when unset or mistyped.
func (r *Resource) StringAttr(name string) string {
	v, _ := r.Attributes[name].(string)
	return v
}

// BoolAttr returns a boolean attribute; unset defaults to false.
func (r *Resource) BoolAttr(name string) bool {
	v, _ := r.Attributes[name].(bool)
	return v
}

// StringSliceAttr returns an ordered string-sequence attribute. Both
// []string and []any of strings are accepted, matching what YAML and CUE
// decoding produce.
func (r *Resource) StringSliceAttr(name string) []string {
	switch v := r.Attributes[name].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil
			}
			out = append(out, s)
		}
		return out
	default:
		return nil
	}
}

// MapAttr returns a nested mapping attribute, or nil when unset.
func (r *Resource) MapAttr(name string) map[string]string {
	switch v := r.Attributes[name].(type) {
	case map[string]string:
		return v
	case map[string]any:
		out := make(map[string]string, len(v))
		for k, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil
			}
			out[k] = s
		}
		return out
	default:
		return nil
	}
}

// Catalog is the compiled, ordered set of desired-state resources for one
// reconciliation run. It is immutable once compiled and discarded after the
// run.
type Catalog struct {
	// Resources is the dependency-ordered resource sequence. Ties are broken
	// by declaration order, so compilation is deterministic.
	Resources []Resource `json:"resources"`

	byID map[string]*Resource
}

// NewCatalog builds a catalog from an already-ordered resource sequence,
// enforcing the ID uniqueness invariant.
func NewCatalog(resources []Resource) (*Catalog, error) {
	c := &Catalog{
		Resources: resources,
		byID:      make(map[string]*Resource, len(resources)),
	}
	for i := range resources {
		r := &resources[i]
		if r.ID == "" {
			return nil, NewSchemaError("", "id", "resource has empty ID")
		}
		if _, dup := c.byID[r.ID]; dup {
			return nil, NewSchemaError(r.ID, "id", "duplicate resource ID")
		}
		c.byID[r.ID] = r
	}
	return c, nil
}

// Resource returns the resource with the given ID, or nil.
func (c *Catalog) Resource(id string) *Resource {
	return c.byID[id]
}

// Len returns the number of resources in the catalog.
func (c *Catalog) Len() int {
	return len(c.Resources)
}

// IDs returns all resource IDs in catalog order.
func (c *Catalog) IDs() []string {
	ids := make([]string, len(c.Resources))
	for i := range c.Resources {
		ids[i] = c.Resources[i].ID
	}
	return ids
}

// Kinds returns the distinct kinds present in the catalog, sorted.
func (c *Catalog) Kinds() []Kind {
	seen := make(map[Kind]struct{})
	for i := range c.Resources {
		seen[c.Resources[i].Kind] = struct{}{}
	}
	kinds := make([]Kind, 0, len(seen))
	for k := range seen {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}
