package catalog

import (
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"

	"github.com/hostadm/hostadm/pkg/engine"
)

// SchemaRegistry holds the per-kind CUE attribute schemas resources are
// validated against before graph construction.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[engine.Kind]cue.Value
	mu      sync.RWMutex
}

// NewSchemaRegistry creates a registry with the built-in kind schemas.
func NewSchemaRegistry() (*SchemaRegistry, error) {
	sr := &SchemaRegistry{
		ctx:     cuecontext.New(),
		schemas: make(map[engine.Kind]cue.Value),
	}
	for kind, schema := range builtinKindSchemas {
		if err := sr.Register(kind, schema); err != nil {
			return nil, err
		}
	}
	return sr, nil
}

// Register compiles and stores the attribute schema for a kind.
func (sr *SchemaRegistry) Register(kind engine.Kind, schema string) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	val := sr.ctx.CompileString(schema)
	if err := val.Err(); err != nil {
		return fmt.Errorf("compile schema for kind %s: %w", kind, err)
	}
	sr.schemas[kind] = val
	return nil
}

// ValidateResource checks a resource's attributes against its kind schema.
// Violations are reported as schema errors naming the resource and field.
func (sr *SchemaRegistry) ValidateResource(res *engine.Resource) error {
	sr.mu.RLock()
	schema, ok := sr.schemas[res.Kind]
	sr.mu.RUnlock()
	if !ok {
		return engine.NewSchemaError(res.ID, "kind",
			fmt.Sprintf("no schema for kind %s", res.Kind))
	}

	attrs := res.Attributes
	if attrs == nil {
		attrs = map[string]any{}
	}
	data := sr.ctx.Encode(attrs)
	if err := data.Err(); err != nil {
		return engine.NewSchemaError(res.ID, "attributes", err.Error())
	}

	unified := schema.Unify(data)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return engine.NewSchemaError(res.ID, violatedField(err), err.Error())
	}
	return nil
}

// violatedField extracts the offending attribute path from a CUE error.
func violatedField(err error) string {
	if path := cueerrors.Path(err); len(path) > 0 {
		return path[len(path)-1]
	}
	return "attributes"
}

// builtinKindSchemas are the attribute schemas, one per resource kind.
// Schemas are open to extra attributes; required fields and value shapes are
// what compile-time validation enforces.
var builtinKindSchemas = map[engine.Kind]string{
	engine.KindPackage: `
{
	name:     string & !=""
	version?: string
	...
}`,

	engine.KindFile: `
{
	path:     string & =~"^/"
	content?: string
	mode?:    string & =~"^[0-7]{3,4}$"
	...
}`,

	engine.KindTidy: `
{
	path:       string & =~"^/"
	matches?:   string & !=""
	recursive?: bool
	...
}`,

	engine.KindSudoRule: `
{
	name:     string & !=""
	group:    string & !=""
	commands: [string & !="", ...string & !=""]
	runas?:    string
	nopasswd?: bool
	...
}`,

	engine.KindPamRule: `
{
	file?:       string & =~"^/"
	permission?: "+" | "-"
	who:         string & !=""
	origins:     [string & !="", ...string & !=""]
	...
}`,

	engine.KindPolkitRule: `
{
	name:    string & !=""
	group:   string & !=""
	result?: "yes" | "no" | "auth_admin" | "auth_admin_keep" | "auth_self" | "auth_self_keep"
	actions: [string & !="", ...string & !=""]
	...
}`,

	engine.KindSelinuxLogin: `
{
	login:  string & !=""
	seuser: string & !=""
	range?: string & !=""
	...
}`,

	engine.KindCronTrigger: `
{
	name:      string & !=""
	command:   string & !=""
	schedule?: string & !=""
	user?:     string & !=""
	...
}`,
}
