package config

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// Names of the built-in schemas.
const (
	SchemaService = "service"
	SchemaRuleSet = "ruleset"
)

// SchemaRegistry holds CUE schemas that Go values are checked against.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

// NewSchemaRegistry creates a registry with the built-in schemas.
func NewSchemaRegistry() *SchemaRegistry {
	sr := &SchemaRegistry{
		ctx:     cuecontext.New(),
		schemas: make(map[string]cue.Value),
	}

	for name, src := range map[string]string{
		SchemaService: builtinServiceSchema,
		SchemaRuleSet: builtinRuleSetSchema,
	} {
		if err := sr.RegisterSchema(name, src); err != nil {
			panic(err)
		}
	}

	return sr
}

// RegisterSchema compiles and registers a CUE schema under name.
func (sr *SchemaRegistry) RegisterSchema(name, schema string) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	val := sr.ctx.CompileString(schema)
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}

	sr.schemas[name] = val
	return nil
}

// GetSchema retrieves a schema by name.
func (sr *SchemaRegistry) GetSchema(name string) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	val, ok := sr.schemas[name]
	return val, ok
}

// ValidateAgainstSchema encodes data (using its json tags) and unifies it
// with the named schema. Every field of the result must be concrete.
func (sr *SchemaRegistry) ValidateAgainstSchema(ctx context.Context, schemaName string, data interface{}) error {
	schema, ok := sr.GetSchema(schemaName)
	if !ok {
		return fmt.Errorf("schema %s not found", schemaName)
	}

	sr.mu.Lock()
	defer sr.mu.Unlock()

	dataVal := sr.ctx.Encode(data)
	if err := dataVal.Err(); err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}

	unified := schema.Unify(dataVal)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	return nil
}

// ListSchemas returns the registered schema names, sorted.
func (sr *SchemaRegistry) ListSchemas() []string {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	names := make([]string, 0, len(sr.schemas))
	for name := range sr.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

const builtinServiceSchema = `
server: {
	address:          =~"^[^\\s]*:[0-9]{1,5}$"
	max_upload_bytes: int & >0 & <=104857600
}

database: {
	path:           string & !=""
	max_open_conns: int & >=0
	max_idle_conns: int & >=0
}

scripts: dir: string & !=""

sections: {
	boundary_pattern: string & !=""
	id_prefix:        string & !=""
	interpreter:      =~"^#!"
}

transport: {
	kind: "ssh" | "ansible" | "local"
	ssh: {
		port:       int & >=1 & <=65535
		remote_dir: =~"^/"
	}
}

rules: paths: [...string] | null

enforcement: {
	enabled:      bool
	policy_paths: [...string] | null
}

consul: {
	enabled: bool
	if enabled {
		address:      string & !=""
		service_name: string & !=""
	}
}
`

const builtinRuleSetSchema = `
dangerous_commands?:   [...string & !=""] | null
dangerous_paths?:      [...string & !=""] | null
suspicious_protocols?: [...string & !=""] | null
dangerous_modules?:    [...string & =~"^[a-z_][a-z0-9_.]*$"] | null
required_fields?:      [...string & !=""] | null
task_modifiers?:       [...string & !=""] | null
disabled?:             [...string & !=""] | null
`
