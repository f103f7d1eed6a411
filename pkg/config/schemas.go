package config

import (
	"fmt"
	"sync"

	"cuelang.org/go/cue"
)

// SchemaRegistry manages CUE schemas for validation. Each schema is a CUE
// definition registered under a short name.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

// newSchemaRegistry creates a registry holding the built-in manifest
// schemas, compiled in ctx.
func newSchemaRegistry(ctx *cue.Context) *SchemaRegistry {
	sr := &SchemaRegistry{
		ctx:     ctx,
		schemas: make(map[string]cue.Value),
	}

	if err := sr.RegisterDefinition("module", builtinSchemas, "#Module"); err != nil {
		panic(err)
	}
	if err := sr.RegisterDefinition("service", builtinSchemas, "#Service"); err != nil {
		panic(err)
	}
	if err := sr.RegisterDefinition("runnable", builtinSchemas, "#Runnable"); err != nil {
		panic(err)
	}

	return sr
}

// RegisterDefinition compiles a CUE source and registers the definition at
// path, or the root value when path is empty.
func (sr *SchemaRegistry) RegisterDefinition(name, schema, path string) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	val := sr.ctx.CompileString(schema, cue.Filename(name+".cue"))
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}

	if path != "" {
		val = val.LookupPath(cue.ParsePath(path))
		if !val.Exists() {
			return fmt.Errorf("schema %s has no definition %s", name, path)
		}
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

// Unify unifies a value with a named schema and checks that the result is
// concrete.
func (sr *SchemaRegistry) Unify(schemaName string, val cue.Value) (cue.Value, error) {
	schema, ok := sr.GetSchema(schemaName)
	if !ok {
		return cue.Value{}, fmt.Errorf("schema %s not found", schemaName)
	}

	unified := schema.Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return cue.Value{}, err
	}
	return unified, nil
}

// builtinSchemas mirrors the YAML manifest format.
const builtinSchemas = `
#Name: =~"^[a-zA-Z0-9][a-zA-Z0-9_-]*$"

#ValueID: =~"^[a-zA-Z0-9][a-zA-Z0-9_-]*\\.[a-zA-Z0-9][a-zA-Z0-9_-]*$"

// A single step: a shell command or an inline Starlark script.
#Step: string | {
	run:    string
	label?: string
} | {
	script: string
	label?: string
}

// Runnables may also be a list of steps run in order.
#Runnable: #Step | [...#Step] | {
	steps: [...#Step]
	label?: string
}

#HealthCheck: {
	http?:     string
	tcp?:      string
	command?:  string
	timeout?:  string
	interval?: string
}

#Service: {
	name:  #Name
	port?: int & >=0 & <=65535
	start: string & !=""
	dependencies?: [...#Name]
	env?: {[string]: string}
	values?: {[string]: string}
	value_providers?: {[string]: #Runnable}
	value_env?: {[string]: #ValueID}
	health_check?: #HealthCheck
}

#Module: {
	name:   #Name
	build?: #Runnable
	env?: {[string]: string}
	migrations?: {[string]: #Runnable}
	runnables?: {[string]: #Runnable}
	docker?: {
		image?:           string
		compose_service?: string
	}
	services: [...#Service] | *[]
}
`
