package config

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	"github.com/openfroyo/mongocfg/pkg/engine"
)

// Built-in schema names.
const (
	SchemaParameters = "parameters"
	SchemaMongoDB    = "mongodb"
)

// SchemaRegistry holds named CUE definitions used to validate parameters.
// Values can only be unified within one cue.Context, so the registry and
// the parser share theirs.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

// NewSchemaRegistry creates a registry with the built-in schemas. A nil
// ctx gets a fresh context.
func NewSchemaRegistry(ctx *cue.Context) *SchemaRegistry {
	if ctx == nil {
		ctx = cuecontext.New()
	}
	sr := &SchemaRegistry{
		ctx:     ctx,
		schemas: make(map[string]cue.Value),
	}

	for _, b := range []struct{ name, def string }{
		{SchemaMongoDB, "#MongoServer"},
		{SchemaParameters, "#Parameters"},
	} {
		if err := sr.RegisterSchema(b.name, builtinMongoSchema, b.def); err != nil {
			panic(fmt.Sprintf("built-in schema %s: %v", b.name, err))
		}
	}

	return sr
}

// RegisterSchema compiles source and registers the definition it names
// (for example "#MongoServer") under name.
func (sr *SchemaRegistry) RegisterSchema(name, source, definition string) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	val := sr.ctx.CompileString(source, cue.Filename(name+".cue"))
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}

	def := val.LookupPath(cue.ParsePath(definition))
	if !def.Exists() {
		return fmt.Errorf("schema %s: definition %s not found", name, definition)
	}

	sr.schemas[name] = def
	return nil
}

// GetSchema retrieves a schema by name.
func (sr *SchemaRegistry) GetSchema(name string) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	val, ok := sr.schemas[name]
	return val, ok
}

// ValidateAgainstSchema encodes data into CUE and unifies it with the
// named schema.
func (sr *SchemaRegistry) ValidateAgainstSchema(ctx context.Context, schemaName string, data interface{}) error {
	schema, ok := sr.GetSchema(schemaName)
	if !ok {
		return fmt.Errorf("schema %s not found", schemaName)
	}

	dataVal := sr.ctx.Encode(data)
	if err := dataVal.Err(); err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}

	if err := schema.Unify(dataVal).Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	return nil
}

// ValidateInput validates a settings bag against the #MongoServer schema.
func (sr *SchemaRegistry) ValidateInput(ctx context.Context, in engine.Input) error {
	return sr.ValidateAgainstSchema(ctx, SchemaMongoDB, in)
}

// ListSchemas returns all registered schema names, sorted.
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

// The definitions are closed, so unknown keys are rejected.
const builtinMongoSchema = `
#AbsPath: string & =~"^/"

#MongoServer: {
	ensure?:         "present" | "absent"
	config?:         #AbsPath
	dbpath?:         #AbsPath
	logpath?:        string
	port?:           int & >=1 & <=65535
	bind_ip?:        [...string]
	ipv6?:           bool
	fork?:           bool
	logappend?:      bool
	auth?:           bool
	journal?:        bool
	quota?:          bool
	quotafiles?:     int & >=1
	syslog?:         bool
	set_parameter?:  string
	user?:           string & !=""
	group?:          string & !=""
	pidfilepath?:    #AbsPath
	pidfilemode?:    string & =~"^0?[0-7]{3}$"
	dbpath_fix?:     bool
	rcfile?:         #AbsPath
	store_creds?:    bool
	admin_username?: string
	admin_password?: string
	keyfile?:        #AbsPath
	replset?:        string
	maxconns?:       int & >=1
	directoryperdb?: bool
}

#Parameters: {
	target?: string & =~"^[a-zA-Z0-9_.-]+$"
	mongodb: #MongoServer
}
`
