package agent

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	reflectschema "github.com/invopop/jsonschema"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// SchemaFor reflects a JSON Schema for the argument struct T. Field names come
// from json tags; `jsonschema:"required"` and friends are honored.
func SchemaFor[T any]() json.RawMessage {
	r := &reflectschema.Reflector{
		DoNotReference:            true,
		AllowAdditionalProperties: false,
		ExpandedStruct:            true,
	}
	var zero T
	schema := r.Reflect(&zero)
	schema.Version = ""
	schema.ID = ""
	data, err := json.Marshal(schema)
	if err != nil {
		panic(fmt.Sprintf("reflect tool schema: %v", err))
	}
	return data
}

// schemaCache holds compiled argument validators keyed by schema text.
type schemaCache struct {
	m sync.Map
}

func (c *schemaCache) compile(name string, schema json.RawMessage) (*jsonschema.Schema, error) {
	key := string(schema)
	if cached, ok := c.m.Load(key); ok {
		return cached.(*jsonschema.Schema), nil
	}
	compiled, err := jsonschema.CompileString(name+".schema.json", key)
	if err != nil {
		return nil, err
	}
	c.m.Store(key, compiled)
	return compiled, nil
}

// validate checks params against schema. Empty params validate as {}.
func (c *schemaCache) validate(name string, schema, params json.RawMessage) error {
	if len(bytes.TrimSpace(schema)) == 0 {
		return nil
	}
	compiled, err := c.compile(name, schema)
	if err != nil {
		return fmt.Errorf("compile schema for %s: %w", name, err)
	}
	if len(bytes.TrimSpace(params)) == 0 {
		params = json.RawMessage(`{}`)
	}
	var decoded any
	if err := json.Unmarshal(params, &decoded); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	if err := compiled.Validate(decoded); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	return nil
}
