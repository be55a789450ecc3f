package persistence

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// DefaultDefinitionSchema is the JSON Schema loader definitions are validated
// against when the deployment does not supply its own. It only pins the
// structural envelope; the query content itself is opaque to the registry.
const DefaultDefinitionSchema = `{
	"type": "object",
	"required": ["query"],
	"properties": {
		"query": {"type": "string", "minLength": 1},
		"source": {"type": "string"},
		"parameters": {"type": "object"}
	}
}`

// DefinitionValidator validates loader definitions against a JSON Schema
// compiled via santhosh-tekuri/jsonschema.
type DefinitionValidator struct {
	compiled *jsonschema.Schema
}

// NewDefinitionValidator compiles the provided schema definition. Pass an
// empty slice to use DefaultDefinitionSchema.
func NewDefinitionValidator(schemaDefinition []byte) (*DefinitionValidator, error) {
	if len(schemaDefinition) == 0 {
		schemaDefinition = []byte(DefaultDefinitionSchema)
	}

	const key = "memory://loader-registry/definition-schema"

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(key, bytes.NewReader(schemaDefinition)); err != nil {
		return nil, fmt.Errorf("register definition schema: %w", err)
	}

	compiled, err := compiler.Compile(key)
	if err != nil {
		return nil, fmt.Errorf("compile definition schema: %w", err)
	}

	return &DefinitionValidator{compiled: compiled}, nil
}

// Validate ensures the definition payload matches the compiled schema.
func (v *DefinitionValidator) Validate(_ context.Context, definition []byte) error {
	if len(definition) == 0 {
		return fmt.Errorf("definition is required for validation")
	}

	var document any
	if err := json.Unmarshal(definition, &document); err != nil {
		return fmt.Errorf("decode definition: %w", err)
	}

	if err := v.compiled.Validate(document); err != nil {
		return fmt.Errorf("definition validation: %w", err)
	}

	return nil
}
