package schema

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// JSONDecoder decodes JSON payloads and optionally validates them
// against a JSON Schema
type JSONDecoder struct {
	schema *jsonschema.Schema
}

// NewJSONDecoder creates a JSON decoder. An empty schema disables validation.
func NewJSONDecoder(schemaText string) (*JSONDecoder, error) {
	if strings.TrimSpace(schemaText) == "" {
		return &JSONDecoder{}, nil
	}

	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	if err := compiler.AddResource("payload.json", strings.NewReader(schemaText)); err != nil {
		return nil, fmt.Errorf("invalid JSON schema: %w", err)
	}

	compiled, err := compiler.Compile("payload.json")
	if err != nil {
		return nil, fmt.Errorf("failed to compile JSON schema: %w", err)
	}

	return &JSONDecoder{schema: compiled}, nil
}

// Decode parses the payload, preserving numbers as json.Number so that
// large millisecond timestamps keep full precision
func (d *JSONDecoder) Decode(_ context.Context, payload []byte, _ string) (interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()

	var value interface{}
	if err := dec.Decode(&value); err != nil {
		return nil, fmt.Errorf("failed to unmarshal JSON payload: %w", err)
	}

	if d.schema != nil {
		if err := d.schema.Validate(value); err != nil {
			return nil, fmt.Errorf("payload does not match JSON schema: %w", err)
		}
	}

	return value, nil
}
