package render

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// inputSchema describes the render input descriptor: an ordered scene
// list with asset references. Asset resolution to URLs happens in the
// render engine, outside this core.
const inputSchema = `{
	"type": "object",
	"required": ["scenes"],
	"properties": {
		"scenes": {
			"type": "array",
			"minItems": 1,
			"items": {
				"type": "object",
				"required": ["id"],
				"properties": {
					"id": {"type": "string", "minLength": 1},
					"duration_ms": {"type": "integer", "minimum": 1},
					"assets": {
						"type": "array",
						"items": {
							"type": "object",
							"required": ["ref"],
							"properties": {
								"ref":  {"type": "string", "minLength": 1},
								"kind": {"type": "string", "enum": ["video", "image", "audio", "text"]}
							}
						}
					}
				}
			}
		},
		"resolution": {"type": "string", "pattern": "^[0-9]+x[0-9]+$"},
		"fps": {"type": "integer", "minimum": 1, "maximum": 120}
	}
}`

// InputValidator validates render input descriptors before admission so
// malformed submissions never reach the ledger.
type InputValidator struct {
	schema *jsonschema.Schema
}

func NewInputValidator() (*InputValidator, error) {
	schema, err := jsonschema.CompileString("https://renderowl.dev/schemas/render-input", inputSchema)
	if err != nil {
		return nil, fmt.Errorf("compile render input schema: %w", err)
	}
	return &InputValidator{schema: schema}, nil
}

// Validate checks a raw input descriptor against the schema.
func (v *InputValidator) Validate(input json.RawMessage) error {
	if len(input) == 0 {
		return fmt.Errorf("input descriptor required")
	}
	var doc any
	dec := json.NewDecoder(bytes.NewReader(input))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("input descriptor is not valid JSON: %w", err)
	}
	if err := v.schema.Validate(doc); err != nil {
		return fmt.Errorf("input descriptor invalid: %w", err)
	}
	return nil
}
