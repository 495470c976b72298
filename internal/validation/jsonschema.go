package validation

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/rendis/taskweave/pkg/schema"
)

const workflowSchemaURL = "https://taskweave.dev/schemas/workflow.json"

// workflowSchemaJSON describes the workflow document. Built-in step payloads
// are checked for shape only; extension steps accept anything.
const workflowSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://taskweave.dev/schemas/workflow.json",
  "type": "object",
  "required": ["entry_point", "tasks"],
  "properties": {
    "entry_point": { "type": "string", "minLength": 1 },
    "tasks": {
      "type": "object",
      "minProperties": 1,
      "additionalProperties": { "$ref": "#/$defs/task" }
    }
  },
  "additionalProperties": false,
  "$defs": {
    "scalar": { "type": ["string", "number", "boolean"] },
    "task": {
      "type": "object",
      "properties": {
        "steps": { "type": "array", "items": { "$ref": "#/$defs/step" } },
        "output": { "$ref": "#/$defs/scalar" }
      },
      "anyOf": [ { "required": ["steps"] }, { "required": ["output"] } ],
      "additionalProperties": false
    },
    "step": {
      "type": "object",
      "minProperties": 1,
      "maxProperties": 1,
      "properties": {
        "wait": { "type": ["number", "string"] },
        "length": { "$ref": "#/$defs/scalar" },
        "gt": {
          "type": "array",
          "minItems": 2,
          "maxItems": 2,
          "items": { "$ref": "#/$defs/scalar" }
        },
        "if": {
          "type": "object",
          "required": ["condition", "true", "false"],
          "properties": {
            "condition": { "$ref": "#/$defs/scalar" },
            "true": { "$ref": "#/$defs/scalar" },
            "false": { "$ref": "#/$defs/scalar" }
          },
          "additionalProperties": false
        }
      }
    }
  }
}`

// JSONSchemaValidator checks raw documents against JSON Schema Draft 2020-12.
// It is safe for concurrent use.
type JSONSchemaValidator struct {
	workflowSchema *jsonschema.Schema

	// mu guards the cache of dynamically compiled schemas.
	mu    sync.RWMutex
	cache map[string]*jsonschema.Schema
}

// NewJSONSchemaValidator creates a validator with the workflow schema pre-compiled.
func NewJSONSchemaValidator() (*JSONSchemaValidator, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	schemaDoc, err := jsonschema.UnmarshalJSON(strings.NewReader(workflowSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal workflow schema: %w", err)
	}
	if err := c.AddResource(workflowSchemaURL, schemaDoc); err != nil {
		return nil, fmt.Errorf("add workflow schema resource: %w", err)
	}
	wfSchema, err := c.Compile(workflowSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile workflow schema: %w", err)
	}

	return &JSONSchemaValidator{
		workflowSchema: wfSchema,
		cache:          make(map[string]*jsonschema.Schema),
	}, nil
}

// ValidateDocument checks a JSON workflow document.
func (v *JSONSchemaValidator) ValidateDocument(data []byte) error {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(data)))
	if err != nil {
		return schema.NewError(schema.ErrCodeInvalidWorkflowFormat, "malformed workflow document").WithCause(err)
	}
	if err := v.workflowSchema.Validate(doc); err != nil {
		return toWeaveError(err, schema.ErrCodeInvalidWorkflowFormat)
	}
	return nil
}

// ValidateAgainst validates value against a JSON Schema given as raw bytes.
// Compiled schemas are cached by content.
func (v *JSONSchemaValidator) ValidateAgainst(value any, schemaBytes []byte) error {
	if len(schemaBytes) == 0 {
		return nil
	}
	compiled, err := v.getOrCompile(schemaBytes)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "invalid schema").WithCause(err)
	}
	doc, err := toJSONValue(value)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize value").WithCause(err)
	}
	if err := compiled.Validate(doc); err != nil {
		return toWeaveError(err, schema.ErrCodeValidation)
	}
	return nil
}

func (v *JSONSchemaValidator) getOrCompile(schemaBytes []byte) (*jsonschema.Schema, error) {
	key := string(schemaBytes)

	v.mu.RLock()
	if cached, ok := v.cache[key]; ok {
		v.mu.RUnlock()
		return cached, nil
	}
	v.mu.RUnlock()

	v.mu.Lock()
	defer v.mu.Unlock()

	if cached, ok := v.cache[key]; ok {
		return cached, nil
	}

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(key))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}

	// Fresh compiler and URL per schema so resources never collide.
	url := fmt.Sprintf("taskweave://schema/%d", len(v.cache))
	c := jsonschema.NewCompiler()
	c.AssertFormat()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	v.cache[key] = compiled
	return compiled, nil
}

// toJSONValue round-trips v through JSON so numbers become json.Number.
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}

func toWeaveError(err error, code string) *schema.WeaveError {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return schema.NewError(code, err.Error())
	}

	violations := collectViolations(verr)
	switch len(violations) {
	case 0:
		return schema.NewError(code, verr.Error())
	case 1:
		return schema.NewError(code, violations[0]).
			WithDetails(map[string]any{"violations": violations})
	}
	return schema.NewErrorf(code, "document has %d schema violations", len(violations)).
		WithDetails(map[string]any{"violations": violations})
}

// collectViolations walks a ValidationError tree and returns the leaf
// messages prefixed with their instance location.
func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}

	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}
