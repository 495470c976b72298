package validation

import (
	"errors"

	"github.com/rendis/taskweave/pkg/schema"
)

// WorkflowValidator runs the validation pipeline:
// 1. Structural (JSON Schema, documents only)
// 2. Semantic (entry point, task references, ${0} placement, step kinds)
// 3. Graph (reference cycles, reachability)
type WorkflowValidator struct {
	jsonSchema *JSONSchemaValidator
	steps      StepLookup
}

// NewWorkflowValidator creates a WorkflowValidator.
// lookup may be nil to skip extension step checks.
func NewWorkflowValidator(lookup StepLookup) (*WorkflowValidator, error) {
	jsv, err := NewJSONSchemaValidator()
	if err != nil {
		return nil, err
	}
	return &WorkflowValidator{jsonSchema: jsv, steps: lookup}, nil
}

// Schema returns the underlying JSON Schema validator.
func (wv *WorkflowValidator) Schema() *JSONSchemaValidator { return wv.jsonSchema }

// Validate runs the semantic and graph stages on a decoded workflow.
// The graph stage is skipped when semantic errors make the graph unreliable.
func (wv *WorkflowValidator) Validate(wf *schema.Workflow) *schema.ValidationResult {
	if wf == nil {
		r := &schema.ValidationResult{}
		r.AddError("/", schema.ErrCodeInvalidWorkflowFormat, "workflow is nil")
		return r
	}

	result := validateSemantic(wf, wv.steps)
	if result.Valid() {
		result.Merge(validateGraph(wf))
	}
	return result
}

// ValidateDocument decodes a JSON or YAML document, checks it against the
// workflow schema, then validates the decoded workflow. Structural errors
// short-circuit and return a nil workflow.
func (wv *WorkflowValidator) ValidateDocument(data []byte) (*schema.Workflow, *schema.ValidationResult) {
	result := &schema.ValidationResult{}

	jsonData := data
	if !schema.LooksLikeJSON(data) {
		converted, err := schema.YAMLToJSON(data)
		if err != nil {
			result.AddError("/", schema.ErrCodeInvalidWorkflowFormat, "malformed YAML document: "+err.Error())
			return nil, result
		}
		jsonData = converted
	}

	if err := wv.jsonSchema.ValidateDocument(jsonData); err != nil {
		addStructural(result, err)
		return nil, result
	}

	wf, err := schema.ParseWorkflow(jsonData)
	if err != nil {
		addStructural(result, err)
		return nil, result
	}

	result.Merge(wv.Validate(wf))
	return wf, result
}

// addStructural flattens a structural error into result, one issue per
// schema violation.
func addStructural(result *schema.ValidationResult, err error) {
	var wErr *schema.WeaveError
	if !errors.As(err, &wErr) {
		result.AddError("/", schema.ErrCodeInvalidWorkflowFormat, err.Error())
		return
	}
	if violations, ok := wErr.Details["violations"].([]string); ok {
		for _, v := range violations {
			result.AddError("/", wErr.Code, v)
		}
		return
	}
	path := "/"
	if wErr.Task != "" {
		path = "tasks." + wErr.Task
	}
	result.AddError(path, wErr.Code, wErr.Message)
}

var _ Validator = (*WorkflowValidator)(nil)
