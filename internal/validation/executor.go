package validation

import (
	"github.com/rendis/taskweave/internal/steps"
	"github.com/rendis/taskweave/pkg/schema"
)

// ValidateExecutor checks an executor definition against the schema
// reflected from steps.Definition before it is compiled.
func (wv *WorkflowValidator) ValidateExecutor(def *steps.Definition) error {
	if def == nil {
		return schema.NewError(schema.ErrCodeValidation, "executor definition is nil")
	}
	raw, err := steps.DefinitionSchema()
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "executor schema unavailable").WithCause(err)
	}
	return wv.jsonSchema.ValidateAgainst(def, raw)
}
