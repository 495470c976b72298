package validation

import "github.com/rendis/taskweave/pkg/schema"

// Validator checks workflow documents before they are stored or executed.
type Validator interface {
	Validate(wf *schema.Workflow) *schema.ValidationResult
	ValidateDocument(data []byte) (*schema.Workflow, *schema.ValidationResult)
}

// StepLookup reports whether an extension step kind has an executor.
// Satisfied by *steps.Registry.
type StepLookup interface {
	Has(kind string) bool
}
