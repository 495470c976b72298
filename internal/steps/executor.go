package steps

import (
	"context"
	"time"

	"github.com/rendis/taskweave/pkg/schema"
)

// Executor runs one extension step kind. The payload it receives has
// already been resolved: task references, inputs and ${0} are substituted.
type Executor interface {
	Kind() string
	Execute(ctx context.Context, payload any) (schema.TaskOutput, error)
}

// ExecutorInfo is a summary of a registered executor for listing.
type ExecutorInfo struct {
	Kind        string `json:"kind"`
	Origin      string `json:"origin"`
	Description string `json:"description,omitempty"`
}

// Executor origins.
const (
	OriginBuiltin     = "builtin"
	OriginUser        = "user"
	OriginSynthesized = "synthesized"
)

// Definition is the persisted form of an expression-backed executor.
type Definition struct {
	Kind           string    `json:"kind" yaml:"kind" jsonschema:"required,pattern=^[A-Za-z0-9_]+$,description=Step tag the executor handles"`
	Engine         string    `json:"engine" yaml:"engine" jsonschema:"required,enum=expr,enum=cel,enum=jq,enum=go"`
	Source         string    `json:"source" yaml:"source" jsonschema:"required,description=Expression or Go source evaluated against the step bindings"`
	Description    string    `json:"description,omitempty" yaml:"description,omitempty"`
	TypeDefinition string    `json:"type_definition,omitempty" yaml:"type_definition,omitempty" jsonschema:"description=Shape of the payload the executor was written for"`
	Example        any       `json:"example,omitempty" yaml:"example,omitempty" jsonschema:"description=Sample step payload"`
	Origin         string    `json:"origin,omitempty" yaml:"origin,omitempty" jsonschema:"enum=user,enum=synthesized"`
	CreatedAt      time.Time `json:"created_at,omitzero" yaml:"created_at,omitempty"`
}

// funcExecutor adapts a plain function to Executor.
type funcExecutor struct {
	kind string
	desc string
	fn   func(ctx context.Context, payload any) (any, error)
}

// NewFunc wraps fn as an Executor for kind. The returned value is
// normalized to a TaskOutput.
func NewFunc(kind, description string, fn func(ctx context.Context, payload any) (any, error)) Executor {
	return &funcExecutor{kind: kind, desc: description, fn: fn}
}

func (f *funcExecutor) Kind() string        { return f.kind }
func (f *funcExecutor) Description() string { return f.desc }
func (f *funcExecutor) Origin() string      { return OriginBuiltin }

func (f *funcExecutor) Execute(ctx context.Context, payload any) (schema.TaskOutput, error) {
	out, err := f.fn(ctx, payload)
	if err != nil {
		return nil, err
	}
	return normalize(f.kind, out)
}

// normalize converts an executor result to a TaskOutput.
func normalize(kind string, v any) (schema.TaskOutput, error) {
	if v == nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "executor %q returned no value", kind)
	}
	out, ok := schema.NormalizeOutput(v)
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeExecution,
			"executor %q must return a string, number or boolean, got %T", kind, v)
	}
	return out, nil
}

// describer is implemented by executors that carry a description.
type describer interface {
	Description() string
}

// originer is implemented by executors that know where they came from.
type originer interface {
	Origin() string
}
