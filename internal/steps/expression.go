package steps

import (
	"context"

	"github.com/rendis/taskweave/internal/expressions"
	"github.com/rendis/taskweave/pkg/schema"
)

// ExpressionExecutor runs a Definition's source on one of the expression
// engines. The resolved payload is bound as "step"; array payloads are
// also bound as "args".
type ExpressionExecutor struct {
	def    Definition
	engine expressions.Engine
}

// NewExpressionExecutor validates def and compiles its source.
func NewExpressionExecutor(def Definition, engines *expressions.Engines) (*ExpressionExecutor, error) {
	if err := ValidateDefinition(def); err != nil {
		return nil, err
	}
	eng, err := engines.Get(def.Engine)
	if err != nil {
		return nil, err
	}
	if err := compile(eng, def.Source); err != nil {
		return nil, err
	}
	return &ExpressionExecutor{def: def, engine: eng}, nil
}

// ValidateDefinition checks the fields of def without compiling it.
func ValidateDefinition(def Definition) error {
	if !expressions.IsValidName(def.Kind) {
		return schema.NewErrorf(schema.ErrCodeValidation, "invalid step kind %q", def.Kind)
	}
	if schema.IsBuiltinStep(def.Kind) {
		return schema.NewErrorf(schema.ErrCodeConflict, "step kind %q is built in", def.Kind)
	}
	if def.Engine == "" {
		return schema.NewErrorf(schema.ErrCodeValidation, "executor %q has no engine", def.Kind)
	}
	if def.Source == "" {
		return schema.NewErrorf(schema.ErrCodeValidation, "executor %q has no source", def.Kind)
	}
	return nil
}

func compile(eng expressions.Engine, source string) error {
	switch e := eng.(type) {
	case *expressions.ExprEngine:
		return e.Compile(source, nil)
	case *expressions.CELEngine:
		return e.Compile(source)
	case *expressions.GoJQEngine:
		return e.Compile(source)
	case *expressions.GoEngine:
		return e.Compile(source)
	}
	return nil
}

// Kind returns the step kind.
func (x *ExpressionExecutor) Kind() string { return x.def.Kind }

// Description returns the definition's description.
func (x *ExpressionExecutor) Description() string { return x.def.Description }

// Origin returns the definition's origin, defaulting to user.
func (x *ExpressionExecutor) Origin() string {
	if x.def.Origin == "" {
		return OriginUser
	}
	return x.def.Origin
}

// Definition returns the definition the executor was built from.
func (x *ExpressionExecutor) Definition() Definition { return x.def }

// Execute evaluates the source against the payload.
func (x *ExpressionExecutor) Execute(ctx context.Context, payload any) (schema.TaskOutput, error) {
	out, err := x.engine.Evaluate(ctx, x.def.Source, Bindings(payload))
	if err != nil {
		return nil, err
	}
	return normalize(x.def.Kind, out)
}

// Bindings returns the data map an expression sees for payload.
func Bindings(payload any) map[string]any {
	data := map[string]any{"step": payload}
	if arr, ok := payload.([]any); ok {
		data["args"] = arr
	}
	return data
}
