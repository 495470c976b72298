package steps

import (
	"context"
	"strings"

	"github.com/rendis/taskweave/pkg/schema"
	"github.com/spf13/cast"
)

// KindAdd sums two numeric operands.
const KindAdd = "add"

// NewAdd returns the add executor: {"add": ["1", "2"]} produces 3. Operands
// may be numbers or numeric strings.
func NewAdd() Executor {
	return NewFunc(KindAdd, "Sums two numeric operands", func(_ context.Context, payload any) (any, error) {
		args, ok := payload.([]any)
		if !ok || len(args) != 2 {
			return nil, schema.NewError(schema.ErrCodeInvalidStepInput, "add takes an array of two operands")
		}
		var sum float64
		for i, a := range args {
			f, err := toFloat(a)
			if err != nil {
				return nil, schema.NewErrorf(schema.ErrCodeInvalidStepInput,
					"add operand %d is not a number: %v", i, a).WithCause(err)
			}
			sum += f
		}
		return sum, nil
	})
}

func toFloat(v any) (float64, error) {
	switch val := v.(type) {
	case bool, nil:
		return 0, schema.NewErrorf(schema.ErrCodeInvalidStepInput, "%v is not numeric", val)
	case string:
		return cast.ToFloat64E(strings.TrimSpace(val))
	}
	return cast.ToFloat64E(v)
}

// RegisterBuiltins adds the built-in extension executors to r.
func RegisterBuiltins(r *Registry) error {
	for _, exec := range []Executor{NewAdd()} {
		if err := r.Register(exec); err != nil {
			return err
		}
	}
	return nil
}
