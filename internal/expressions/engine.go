package expressions

import (
	"context"
	"sort"

	"github.com/rendis/taskweave/pkg/schema"
)

// Engine evaluates the source of an expression-backed step executor.
// The data map carries the resolved step payload under "step" and, when the
// payload is an array, the same elements under "args".
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}

// Engine names accepted by Engines.Get.
const (
	EngineExpr = "expr"
	EngineCEL  = "cel"
	EngineJQ   = "jq"
)

// Engines holds one instance of each engine, shared so their compiled
// program caches are reused.
type Engines struct {
	byName map[string]Engine
}

// NewEngines creates every engine.
func NewEngines() (*Engines, error) {
	celEngine, err := NewCELEngine()
	if err != nil {
		return nil, err
	}
	return &Engines{byName: map[string]Engine{
		EngineExpr: NewExprEngine(),
		EngineCEL:  celEngine,
		EngineJQ:   NewGoJQEngine(),
		EngineGo:   NewGoEngine(),
	}}, nil
}

// Get returns the engine registered under name.
func (e *Engines) Get(name string) (Engine, error) {
	eng, ok := e.byName[name]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "unknown expression engine %q", name).
			WithDetails(map[string]any{"available": e.Names()})
	}
	return eng, nil
}

// Names returns the registered engine names, sorted.
func (e *Engines) Names() []string {
	names := make([]string, 0, len(e.byName))
	for n := range e.byName {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
