package engine

import (
	"context"
	"errors"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rendis/taskweave/internal/expressions"
	"github.com/rendis/taskweave/pkg/schema"
)

// runStep resolves a step's fields and executes it. prev is nil before the
// first step.
func (e *Evaluator) runStep(ctx context.Context, step schema.Step, prev schema.TaskOutput, wf *schema.Workflow, inputs expressions.InputContext) (schema.TaskOutput, error) {
	if prev == nil && expressions.ContainsPreviousOutput(step.Payload()) {
		return nil, orphanError()
	}

	switch s := step.(type) {
	case schema.WaitStep:
		return e.runWait(ctx, s, prev, wf, inputs)
	case schema.LengthStep:
		return e.runLength(ctx, s, prev, wf, inputs)
	case schema.GtStep:
		return e.runGt(ctx, s, prev, wf, inputs)
	case schema.IfStep:
		return e.runIf(ctx, s, prev, wf, inputs)
	case schema.OtherStep:
		return e.runOther(ctx, s, prev, wf, inputs)
	}
	return nil, schema.NewErrorf(schema.ErrCodeUnsupportedStepKind, "unsupported step kind %q", step.Kind())
}

func (e *Evaluator) runWait(ctx context.Context, s schema.WaitStep, prev schema.TaskOutput, wf *schema.Workflow, inputs expressions.InputContext) (schema.TaskOutput, error) {
	v, err := e.resolveField(ctx, s.Wait, prev, wf, inputs)
	if err != nil {
		return nil, err
	}
	secs, ok := toNumber(v)
	if !ok || secs > maxWaitSeconds {
		return nil, invalidInput("wait expects a number of seconds, got %s", describe(v))
	}
	if err := sleep(ctx, secs); err != nil {
		return nil, err
	}
	if prev == nil {
		return "", nil
	}
	return prev, nil
}

func (e *Evaluator) runLength(ctx context.Context, s schema.LengthStep, prev schema.TaskOutput, wf *schema.Workflow, inputs expressions.InputContext) (schema.TaskOutput, error) {
	v, err := e.resolveField(ctx, s.Length, prev, wf, inputs)
	if err != nil {
		return nil, err
	}
	str, ok := v.(string)
	if !ok {
		return nil, invalidInput("length expects a string, got %s", describe(v))
	}
	return float64(utf8.RuneCountInString(str)), nil
}

func (e *Evaluator) runGt(ctx context.Context, s schema.GtStep, prev schema.TaskOutput, wf *schema.Workflow, inputs expressions.InputContext) (schema.TaskOutput, error) {
	v, err := e.resolveField(ctx, []any{s.Left, s.Right}, prev, wf, inputs)
	if err != nil {
		return nil, err
	}
	pair := v.([]any)
	a, okA := toNumber(pair[0])
	b, okB := toNumber(pair[1])
	if !okA || !okB {
		return nil, invalidInput("gt expects two numbers, got %s and %s", describe(pair[0]), describe(pair[1]))
	}
	return a > b, nil
}

func (e *Evaluator) runIf(ctx context.Context, s schema.IfStep, prev schema.TaskOutput, wf *schema.Workflow, inputs expressions.InputContext) (schema.TaskOutput, error) {
	v, err := e.resolveField(ctx, s.Condition, prev, wf, inputs)
	if err != nil {
		return nil, err
	}
	cond, ok := v.(bool)
	if !ok {
		return nil, invalidInput("if condition must be a boolean, got %s", describe(v))
	}

	branch := s.False
	if cond {
		branch = s.True
	}
	out, err := e.resolveField(ctx, branch, prev, wf, inputs)
	if err != nil {
		return nil, err
	}
	return toOutput("if", out)
}

func (e *Evaluator) runOther(ctx context.Context, s schema.OtherStep, prev schema.TaskOutput, wf *schema.Workflow, inputs expressions.InputContext) (schema.TaskOutput, error) {
	if e.resolver == nil {
		return nil, schema.NewErrorf(schema.ErrCodeUnsupportedStepKind,
			"unsupported step kind %q", s.Tag).
			WithDetails(map[string]any{"kind": s.Tag})
	}

	payload, err := e.resolveField(ctx, s.Raw, prev, wf, inputs)
	if err != nil {
		return nil, err
	}

	exec, err := e.resolver.Resolve(ctx, s.Tag, payload)
	if err != nil {
		if schema.CodeOf(err) == schema.ErrCodeUnsupportedStepKind {
			return nil, err
		}
		if ctxErr := contextError(err); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, schema.NewErrorf(schema.ErrCodeUnsupportedStepKind,
			"no executor for step kind %q: %s", s.Tag, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"kind": s.Tag})
	}

	out, err := exec.Execute(ctx, payload)
	if err != nil {
		var wErr *schema.WeaveError
		if errors.As(err, &wErr) {
			return nil, err
		}
		if ctxErr := contextError(err); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, schema.NewErrorf(schema.ErrCodeExecution,
			"step %q failed: %s", s.Tag, err.Error()).WithCause(err)
	}
	return toOutput(s.Tag, out)
}

// toOutput checks that a step produced a string, number or boolean.
func toOutput(kind string, v any) (schema.TaskOutput, error) {
	out, ok := schema.NormalizeOutput(v)
	if !ok {
		return nil, invalidInput("step %q must produce a string, number or boolean, got %s", kind, describe(v))
	}
	return out, nil
}

// toNumber accepts numbers and strings holding a decimal number.
func toNumber(v any) (float64, bool) {
	if n, ok := schema.NormalizeOutput(v); ok {
		if f, isNum := n.(float64); isNum {
			return f, !math.IsNaN(f)
		}
	}
	s, ok := v.(string)
	if !ok {
		return 0, false
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) {
		return 0, false
	}
	return f, true
}

// maxWaitSeconds keeps the duration conversion from overflowing.
const maxWaitSeconds = float64(math.MaxInt64 / int64(time.Second))

// sleep suspends for secs seconds or until ctx is done.
func sleep(ctx context.Context, secs float64) error {
	d := time.Duration(secs * float64(time.Second))
	if d <= 0 {
		if err := ctx.Err(); err != nil {
			return contextError(err)
		}
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return contextError(ctx.Err())
	}
}

func invalidInput(format string, args ...any) error {
	return schema.NewErrorf(schema.ErrCodeInvalidStepInput, format, args...)
}

func describe(v any) string {
	switch val := v.(type) {
	case nil:
		return "nothing"
	case string:
		return strconv.Quote(val)
	case bool, float64:
		return schema.Stringify(val)
	case []any:
		return "an array"
	case map[string]any:
		return "an object"
	}
	return schema.Stringify(v)
}
