package engine

import (
	"context"

	"github.com/rendis/taskweave/internal/expressions"
	"github.com/rendis/taskweave/pkg/schema"
	"golang.org/x/sync/errgroup"
)

// resolveTaskRefs evaluates every ${name} occurrence in s concurrently and
// substitutes the results by position. Duplicate references are evaluated
// once per occurrence.
func (e *Evaluator) resolveTaskRefs(ctx context.Context, s string, wf *schema.Workflow, inputs expressions.InputContext) (string, error) {
	refs := expressions.TaskRefs(s)
	if len(refs) == 0 {
		return s, nil
	}
	for _, r := range refs {
		if _, ok := wf.Tasks[r.Name]; !ok {
			return "", schema.NewErrorf(schema.ErrCodeMissingTaskReference,
				"reference ${%s} does not name a task", r.Name).
				WithDetails(map[string]any{"reference": r.Name})
		}
	}

	values := make([]string, len(refs))
	g, gctx := errgroup.WithContext(ctx)
	for i, r := range refs {
		g.Go(func() error {
			out, err := e.evaluateTask(gctx, r.Name, wf, inputs)
			if err != nil {
				return err
			}
			values[i] = schema.Stringify(out)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}
	return expressions.Substitute(s, refs, values), nil
}

// resolveOutput resolves a task's output template: task references first,
// then input references. ${0} is not meaningful here and stays literal.
func (e *Evaluator) resolveOutput(ctx context.Context, output schema.TaskOutput, wf *schema.Workflow, inputs expressions.InputContext) (schema.TaskOutput, error) {
	s, ok := output.(string)
	if !ok {
		return output, nil
	}
	resolved, err := e.resolveTaskRefs(ctx, s, wf, inputs)
	if err != nil {
		return nil, err
	}
	return expressions.ResolveInputs(resolved, inputs), nil
}

// resolveField resolves a step field. Strings go through input references,
// then task references, then ${0}; arrays and objects are resolved element
// by element, concurrently; other values pass through.
func (e *Evaluator) resolveField(ctx context.Context, v any, prev schema.TaskOutput, wf *schema.Workflow, inputs expressions.InputContext) (any, error) {
	switch val := v.(type) {
	case string:
		s := expressions.ResolveInputs(val, inputs)
		s, err := e.resolveTaskRefs(ctx, s, wf, inputs)
		if err != nil {
			return nil, err
		}
		return resolvePreviousOutput(s, prev)

	case []any:
		out := make([]any, len(val))
		g, gctx := errgroup.WithContext(ctx)
		for i, item := range val {
			g.Go(func() error {
				r, err := e.resolveField(gctx, item, prev, wf, inputs)
				out[i] = r
				return err
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		return out, nil

	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		resolved := make([]any, len(keys))
		g, gctx := errgroup.WithContext(ctx)
		for i, k := range keys {
			g.Go(func() error {
				r, err := e.resolveField(gctx, val[k], prev, wf, inputs)
				resolved[i] = r
				return err
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		out := make(map[string]any, len(keys))
		for i, k := range keys {
			out[k] = resolved[i]
		}
		return out, nil
	}
	return v, nil
}

// resolvePreviousOutput substitutes ${0} in s. A string previous output is
// spliced in textually; a number or boolean can only stand for the whole
// field, in which case it is returned with its type intact.
func resolvePreviousOutput(s string, prev schema.TaskOutput) (any, error) {
	if !expressions.HasPreviousOutput(s) {
		return s, nil
	}
	if prev == nil {
		return nil, orphanError()
	}
	if str, ok := prev.(string); ok {
		return expressions.ReplacePreviousOutput(s, str), nil
	}
	if s == expressions.PreviousOutputToken {
		return prev, nil
	}
	return nil, schema.NewErrorf(schema.ErrCodeInvalidStepInput,
		"previous output %s (%T) can only be used as a whole field, not inside %q",
		schema.Stringify(prev), prev, s)
}

func orphanError() error {
	return schema.NewError(schema.ErrCodeOrphanPreviousOutput,
		"${0} used with no previous step")
}
