package engine

import (
	"context"
	"errors"
	"log/slog"

	"github.com/rendis/taskweave/internal/expressions"
	"github.com/rendis/taskweave/internal/logging"
	"github.com/rendis/taskweave/pkg/schema"
)

// StepExecutor runs one step of a kind the evaluator has no built-in
// handler for. The payload has already been resolved.
type StepExecutor interface {
	Execute(ctx context.Context, payload any) (schema.TaskOutput, error)
}

// StepResolver supplies executors for unknown step kinds. sample is the
// resolved payload of the step being run.
type StepResolver interface {
	Resolve(ctx context.Context, kind string, sample any) (StepExecutor, error)
}

// Config holds the evaluator's optional collaborators.
type Config struct {
	Observer     Observer
	StepResolver StepResolver
	Logger       *slog.Logger

	// DisableCycleCheck turns off reference cycle detection; a cyclic
	// workflow then recurses until its context is cancelled.
	DisableCycleCheck bool
}

// Evaluator evaluates workflows against an input context. It holds no
// per-run state and is safe for concurrent use.
type Evaluator struct {
	inputs     expressions.InputContext
	observer   Observer
	resolver   StepResolver
	logger     *slog.Logger
	cycleCheck bool
}

// NewEvaluator creates an Evaluator reading @{key} references from inputs.
func NewEvaluator(inputs expressions.InputContext, cfg Config) *Evaluator {
	if inputs == nil {
		inputs = expressions.StaticInputs{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	var observer Observer = NopObserver{}
	if cfg.Observer != nil {
		observer = safeObserver{inner: cfg.Observer, logger: logger}
	}
	return &Evaluator{
		inputs:     inputs,
		observer:   observer,
		resolver:   cfg.StepResolver,
		logger:     logger,
		cycleCheck: !cfg.DisableCycleCheck,
	}
}

// EvaluateWorkflow evaluates the workflow's entry point task.
func (e *Evaluator) EvaluateWorkflow(ctx context.Context, wf *schema.Workflow) (schema.TaskOutput, error) {
	if err := checkEntryPoint(wf); err != nil {
		e.observer.Failed(ctx, err)
		return nil, err
	}

	out, err := e.evaluateTask(ctx, wf.EntryPoint, wf, e.inputs)
	if err != nil {
		e.logger.DebugContext(ctx, "workflow failed", "entry_point", wf.EntryPoint, "error", err)
		e.observer.Failed(ctx, err)
		return nil, err
	}

	e.logger.DebugContext(ctx, "workflow completed", "entry_point", wf.EntryPoint)
	e.observer.WorkflowCompleted(ctx, wf, out)
	return out, nil
}

// EvaluateTask evaluates the named task of wf, resolving @{key} references
// against inputs.
func (e *Evaluator) EvaluateTask(ctx context.Context, name string, wf *schema.Workflow, inputs expressions.InputContext) (schema.TaskOutput, error) {
	if wf == nil {
		err := schema.NewError(schema.ErrCodeInvalidWorkflowFormat, "workflow is nil")
		e.observer.Failed(ctx, err)
		return nil, err
	}
	if inputs == nil {
		inputs = e.inputs
	}
	out, err := e.evaluateTask(ctx, name, wf, inputs)
	if err != nil {
		e.observer.Failed(ctx, err)
		return nil, err
	}
	return out, nil
}

func checkEntryPoint(wf *schema.Workflow) error {
	if wf == nil {
		return schema.NewError(schema.ErrCodeInvalidWorkflowFormat, "workflow is nil")
	}
	if wf.EntryPoint == "" {
		return schema.NewError(schema.ErrCodeInvalidWorkflowFormat, "workflow has no entry_point")
	}
	if _, ok := wf.Tasks[wf.EntryPoint]; !ok {
		return schema.NewErrorf(schema.ErrCodeInvalidWorkflowFormat,
			"entry_point %q is not a task", wf.EntryPoint).
			WithDetails(map[string]any{"tasks": wf.TaskNames()})
	}
	return nil
}

// evaluateTask runs the task's steps in order and resolves its output.
// Every call starts from scratch; nothing is cached between references.
func (e *Evaluator) evaluateTask(ctx context.Context, name string, wf *schema.Workflow, inputs expressions.InputContext) (schema.TaskOutput, error) {
	task, ok := wf.Tasks[name]
	if !ok || task == nil {
		return nil, schema.NewErrorf(schema.ErrCodeTaskNotFound, "task %q not found", name)
	}

	if e.cycleCheck {
		var err error
		if ctx, err = enterTask(ctx, name); err != nil {
			return nil, err
		}
	}
	ctx = logging.WithTask(ctx, name)

	var prev schema.TaskOutput
	for i, step := range task.Steps {
		stepCtx := logging.WithStep(ctx, i)
		out, err := e.runStep(stepCtx, step, prev, wf, inputs)
		if err != nil {
			return nil, locate(err, name, i)
		}
		e.logger.DebugContext(stepCtx, "step completed", "kind", step.Kind())
		e.observer.StepCompleted(stepCtx, StepEvent{
			Task:     name,
			Index:    i,
			Kind:     step.Kind(),
			Unparsed: step.Payload(),
			Output:   out,
		})
		prev = out
	}

	if task.HasOutput() {
		out, err := e.resolveOutput(ctx, task.Output, wf, inputs)
		if err != nil {
			return nil, locate(err, name, schema.OutputStepIndex)
		}
		e.observer.TaskCompleted(ctx, TaskEvent{Task: name, Unparsed: task.Output, Output: out})
		return out, nil
	}

	if len(task.Steps) == 0 {
		return nil, schema.NewErrorf(schema.ErrCodeOutputMissing,
			"task %q has neither steps nor output", name).WithTask(name)
	}
	e.observer.TaskCompleted(ctx, TaskEvent{Task: name, Output: prev})
	return prev, nil
}

// locate stamps the task and step on the innermost failure. Errors that
// already name a task came from a referenced task and keep their location.
func locate(err error, task string, step int) error {
	var wErr *schema.WeaveError
	if !errors.As(err, &wErr) {
		if ctxErr := contextError(err); ctxErr != nil {
			wErr = ctxErr
			err = ctxErr
		} else {
			wErr = schema.NewError(schema.ErrCodeExecution, err.Error()).WithCause(err)
			err = wErr
		}
	}
	if wErr.Task == "" {
		wErr.WithTask(task)
		if step != schema.OutputStepIndex {
			wErr.WithStep(step)
		}
	}
	return err
}

func contextError(err error) *schema.WeaveError {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return schema.NewError(schema.ErrCodeCancelled, "evaluation cancelled").WithCause(err)
	}
	return nil
}
