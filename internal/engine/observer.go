package engine

import (
	"context"
	"log/slog"

	"github.com/rendis/taskweave/pkg/schema"
)

// StepEvent reports one completed step.
type StepEvent struct {
	Task     string            `json:"task"`
	Index    int               `json:"step"`
	Kind     string            `json:"kind"`
	Unparsed any               `json:"unparsed,omitempty"`
	Output   schema.TaskOutput `json:"output"`
}

// TaskEvent reports one completed task. Unparsed holds the output template
// when the task declares one.
type TaskEvent struct {
	Task     string            `json:"task"`
	Unparsed any               `json:"unparsed,omitempty"`
	Output   schema.TaskOutput `json:"output"`
}

// Observer receives fire-and-forget notifications from the evaluator.
// Implementations must be safe for concurrent use: referenced tasks are
// evaluated on separate goroutines.
type Observer interface {
	StepCompleted(ctx context.Context, ev StepEvent)
	TaskCompleted(ctx context.Context, ev TaskEvent)
	WorkflowCompleted(ctx context.Context, wf *schema.Workflow, output schema.TaskOutput)
	Failed(ctx context.Context, err error)
}

// NopObserver ignores every notification.
type NopObserver struct{}

func (NopObserver) StepCompleted(context.Context, StepEvent)                               {}
func (NopObserver) TaskCompleted(context.Context, TaskEvent)                               {}
func (NopObserver) WorkflowCompleted(context.Context, *schema.Workflow, schema.TaskOutput) {}
func (NopObserver) Failed(context.Context, error)                                          {}

// MultiObserver fans notifications out to several observers in order.
type MultiObserver []Observer

func (m MultiObserver) StepCompleted(ctx context.Context, ev StepEvent) {
	for _, o := range m {
		o.StepCompleted(ctx, ev)
	}
}

func (m MultiObserver) TaskCompleted(ctx context.Context, ev TaskEvent) {
	for _, o := range m {
		o.TaskCompleted(ctx, ev)
	}
}

func (m MultiObserver) WorkflowCompleted(ctx context.Context, wf *schema.Workflow, output schema.TaskOutput) {
	for _, o := range m {
		o.WorkflowCompleted(ctx, wf, output)
	}
}

func (m MultiObserver) Failed(ctx context.Context, err error) {
	for _, o := range m {
		o.Failed(ctx, err)
	}
}

// safeObserver shields the evaluator from observer panics.
type safeObserver struct {
	inner  Observer
	logger *slog.Logger
}

func (s safeObserver) guard(ctx context.Context, what string) {
	if r := recover(); r != nil {
		s.logger.WarnContext(ctx, "observer panicked", "notification", what, "panic", r)
	}
}

func (s safeObserver) StepCompleted(ctx context.Context, ev StepEvent) {
	defer s.guard(ctx, "step_completed")
	s.inner.StepCompleted(ctx, ev)
}

func (s safeObserver) TaskCompleted(ctx context.Context, ev TaskEvent) {
	defer s.guard(ctx, "task_completed")
	s.inner.TaskCompleted(ctx, ev)
}

func (s safeObserver) WorkflowCompleted(ctx context.Context, wf *schema.Workflow, output schema.TaskOutput) {
	defer s.guard(ctx, "workflow_completed")
	s.inner.WorkflowCompleted(ctx, wf, output)
}

func (s safeObserver) Failed(ctx context.Context, err error) {
	defer s.guard(ctx, "failed")
	s.inner.Failed(ctx, err)
}
