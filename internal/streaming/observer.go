package streaming

import (
	"context"
	"errors"
	"log/slog"

	"github.com/rendis/taskweave/internal/engine"
	"github.com/rendis/taskweave/pkg/schema"
)

// HubObserver publishes evaluator notifications as debug events.
type HubObserver struct {
	hub    EventHub
	logger *slog.Logger
}

// NewHubObserver creates an observer publishing to hub.
func NewHubObserver(hub EventHub, logger *slog.Logger) *HubObserver {
	if logger == nil {
		logger = slog.Default()
	}
	return &HubObserver{hub: hub, logger: logger}
}

func (o *HubObserver) publish(ctx context.Context, ev Event) {
	// Failures are reported on contexts that may already be cancelled.
	if err := o.hub.Publish(context.WithoutCancel(ctx), ev); err != nil {
		o.logger.WarnContext(ctx, "debug event dropped", "type", ev.Type, "error", err)
	}
}

func (o *HubObserver) StepCompleted(ctx context.Context, se engine.StepEvent) {
	ev := NewEvent(ctx, schema.EventStepCompleted)
	ev.Task = se.Task
	idx := se.Index
	ev.Step = &idx
	ev.Payload = map[string]any{
		"command":  se.Kind,
		"unparsed": se.Unparsed,
		"result":   schema.Stringify(se.Output),
	}
	o.publish(ctx, ev)
}

func (o *HubObserver) TaskCompleted(ctx context.Context, te engine.TaskEvent) {
	ev := NewEvent(ctx, schema.EventTaskCompleted)
	ev.Task = te.Task
	ev.Step = nil
	payload := map[string]any{"result": schema.Stringify(te.Output)}
	if te.Unparsed != nil {
		payload["unparsed"] = te.Unparsed
	}
	ev.Payload = payload
	o.publish(ctx, ev)
}

func (o *HubObserver) WorkflowCompleted(ctx context.Context, wf *schema.Workflow, output schema.TaskOutput) {
	ev := NewEvent(ctx, schema.EventWorkflowCompleted)
	ev.Task, ev.Step = "", nil
	ev.Payload = map[string]any{
		"entry_point": wf.EntryPoint,
		"result":      schema.Stringify(output),
	}
	o.publish(ctx, ev)
}

func (o *HubObserver) Failed(ctx context.Context, err error) {
	ev := NewEvent(ctx, schema.EventWorkflowFailed)
	ev.Task, ev.Step = "", nil
	ev.Message = err.Error()
	payload := map[string]any{"code": schema.CodeOf(err)}
	var wErr *schema.WeaveError
	if errors.As(err, &wErr) {
		if wErr.Task != "" {
			payload["task"] = wErr.Task
		}
		if wErr.Step != nil {
			payload["step"] = *wErr.Step
		}
		if wErr.Details != nil {
			payload["details"] = wErr.Details
		}
	}
	ev.Payload = payload
	o.publish(ctx, ev)
}

// Message publishes a plain text debug event.
func Message(ctx context.Context, hub EventHub, text string) {
	if hub == nil {
		return
	}
	ev := NewEvent(ctx, schema.EventMessage)
	ev.Message = text
	_ = hub.Publish(context.WithoutCancel(ctx), ev)
}

var _ engine.Observer = (*HubObserver)(nil)
