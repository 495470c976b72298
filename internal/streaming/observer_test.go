package streaming

import (
	"context"
	"testing"
	"time"

	"github.com/rendis/taskweave/internal/engine"
	"github.com/rendis/taskweave/internal/expressions"
	"github.com/rendis/taskweave/internal/logging"
	"github.com/rendis/taskweave/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(ch <-chan Event) []Event {
	var out []Event
	for {
		select {
		case ev := <-ch:
			out = append(out, ev)
		case <-time.After(50 * time.Millisecond):
			return out
		}
	}
}

func TestHubObserver_PublishesEvaluation(t *testing.T) {
	hub := NewMemoryHub()
	ctx := logging.WithExecution(context.Background(), "exec-1", "greeting")

	ch, cancel, err := hub.Subscribe(ctx, EventFilter{ExecutionID: "exec-1"})
	require.NoError(t, err)
	defer cancel()

	wf, err := schema.ParseWorkflow([]byte(`{
		"entry_point": "main",
		"tasks": {
			"name": {"steps": [{"length": "Alan"}]},
			"main": {"output": "Hello ${name}"}
		}
	}`))
	require.NoError(t, err)

	ev := engine.NewEvaluator(expressions.StaticInputs{}, engine.Config{Observer: NewHubObserver(hub, nil)})
	out, err := ev.EvaluateWorkflow(ctx, wf)
	require.NoError(t, err)
	assert.Equal(t, "Hello 4", out)

	events := drain(ch)
	require.Len(t, events, 4)

	step := events[0]
	assert.Equal(t, schema.EventStepCompleted, step.Type)
	assert.Equal(t, "name", step.Task)
	require.NotNil(t, step.Step)
	assert.Equal(t, 0, *step.Step)
	assert.Equal(t, map[string]any{"command": "length", "unparsed": "Alan", "result": "4"}, step.Payload)
	assert.Equal(t, "greeting", step.Workflow)
	assert.NotEmpty(t, step.ID)

	assert.Equal(t, schema.EventTaskCompleted, events[1].Type)
	assert.Equal(t, "name", events[1].Task)

	assert.Equal(t, schema.EventTaskCompleted, events[2].Type)
	assert.Equal(t, "main", events[2].Task)
	assert.Equal(t, map[string]any{"unparsed": "Hello ${name}", "result": "Hello 4"}, events[2].Payload)

	assert.Equal(t, schema.EventWorkflowCompleted, events[3].Type)
	assert.Equal(t, map[string]any{"entry_point": "main", "result": "Hello 4"}, events[3].Payload)
}

func TestHubObserver_Failed(t *testing.T) {
	hub := NewMemoryHub()
	ctx, cancelCtx := context.WithCancel(context.Background())

	ch, cancel, err := hub.Subscribe(context.Background(), EventFilter{EventTypes: []string{schema.EventWorkflowFailed}})
	require.NoError(t, err)
	defer cancel()

	cancelCtx()
	obs := NewHubObserver(hub, nil)
	obs.Failed(ctx, schema.NewError(schema.ErrCodeMissingTaskReference, "missing").WithTask("main").WithStep(1))

	events := drain(ch)
	require.Len(t, events, 1)
	assert.Contains(t, events[0].Message, "missing")
	assert.Equal(t, map[string]any{
		"code": schema.ErrCodeMissingTaskReference,
		"task": "main",
		"step": 1,
	}, events[0].Payload)
}

func TestMessage(t *testing.T) {
	hub := NewMemoryHub()
	ch, cancel, err := hub.Subscribe(context.Background(), EventFilter{})
	require.NoError(t, err)
	defer cancel()

	Message(context.Background(), hub, "'add' step unrecognized")
	Message(context.Background(), nil, "ignored")

	events := drain(ch)
	require.Len(t, events, 1)
	assert.Equal(t, schema.EventMessage, events[0].Type)
	assert.Equal(t, "'add' step unrecognized", events[0].Message)
}
