package diagram

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/taskweave/internal/streaming"
	"github.com/rendis/taskweave/pkg/schema"
)

// wordCount: entry "report" depends on "count", which depends on "words".
func wordCount() *schema.Workflow {
	return &schema.Workflow{
		EntryPoint: "report",
		Tasks: map[string]*schema.Task{
			"words": {Output: "hello world"},
			"count": {Steps: []schema.Step{
				schema.LengthStep{Length: "${words}"},
				schema.GtStep{Left: "${0}", Right: 5},
				schema.IfStep{Condition: "${0}", True: "long", False: "short"},
			}},
			"report": {Output: "${words} is ${count}"},
		},
	}
}

func intp(i int) *int { return &i }

func findEdge(edges []Edge, from, to string) *Edge {
	for i := range edges {
		if edges[i].From == from && edges[i].To == to {
			return &edges[i]
		}
	}
	return nil
}

func TestBuild_Levels(t *testing.T) {
	model, err := Build(wordCount(), "Word count", nil)
	require.NoError(t, err)

	assert.Equal(t, "Word count", model.Title)
	assert.Equal(t, [][]string{
		{startID},
		{"words"},
		{"count"},
		{"report"},
		{endID},
	}, model.Levels)
	require.Len(t, model.Nodes, 5)
	assert.Equal(t, NodeKindStart, model.Nodes[0].Kind)
	assert.Equal(t, NodeKindEnd, model.Nodes[4].Kind)
}

func TestBuild_Edges(t *testing.T) {
	model, err := Build(wordCount(), "", nil)
	require.NoError(t, err)

	assert.Equal(t, "Workflow", model.Title)
	assert.NotNil(t, findEdge(model.Edges, startID, "words"))
	assert.Nil(t, findEdge(model.Edges, startID, "count"))

	e := findEdge(model.Edges, "words", "count")
	require.NotNil(t, e)
	assert.Equal(t, "${words}", e.Label)
	assert.NotNil(t, findEdge(model.Edges, "words", "report"))
	assert.NotNil(t, findEdge(model.Edges, "count", "report"))
	assert.NotNil(t, findEdge(model.Edges, "report", endID))
}

func TestBuild_TaskNodes(t *testing.T) {
	model, err := Build(wordCount(), "", nil)
	require.NoError(t, err)

	var count, report *Node
	for _, n := range model.Nodes {
		switch n.ID {
		case "count":
			count = n
		case "report":
			report = n
		}
	}
	require.NotNil(t, count)
	require.NotNil(t, report)

	assert.True(t, report.Entry)
	assert.False(t, count.Entry)
	assert.Equal(t, NodeKindOutput, report.Kind)
	assert.Equal(t, "report\n= ${words} is ${count}", report.Label)

	assert.Equal(t, NodeKindTask, count.Kind)
	require.Len(t, count.Children, 1)
	sg := count.Children[0]
	require.Len(t, sg.Nodes, 3)
	assert.Equal(t, "count.step0", sg.Nodes[0].ID)
	assert.Equal(t, "0: length", sg.Nodes[0].Label)
	assert.Equal(t, NodeKindLength, sg.Nodes[0].Kind)
	assert.Equal(t, NodeKindGt, sg.Nodes[1].Kind)
	assert.Equal(t, NodeKindIf, sg.Nodes[2].Kind)

	require.Len(t, sg.Edges, 2)
	assert.Equal(t, Edge{From: "count.step0", To: "count.step1", Label: "${0}"}, sg.Edges[0])
}

func TestBuild_ExtensionStep(t *testing.T) {
	wf := &schema.Workflow{
		EntryPoint: "main",
		Tasks: map[string]*schema.Task{
			"main": {Steps: []schema.Step{
				schema.WaitStep{Wait: 1},
				schema.OtherStep{Tag: "add", Raw: []any{1, 2}},
			}},
		},
	}
	model, err := Build(wf, "", nil)
	require.NoError(t, err)

	steps := model.Nodes[1].Children[0]
	assert.Equal(t, NodeKindWait, steps.Nodes[0].Kind)
	assert.Equal(t, NodeKindExtension, steps.Nodes[1].Kind)
	assert.Empty(t, steps.Edges[0].Label)
}

func TestBuild_CycleGoesLast(t *testing.T) {
	wf := &schema.Workflow{
		EntryPoint: "main",
		Tasks: map[string]*schema.Task{
			"main": {Output: "${a}"},
			"a":    {Output: "${b}"},
			"b":    {Output: "${a}"},
			"leaf": {Output: "x"},
		},
	}
	model, err := Build(wf, "", nil)
	require.NoError(t, err)

	levels := model.Levels
	assert.Equal(t, []string{"a", "b"}, levels[len(levels)-2])
	assert.Contains(t, levels[1], "leaf")
}

func TestBuild_Empty(t *testing.T) {
	_, err := Build(&schema.Workflow{EntryPoint: "x"}, "", nil)
	assert.Error(t, err)

	_, err = Build(nil, "", nil)
	assert.Error(t, err)
}

func TestBuild_StatusOverlay(t *testing.T) {
	events := []streaming.Event{
		{Type: schema.EventStepCompleted, Task: "count", Step: intp(0), Payload: map[string]any{"result": "11"}},
		{Type: schema.EventTaskCompleted, Task: "words", Payload: map[string]any{"result": "hello world"}},
		{Type: schema.EventTaskCompleted, Task: "words", Payload: map[string]any{"result": "hello world"}},
		{
			Type:    schema.EventWorkflowFailed,
			Message: "boom",
			Payload: map[string]any{"code": schema.ErrCodeExecution, "task": "count", "step": float64(1)},
		},
	}
	model, err := Build(wordCount(), "", events)
	require.NoError(t, err)

	nodes := map[string]*Node{}
	for _, n := range model.Nodes {
		nodes[n.ID] = n
		for _, sg := range n.Children {
			for _, sub := range sg.Nodes {
				nodes[sub.ID] = sub
			}
		}
	}

	words := nodes["words"].Status
	require.NotNil(t, words)
	assert.Equal(t, "completed", words.Status)
	assert.Equal(t, 2, words.Runs)
	assert.Equal(t, "hello world", words.Result)

	step0 := nodes["count.step0"].Status
	require.NotNil(t, step0)
	assert.Equal(t, "11", step0.Result)

	step1 := nodes["count.step1"].Status
	require.NotNil(t, step1)
	assert.Equal(t, "failed", step1.Status)
	assert.Equal(t, "boom", step1.Error)
	assert.Equal(t, "failed", nodes["count"].Status.Status)

	assert.Nil(t, nodes["report"].Status)
}
