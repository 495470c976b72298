package diagram

import (
	"fmt"
	"sort"

	"github.com/rendis/taskweave/internal/expressions"
	"github.com/rendis/taskweave/internal/streaming"
	"github.com/rendis/taskweave/internal/validation"
	"github.com/rendis/taskweave/pkg/schema"
)

const (
	startID = "__start__"
	endID   = "__end__"
)

// Build constructs a DiagramModel from a workflow's task reference graph.
// events, if given, are debug events of one execution and become status
// overlays.
func Build(wf *schema.Workflow, title string, events []streaming.Event) (*DiagramModel, error) {
	if wf == nil || len(wf.Tasks) == 0 {
		return nil, fmt.Errorf("diagram: workflow has no tasks")
	}
	if title == "" {
		title = "Workflow"
	}

	refs := validation.ReferenceGraph(wf)
	levels := taskLevels(wf, refs)

	nodeIndex := make(map[string]*Node, len(wf.Tasks)+2)
	nodes := make([]*Node, 0, len(wf.Tasks)+2)

	start := &Node{ID: startID, Label: "Start", Kind: NodeKindStart}
	nodes = append(nodes, start)

	for _, level := range levels {
		for _, name := range level {
			node := taskNode(name, wf.Tasks[name])
			node.Entry = name == wf.EntryPoint
			nodes = append(nodes, node)
			nodeIndex[node.ID] = node
			for _, sg := range node.Children {
				for _, sub := range sg.Nodes {
					nodeIndex[sub.ID] = sub
				}
			}
		}
	}

	end := &Node{ID: endID, Label: "Result", Kind: NodeKindEnd}
	nodes = append(nodes, end)

	overlayEvents(nodeIndex, events)

	return &DiagramModel{
		Title:  title,
		Nodes:  nodes,
		Edges:  buildEdges(wf, refs),
		Levels: append(append([][]string{{startID}}, levels...), []string{endID}),
	}, nil
}

func taskNode(name string, task *schema.Task) *Node {
	node := &Node{ID: name, Label: name, Kind: NodeKindTask}
	if task == nil {
		return node
	}
	if len(task.Steps) == 0 {
		node.Kind = NodeKindOutput
	}
	if task.HasOutput() {
		node.Label = fmt.Sprintf("%s\n= %s", name, schema.Stringify(task.Output))
	}
	if len(task.Steps) == 0 {
		return node
	}

	sg := &SubGraph{Label: "steps"}
	for i, step := range task.Steps {
		id := stepID(name, i)
		sg.Nodes = append(sg.Nodes, &Node{
			ID:    id,
			Label: fmt.Sprintf("%d: %s", i, step.Kind()),
			Kind:  stepKind(step.Kind()),
		})
		if i > 0 {
			edge := Edge{From: stepID(name, i-1), To: id}
			if expressions.ContainsPreviousOutput(step.Payload()) {
				edge.Label = expressions.PreviousOutputToken
			}
			sg.Edges = append(sg.Edges, edge)
		}
	}
	node.Children = append(node.Children, sg)
	return node
}

func stepID(task string, index int) string {
	return fmt.Sprintf("%s.step%d", task, index)
}

func stepKind(kind string) NodeKind {
	switch kind {
	case schema.StepKindWait:
		return NodeKindWait
	case schema.StepKindLength:
		return NodeKindLength
	case schema.StepKindGt:
		return NodeKindGt
	case schema.StepKindIf:
		return NodeKindIf
	}
	return NodeKindExtension
}

// buildEdges adds start -> tasks without references, referenced ->
// referencing task, and entry point -> end.
func buildEdges(wf *schema.Workflow, refs map[string][]string) []Edge {
	var edges []Edge
	for _, name := range wf.TaskNames() {
		if len(refs[name]) == 0 {
			edges = append(edges, Edge{From: startID, To: name})
		}
	}
	for _, name := range wf.TaskNames() {
		for _, ref := range refs[name] {
			edges = append(edges, Edge{From: ref, To: name, Label: "${" + ref + "}"})
		}
	}
	if _, ok := wf.Tasks[wf.EntryPoint]; ok {
		edges = append(edges, Edge{From: wf.EntryPoint, To: endID})
	}
	return edges
}

// taskLevels groups tasks by reference depth: tasks that reference nothing
// come first, every other task sits one level below its deepest reference.
// Tasks on a reference cycle are placed after all others.
func taskLevels(wf *schema.Workflow, refs map[string][]string) [][]string {
	const visiting = -1
	depth := make(map[string]int, len(wf.Tasks))
	cyclic := map[string]bool{}
	var stack []string

	var visit func(name string) int
	visit = func(name string) int {
		if d, ok := depth[name]; ok {
			if d == visiting {
				for i := len(stack) - 1; i >= 0; i-- {
					cyclic[stack[i]] = true
					if stack[i] == name {
						break
					}
				}
				return 0
			}
			return d
		}
		depth[name] = visiting
		stack = append(stack, name)
		d := 0
		for _, ref := range refs[name] {
			if rd := visit(ref) + 1; rd > d {
				d = rd
			}
		}
		stack = stack[:len(stack)-1]
		depth[name] = d
		return d
	}

	maxDepth := 0
	for _, name := range wf.TaskNames() {
		if d := visit(name); d > maxDepth {
			maxDepth = d
		}
	}

	levels := make([][]string, maxDepth+1)
	var loop []string
	for _, name := range wf.TaskNames() {
		if cyclic[name] {
			loop = append(loop, name)
			continue
		}
		levels[depth[name]] = append(levels[depth[name]], name)
	}
	out := levels[:0]
	for _, l := range levels {
		if len(l) > 0 {
			out = append(out, l)
		}
	}
	if len(loop) > 0 {
		sort.Strings(loop)
		out = append(out, loop)
	}
	return out
}

// overlayEvents applies debug events of one execution to the nodes.
func overlayEvents(index map[string]*Node, events []streaming.Event) {
	mark := func(id, status, result, errMsg string) {
		node, ok := index[id]
		if !ok {
			return
		}
		if node.Status == nil {
			node.Status = &StatusOverlay{}
		}
		node.Status.Status = status
		node.Status.Runs++
		if result != "" {
			node.Status.Result = result
		}
		if errMsg != "" {
			node.Status.Error = errMsg
		}
	}

	for _, ev := range events {
		payload, _ := ev.Payload.(map[string]any)
		result, _ := payload["result"].(string)
		switch ev.Type {
		case schema.EventStepCompleted:
			if ev.Step != nil {
				mark(stepID(ev.Task, *ev.Step), "completed", result, "")
			}
		case schema.EventTaskCompleted:
			mark(ev.Task, "completed", result, "")
		case schema.EventWorkflowFailed:
			task, _ := payload["task"].(string)
			if task == "" {
				continue
			}
			mark(task, "failed", "", ev.Message)
			switch step := payload["step"].(type) {
			case int:
				mark(stepID(task, step), "failed", "", ev.Message)
			case float64: // decoded from JSON
				mark(stepID(task, int(step)), "failed", "", ev.Message)
			}
		}
	}
}
