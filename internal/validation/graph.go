package validation

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rendis/taskweave/internal/expressions"
	"github.com/rendis/taskweave/pkg/schema"
)

// ReferenceGraph maps each task to the distinct tasks its steps and output
// reference, sorted. References to unknown tasks are dropped.
func ReferenceGraph(wf *schema.Workflow) map[string][]string {
	return referenceGraph(wf, true)
}

// unconditionalGraph is ReferenceGraph without the edges that only an if
// branch contributes. Those run only when their branch is selected.
func unconditionalGraph(wf *schema.Workflow) map[string][]string {
	return referenceGraph(wf, false)
}

func referenceGraph(wf *schema.Workflow, withBranches bool) map[string][]string {
	edges := make(map[string][]string, len(wf.Tasks))
	for name, task := range wf.Tasks {
		if task == nil {
			continue
		}
		seen := map[string]bool{}
		visit := func(v any) {
			for _, ref := range expressions.TaskReferences(v) {
				if _, ok := wf.Tasks[ref]; ok && !seen[ref] {
					seen[ref] = true
					edges[name] = append(edges[name], ref)
				}
			}
		}
		for _, step := range task.Steps {
			always, branches := splitPayload(step)
			visit(always)
			if withBranches {
				visit(branches)
			}
		}
		if task.HasOutput() {
			visit(task.Output)
		}
		sort.Strings(edges[name])
	}
	return edges
}

// splitPayload separates the fields a step always resolves from the if
// branches, of which only the selected one is resolved.
func splitPayload(step schema.Step) (always any, branches []any) {
	if s, ok := step.(schema.IfStep); ok {
		return s.Condition, []any{s.True, s.False}
	}
	return step.Payload(), nil
}

// validateGraph checks the reference graph. A cycle of unconditional
// references among tasks reachable from the entry point always recurses
// at run time and is an error; a cycle that needs an if branch is only a
// warning. Tasks the entry point never reaches are reported as warnings.
func validateGraph(wf *schema.Workflow) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	edges := ReferenceGraph(wf)

	reachable := map[string]bool{wf.EntryPoint: true}
	queue := []string{wf.EntryPoint}
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		for _, ref := range edges[node] {
			if !reachable[ref] {
				reachable[ref] = true
				queue = append(queue, ref)
			}
		}
	}

	for _, name := range wf.TaskNames() {
		if !reachable[name] {
			result.AddWarning("tasks."+name, WarnUnreachableTask,
				fmt.Sprintf("task %q is not reachable from entry_point %q", name, wf.EntryPoint))
		}
	}

	always := unconditionalGraph(wf)
	if cyclic := findCycle(always, reachable); len(cyclic) > 0 {
		result.AddError("tasks", schema.ErrCodeCycleDetected,
			fmt.Sprintf("task references form a cycle: %s", describeCycle(always, cyclic)))
	} else if cyclic := findCycle(edges, reachable); len(cyclic) > 0 {
		result.AddWarning("tasks", WarnConditionalCycle,
			fmt.Sprintf("task references form a cycle through an if branch: %s; taking that branch fails with %s",
				describeCycle(edges, cyclic), schema.ErrCodeCycleDetected))
	}

	return result
}

// findCycle runs Kahn's algorithm over the nodes subgraph: a task is
// removed once everything it references has been removed. It returns the
// tasks left over, sorted; none when the subgraph is acyclic.
func findCycle(edges map[string][]string, nodes map[string]bool) []string {
	pending := make(map[string]int, len(nodes))
	dependents := make(map[string][]string, len(nodes))
	for name := range nodes {
		for _, ref := range edges[name] {
			if !nodes[ref] {
				continue
			}
			pending[name]++
			dependents[ref] = append(dependents[ref], name)
		}
	}
	ready := make([]string, 0, len(nodes))
	for name := range nodes {
		if pending[name] == 0 {
			ready = append(ready, name)
		}
	}
	sort.Strings(ready)

	for len(ready) > 0 {
		node := ready[0]
		ready = ready[1:]
		for _, dep := range dependents[node] {
			pending[dep]--
			if pending[dep] == 0 {
				ready = append(ready, dep)
			}
		}
	}

	var cyclic []string
	for name, n := range pending {
		if n > 0 {
			cyclic = append(cyclic, name)
		}
	}
	sort.Strings(cyclic)
	return cyclic
}

// describeCycle walks from the first cyclic task along cyclic edges until a
// task repeats, rendering the loop as "a -> b -> a".
func describeCycle(edges map[string][]string, cyclic []string) string {
	inCycle := make(map[string]bool, len(cyclic))
	for _, name := range cyclic {
		inCycle[name] = true
	}
	pos := map[string]int{}
	var path []string
	node := cyclic[0]
	for {
		if i, ok := pos[node]; ok {
			return strings.Join(append(path[i:], node), " -> ")
		}
		pos[node] = len(path)
		path = append(path, node)
		next := ""
		for _, ref := range edges[node] {
			if inCycle[ref] {
				next = ref
				break
			}
		}
		if next == "" {
			return strings.Join(cyclic, ", ")
		}
		node = next
	}
}
