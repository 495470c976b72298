package validation

import (
	"fmt"

	"github.com/rendis/taskweave/internal/expressions"
	"github.com/rendis/taskweave/pkg/schema"
)

// Warning codes. Errors reuse the evaluator's error codes so a failed
// validation reads the same as the run it prevents.
const (
	WarnPreviousOutputInOutput = "PREVIOUS_OUTPUT_IN_OUTPUT"
	WarnUnknownStepKind        = "UNKNOWN_STEP_KIND"
	WarnUnreachableTask        = "UNREACHABLE_TASK"
	WarnUnreferenceableName    = "UNREFERENCEABLE_TASK_NAME"
	WarnBranchMissingReference = "BRANCH_MISSING_TASK_REFERENCE"
	WarnConditionalCycle       = "CONDITIONAL_CYCLE"
)

// validateSemantic checks what a schema cannot: the entry point, task
// references, ${0} placement and extension step kinds.
func validateSemantic(wf *schema.Workflow, lookup StepLookup) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	if wf.EntryPoint == "" {
		result.AddError("entry_point", schema.ErrCodeInvalidWorkflowFormat, "workflow has no entry_point")
	} else if _, ok := wf.Tasks[wf.EntryPoint]; !ok {
		result.AddError("entry_point", schema.ErrCodeInvalidWorkflowFormat,
			fmt.Sprintf("entry_point %q is not a task", wf.EntryPoint))
	}

	for _, name := range wf.TaskNames() {
		task := wf.Tasks[name]
		path := "tasks." + name
		if task == nil {
			result.AddError(path, schema.ErrCodeInvalidWorkflowFormat, "task is null")
			continue
		}
		if !expressions.IsReferenceableTaskName(name) {
			result.AddWarning(path, WarnUnreferenceableName,
				fmt.Sprintf("task %q cannot be referenced with ${...}; only the entry point can run it", name))
		}
		if len(task.Steps) == 0 && !task.HasOutput() {
			result.AddError(path, schema.ErrCodeOutputMissing, "task has neither steps nor output")
		}

		for i, step := range task.Steps {
			stepPath := fmt.Sprintf("%s.steps[%d].%s", path, i, step.Kind())
			always, branches := splitPayload(step)
			checkTaskRefs(wf, always, stepPath, result)
			checkBranchRefs(wf, branches, stepPath, result)
			if i == 0 && expressions.ContainsPreviousOutput(step.Payload()) {
				result.AddError(stepPath, schema.ErrCodeOrphanPreviousOutput,
					"${0} used in the first step; there is no previous output")
			}
			if !schema.IsBuiltinStep(step.Kind()) && lookup != nil && !lookup.Has(step.Kind()) {
				result.AddWarning(stepPath, WarnUnknownStepKind,
					fmt.Sprintf("no executor registered for %q; one must be stored or synthesized at run time", step.Kind()))
			}
		}

		if task.HasOutput() {
			checkTaskRefs(wf, task.Output, path+".output", result)
			if expressions.ContainsPreviousOutput(task.Output) {
				result.AddWarning(path+".output", WarnPreviousOutputInOutput,
					"${0} has no meaning in a task output and is kept as literal text")
			}
		}
	}

	return result
}

func checkTaskRefs(wf *schema.Workflow, v any, path string, result *schema.ValidationResult) {
	for _, ref := range expressions.TaskReferences(v) {
		if _, ok := wf.Tasks[ref]; !ok {
			result.AddError(path, schema.ErrCodeMissingTaskReference,
				fmt.Sprintf("references unknown task %q", ref))
		}
	}
}

// checkBranchRefs reports unknown tasks named in if branches. The branch
// may never be selected, so this is a warning; taking it fails at run time.
func checkBranchRefs(wf *schema.Workflow, branches []any, path string, result *schema.ValidationResult) {
	for _, ref := range expressions.TaskReferences(branches) {
		if _, ok := wf.Tasks[ref]; !ok {
			result.AddWarning(path, WarnBranchMissingReference,
				fmt.Sprintf("if branch references unknown task %q", ref))
		}
	}
}
