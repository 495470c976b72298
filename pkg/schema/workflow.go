package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"
)

// Workflow is the JSON-serializable workflow document: a named task graph
// plus the task evaluation starts from.
type Workflow struct {
	EntryPoint string           `json:"entry_point"`
	Tasks      map[string]*Task `json:"tasks"`
}

// TaskNames returns the task names in sorted order.
func (w *Workflow) TaskNames() []string {
	names := make([]string, 0, len(w.Tasks))
	for name := range w.Tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Task is an ordered step sequence and/or an output template.
// A nil Output means the task has no output field.
type Task struct {
	Steps  []Step
	Output TaskOutput
}

// HasOutput reports whether the task declares an output field.
func (t *Task) HasOutput() bool {
	return t.Output != nil
}

type taskJSON struct {
	Steps  []json.RawMessage `json:"steps,omitempty"`
	Output any               `json:"output,omitempty"`
}

// UnmarshalJSON decodes a task and its tagged steps.
func (t *Task) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return NewError(ErrCodeInvalidWorkflowFormat, "task must be an object").WithCause(err)
	}
	_, hasSteps := fields["steps"]
	_, hasOutput := fields["output"]
	if !hasSteps && !hasOutput {
		return NewError(ErrCodeInvalidWorkflowFormat, "task needs steps or output")
	}

	var raw taskJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return NewError(ErrCodeInvalidWorkflowFormat, "malformed task").WithCause(err)
	}
	if raw.Output != nil {
		out, ok := NormalizeOutput(raw.Output)
		if !ok {
			return NewErrorf(ErrCodeInvalidWorkflowFormat, "task output must be a string, number or boolean, got %T", raw.Output)
		}
		t.Output = out
	}

	t.Steps = make([]Step, 0, len(raw.Steps))
	for i, rs := range raw.Steps {
		step, err := ParseStep(rs)
		if err != nil {
			if wErr, ok := err.(*WeaveError); ok {
				return wErr.WithStep(i)
			}
			return err
		}
		t.Steps = append(t.Steps, step)
	}
	return nil
}

// MarshalJSON encodes steps back into their single-key object form.
func (t Task) MarshalJSON() ([]byte, error) {
	out := map[string]any{}
	if len(t.Steps) > 0 {
		steps := make([]map[string]any, len(t.Steps))
		for i, s := range t.Steps {
			steps[i] = map[string]any{s.Kind(): s.Payload()}
		}
		out["steps"] = steps
	}
	if t.Output != nil {
		out["output"] = t.Output
	}
	return json.Marshal(out)
}

// ParseWorkflow decodes a JSON workflow document. Structural problems are
// reported as INVALID_WORKFLOW_FORMAT; entry point checks are left to the
// evaluator and the validator.
func ParseWorkflow(data []byte) (*Workflow, error) {
	var wf Workflow
	if err := json.Unmarshal(data, &wf); err != nil {
		var wErr *WeaveError
		if errors.As(err, &wErr) {
			return nil, wErr
		}
		return nil, NewError(ErrCodeInvalidWorkflowFormat, "malformed workflow document").WithCause(err)
	}
	if wf.Tasks == nil {
		return nil, NewError(ErrCodeInvalidWorkflowFormat, "workflow has no tasks")
	}
	for name, task := range wf.Tasks {
		if task == nil {
			return nil, NewError(ErrCodeInvalidWorkflowFormat, "task is null").WithTask(name)
		}
	}
	return &wf, nil
}

// ParseWorkflowYAML decodes a YAML workflow document by converting it to its
// JSON form first, so both encodings share one decoder.
func ParseWorkflowYAML(data []byte) (*Workflow, error) {
	jsonData, err := YAMLToJSON(data)
	if err != nil {
		return nil, NewError(ErrCodeInvalidWorkflowFormat, "malformed YAML document").WithCause(err)
	}
	return ParseWorkflow(jsonData)
}

// YAMLToJSON converts a YAML document into equivalent JSON.
func YAMLToJSON(data []byte) ([]byte, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return json.Marshal(stringKeys(doc))
}

// stringKeys rewrites non-string mapping keys, such as the bare true/false
// branch keys of an if step, into their string form.
func stringKeys(v any) any {
	switch val := v.(type) {
	case map[string]any:
		for k, item := range val {
			val[k] = stringKeys(item)
		}
		return val
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[fmt.Sprint(k)] = stringKeys(item)
		}
		return out
	case []any:
		for i, item := range val {
			val[i] = stringKeys(item)
		}
		return val
	}
	return v
}

// LooksLikeJSON reports whether data starts with a JSON object.
func LooksLikeJSON(data []byte) bool {
	trimmed := bytes.TrimSpace(data)
	return len(trimmed) > 0 && trimmed[0] == '{'
}

// RetryPolicy configures bounded retries for operations outside the
// evaluation core, such as executor synthesis.
type RetryPolicy struct {
	Max      int    `json:"max"`
	Backoff  string `json:"backoff,omitempty"`   // none | constant | linear | exponential (default: none)
	Delay    string `json:"delay,omitempty"`     // initial delay (e.g. "1s", "500ms")
	MaxDelay string `json:"max_delay,omitempty"` // cap for computed delays
}

func (p RetryPolicy) String() string {
	return fmt.Sprintf("max=%d backoff=%s delay=%s", p.Max, p.Backoff, p.Delay)
}
