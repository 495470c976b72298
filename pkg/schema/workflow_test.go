package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseWorkflow_OutputOnly(t *testing.T) {
	wf, err := ParseWorkflow([]byte(`{"entry_point":"hello_world","tasks":{"hello_world":{"output":"hello world!"}}}`))
	require.NoError(t, err)

	assert.Equal(t, "hello_world", wf.EntryPoint)
	require.Contains(t, wf.Tasks, "hello_world")
	assert.Equal(t, "hello world!", wf.Tasks["hello_world"].Output)
	assert.Empty(t, wf.Tasks["hello_world"].Steps)
}

func TestParseWorkflow_BuiltinSteps(t *testing.T) {
	doc := `{"entry_point":"t","tasks":{"t":{"steps":[
		{"wait":1.5},
		{"length":"four"},
		{"gt":["${0}",3]},
		{"if":{"condition":"${0}","true":"yes","false":"no"}},
		{"add":["1","2"]}
	]}}}`
	wf, err := ParseWorkflow([]byte(doc))
	require.NoError(t, err)

	steps := wf.Tasks["t"].Steps
	require.Len(t, steps, 5)
	assert.Equal(t, WaitStep{Wait: 1.5}, steps[0])
	assert.Equal(t, LengthStep{Length: "four"}, steps[1])
	assert.Equal(t, GtStep{Left: "${0}", Right: float64(3)}, steps[2])
	assert.Equal(t, IfStep{Condition: "${0}", True: "yes", False: "no"}, steps[3])

	other, ok := steps[4].(OtherStep)
	require.True(t, ok)
	assert.Equal(t, "add", other.Kind())
	assert.Equal(t, []any{"1", "2"}, other.Payload())
	assert.False(t, IsBuiltinStep("add"))
}

func TestParseWorkflow_Rejects(t *testing.T) {
	cases := map[string]string{
		"not json":          `{`,
		"no tasks":          `{"entry_point":"a"}`,
		"empty task":        `{"entry_point":"a","tasks":{"a":{}}}`,
		"two-key step":      `{"entry_point":"a","tasks":{"a":{"steps":[{"wait":1,"length":"x"}]}}}`,
		"gt single operand": `{"entry_point":"a","tasks":{"a":{"steps":[{"gt":[1]}]}}}`,
		"if not object":     `{"entry_point":"a","tasks":{"a":{"steps":[{"if":true}]}}}`,
		"if missing branch": `{"entry_point":"a","tasks":{"a":{"steps":[{"if":{"condition":true,"true":1}}]}}}`,
		"object output":     `{"entry_point":"a","tasks":{"a":{"output":{"x":1}}}}`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseWorkflow([]byte(doc))
			require.Error(t, err)
			assert.Equal(t, ErrCodeInvalidWorkflowFormat, CodeOf(err))
		})
	}
}

func TestParseWorkflow_StepIndexInError(t *testing.T) {
	_, err := ParseWorkflow([]byte(`{"entry_point":"a","tasks":{"a":{"steps":[{"wait":1},{"gt":"x"}]}}}`))
	require.Error(t, err)

	var wErr *WeaveError
	require.True(t, errors.As(err, &wErr))
	require.NotNil(t, wErr.Step)
	assert.Equal(t, 1, *wErr.Step)
}

func TestParseWorkflowYAML(t *testing.T) {
	doc := `
entry_point: check
tasks:
  check:
    steps:
      - length: four
      - gt: ["${0}", 3]
    output: done
`
	wf, err := ParseWorkflowYAML([]byte(doc))
	require.NoError(t, err)
	assert.Equal(t, "check", wf.EntryPoint)
	assert.Equal(t, GtStep{Left: "${0}", Right: float64(3)}, wf.Tasks["check"].Steps[1])
	assert.Equal(t, "done", wf.Tasks["check"].Output)
}

func TestParseWorkflowYAML_BareBranchKeys(t *testing.T) {
	doc := `
entry_point: pick
tasks:
  pick:
    steps:
      - if:
          condition: true
          true: yes-branch
          false: no-branch
`
	wf, err := ParseWorkflowYAML([]byte(doc))
	require.NoError(t, err)
	assert.Equal(t, IfStep{Condition: true, True: "yes-branch", False: "no-branch"}, wf.Tasks["pick"].Steps[0])
}

func TestTask_MarshalJSON(t *testing.T) {
	task := Task{
		Steps:  []Step{LengthStep{Length: "abc"}, GtStep{Left: "${0}", Right: 2.0}},
		Output: "x",
	}
	data, err := json.Marshal(task)
	require.NoError(t, err)
	assert.JSONEq(t, `{"steps":[{"length":"abc"},{"gt":["${0}",2]}],"output":"x"}`, string(data))
}

func TestStringify(t *testing.T) {
	assert.Equal(t, "hello", Stringify("hello"))
	assert.Equal(t, "4", Stringify(4.0))
	assert.Equal(t, "4.25", Stringify(4.25))
	assert.Equal(t, "-3", Stringify(-3))
	assert.Equal(t, "true", Stringify(true))
	assert.Equal(t, "false", Stringify(false))
	assert.Equal(t, "", Stringify(nil))
	assert.Equal(t, "100000000", Stringify(1e8))
}

func TestFormatNumber_ExponentRange(t *testing.T) {
	assert.Equal(t, "1e+21", FormatNumber(1e21))
	assert.Equal(t, "-1.5e+22", FormatNumber(-1.5e22))
	assert.Equal(t, "999999999999999900000", FormatNumber(999999999999999900000))
	assert.Equal(t, "0.000001", FormatNumber(1e-6))
	assert.Equal(t, "1e-7", FormatNumber(1e-7))
	assert.Equal(t, "1.25e-10", FormatNumber(1.25e-10))
	assert.Equal(t, "0", FormatNumber(math.Copysign(0, -1)))
	assert.Equal(t, "NaN", FormatNumber(math.NaN()))
}

func TestNormalizeOutput(t *testing.T) {
	v, ok := NormalizeOutput(int64(7))
	require.True(t, ok)
	assert.Equal(t, 7.0, v)

	v, ok = NormalizeOutput(json.Number("2.5"))
	require.True(t, ok)
	assert.Equal(t, 2.5, v)

	_, ok = NormalizeOutput(map[string]any{})
	assert.False(t, ok)
	_, ok = NormalizeOutput([]any{1})
	assert.False(t, ok)
}

func TestWeaveError_Format(t *testing.T) {
	err := NewError(ErrCodeInvalidStepInput, "gt operand is not a number").WithTask("check").WithStep(2)
	assert.Equal(t, "[INVALID_STEP_INPUT] task check step 2: gt operand is not a number", err.Error())

	err = NewErrorf(ErrCodeTaskNotFound, "task %q not found", "x")
	assert.Equal(t, `[TASK_NOT_FOUND] task "x" not found`, err.Error())
}

func TestWeaveError_ChainHelpers(t *testing.T) {
	inner := NewError(ErrCodeInvalidStepInput, "bad")
	outer := fmt.Errorf("resolving: %w", NewError(ErrCodeUnsupportedStepKind, "no executor").WithCause(inner))

	assert.Equal(t, ErrCodeUnsupportedStepKind, CodeOf(outer))
	assert.True(t, HasCode(outer, ErrCodeInvalidStepInput))
	assert.False(t, HasCode(outer, ErrCodeTaskNotFound))
	assert.Equal(t, "", CodeOf(errors.New("plain")))
}

func TestWeaveError_IsRetryable(t *testing.T) {
	assert.True(t, NewError(ErrCodeSynthesis, "x").IsRetryable())
	assert.False(t, NewError(ErrCodeInvalidStepInput, "x").IsRetryable())
}
