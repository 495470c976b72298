package panel

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkflowLifecycle(t *testing.T) {
	f := newFixture(t)

	code, body := f.do(t, http.MethodPut, "/api/workflows/greeting?description=says+hi", greetingDoc)
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, true, decode(t, body)["stored"])

	code, body = f.do(t, http.MethodGet, "/api/workflows", "")
	require.Equal(t, http.StatusOK, code)
	list := decode(t, body)["workflows"].([]any)
	require.Len(t, list, 1)
	assert.Equal(t, "says hi", list[0].(map[string]any)["description"])

	code, body = f.do(t, http.MethodGet, "/api/workflows/greeting", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "greeting", decode(t, body)["name"])

	code, body = f.do(t, http.MethodPost, "/api/workflows/greeting/execute", `{"inputs": {"who": "taskweave"}}`)
	require.Equal(t, http.StatusOK, code, body)
	res := decode(t, body)
	assert.Equal(t, "completed", res["status"])
	assert.Equal(t, "9", res["result"])

	code, _ = f.do(t, http.MethodDelete, "/api/workflows/greeting", "")
	assert.Equal(t, http.StatusOK, code)
	code, body = f.do(t, http.MethodGet, "/api/workflows/greeting", "")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "NOT_FOUND", decode(t, body)["code"])
}

func TestPutWorkflow_Rejected(t *testing.T) {
	f := newFixture(t)

	code, body := f.do(t, http.MethodPut, "/api/workflows/bad",
		`{"entry_point": "a", "tasks": {"a": {"steps": [{"length": "${missing}"}]}}}`)
	require.Equal(t, http.StatusUnprocessableEntity, code, body)
	out := decode(t, body)
	assert.Equal(t, "MISSING_TASK_REFERENCE", out["code"])
	assert.NotEmpty(t, out["validation"].(map[string]any)["errors"])

	code, _ = f.do(t, http.MethodGet, "/api/workflows/bad", "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestExecuteInline_YAMLWithQueryInputs(t *testing.T) {
	f := newFixture(t)

	doc := "entry_point: cmp\ntasks:\n  cmp:\n    steps:\n      - gt: [\"@{n}\", 3]\n"
	code, body := f.do(t, http.MethodPost, "/api/execute?n=5", doc)
	require.Equal(t, http.StatusOK, code, body)
	res := decode(t, body)
	assert.Equal(t, "inline", res["workflow"])
	assert.Equal(t, "true", res["result"])
}

func TestExecute_FailedEvaluationIsAResult(t *testing.T) {
	f := newFixture(t)

	code, body := f.do(t, http.MethodPost, "/api/execute",
		`{"entry_point": "w", "tasks": {"w": {"steps": [{"wait": "soon"}]}}}`)
	require.Equal(t, http.StatusOK, code, body)
	res := decode(t, body)
	assert.Equal(t, "failed", res["status"])
	assert.Equal(t, "INVALID_STEP_INPUT", res["error_code"])
}

func TestExecute_Errors(t *testing.T) {
	f := newFixture(t)

	code, _ := f.do(t, http.MethodPost, "/api/workflows/missing/execute", "")
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = f.do(t, http.MethodPost, "/api/execute", "{not json")
	assert.Equal(t, http.StatusUnprocessableEntity, code)

	f.do(t, http.MethodPut, "/api/workflows/greeting", greetingDoc)
	code, _ = f.do(t, http.MethodPost, "/api/workflows/greeting/execute", `{"inputs": "nope"}`)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestValidate(t *testing.T) {
	f := newFixture(t)

	code, body := f.do(t, http.MethodPost, "/api/validate", greetingDoc)
	require.Equal(t, http.StatusOK, code)
	assert.Nil(t, decode(t, body)["errors"])

	code, body = f.do(t, http.MethodPost, "/api/validate",
		`{"entry_point": "a", "tasks": {"a": {"steps": [{"length": "${b}"}]}, "b": {"steps": [{"length": "${a}"}]}}}`)
	require.Equal(t, http.StatusOK, code)
	errs := decode(t, body)["errors"].([]any)
	require.NotEmpty(t, errs)
	assert.Equal(t, "CYCLE_DETECTED", errs[0].(map[string]any)["code"])
}

func TestInputs(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodPut, "/api/workflows/greeting", greetingDoc)

	code, body := f.do(t, http.MethodGet, "/api/inputs/check/greeting", "")
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, decode(t, body)["missing"])

	code, _ = f.do(t, http.MethodDelete, "/api/inputs/who", "")
	assert.Equal(t, http.StatusOK, code)
	code, _ = f.do(t, http.MethodDelete, "/api/inputs/who", "")
	assert.Equal(t, http.StatusNotFound, code)

	_, body = f.do(t, http.MethodGet, "/api/inputs/check/greeting", "")
	assert.Equal(t, []any{"who"}, decode(t, body)["missing"])

	code, _ = f.do(t, http.MethodPut, "/api/inputs/who", `{"value": 12345}`)
	require.Equal(t, http.StatusOK, code)
	_, body = f.do(t, http.MethodGet, "/api/inputs", "")
	assert.Equal(t, "12345", decode(t, body)["inputs"].(map[string]any)["who"])

	code, body = f.do(t, http.MethodPut, "/api/inputs/bad-key", `{"value": "x"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, "VALIDATION_ERROR", decode(t, body)["code"])
}

func TestDefineExecutor(t *testing.T) {
	f := newFixture(t)

	code, body := f.do(t, http.MethodPost, "/api/executors",
		`{"kind": "mul", "engine": "expr", "source": "float(step[0]) * float(step[1])", "example": [2, 3]}`)
	require.Equal(t, http.StatusCreated, code, body)
	assert.Equal(t, "user", decode(t, body)["origin"])

	_, body = f.do(t, http.MethodGet, "/api/executors", "")
	kinds := map[string]bool{}
	for _, e := range decode(t, body)["executors"].([]any) {
		kinds[e.(map[string]any)["kind"].(string)] = true
	}
	assert.True(t, kinds["mul"])
	assert.True(t, kinds["add"])

	_, body = f.do(t, http.MethodPost, "/api/execute",
		`{"entry_point": "m", "tasks": {"m": {"steps": [{"mul": [6, 7]}]}}}`)
	assert.Equal(t, "42", decode(t, body)["result"])

	code, _ = f.do(t, http.MethodPost, "/api/executors", `{"kind": "bad kind", "engine": "expr", "source": "1"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, code)
}

func TestDiagram(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodPut, "/api/workflows/greeting", greetingDoc)

	code, body := f.do(t, http.MethodGet, "/api/workflows/greeting/diagram", "")
	require.Equal(t, http.StatusOK, code)
	assert.True(t, strings.HasPrefix(body, "graph TD"), body)

	code, body = f.do(t, http.MethodGet, "/api/workflows/greeting/diagram?format=ascii", "")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "greet")

	code, body = f.do(t, http.MethodGet, "/api/workflows/greeting/diagram?format=png", "")
	require.Equal(t, http.StatusOK, code)
	assert.True(t, strings.HasPrefix(body, "\x89PNG"))

	code, _ = f.do(t, http.MethodGet, "/api/workflows/greeting/diagram?format=gif", "")
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = f.do(t, http.MethodGet, "/api/workflows/missing/diagram", "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestDiagram_ExecutionOverlay(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodPut, "/api/workflows/greeting", greetingDoc)
	_, body := f.do(t, http.MethodPost, "/api/workflows/greeting/execute", "")
	execID := decode(t, body)["execution_id"].(string)

	code, body := f.do(t, http.MethodGet, "/api/workflows/greeting/diagram?format=ascii&execution_id="+execID, "")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "[OK]")
}

func TestScheduler(t *testing.T) {
	f := newFixture(t)

	code, _ := f.do(t, http.MethodPost, "/api/scheduler", `{"workflow": "greeting", "cron_expression": "@hourly"}`)
	assert.Equal(t, http.StatusNotFound, code)

	f.do(t, http.MethodPut, "/api/workflows/greeting", greetingDoc)
	code, body := f.do(t, http.MethodPost, "/api/scheduler", `{"workflow": "greeting", "cron_expression": "not a cron"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, code, body)

	code, body = f.do(t, http.MethodPost, "/api/scheduler",
		`{"workflow": "greeting", "cron_expression": "@hourly", "inputs": {"who": 7}}`)
	require.Equal(t, http.StatusCreated, code, body)
	job := decode(t, body)
	id := job["id"].(string)
	require.NotEmpty(t, id)
	assert.Equal(t, true, job["enabled"])

	code, _ = f.do(t, http.MethodPut, "/api/scheduler/"+id, `{"enabled": false}`)
	require.Equal(t, http.StatusOK, code)
	stored, err := f.store.GetScheduledJob(context.Background(), id)
	require.NoError(t, err)
	assert.False(t, stored.Enabled)
	assert.Equal(t, "7", stored.Inputs["who"])

	_, body = f.do(t, http.MethodGet, "/api/scheduler?enabled=false", "")
	assert.Len(t, decode(t, body)["jobs"].([]any), 1)
	_, body = f.do(t, http.MethodGet, "/api/scheduler?enabled=true", "")
	assert.Empty(t, decode(t, body)["jobs"].([]any))

	code, _ = f.do(t, http.MethodPut, "/api/scheduler/"+id, `{}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = f.do(t, http.MethodDelete, "/api/scheduler/"+id, "")
	assert.Equal(t, http.StatusOK, code)
	_, body = f.do(t, http.MethodGet, "/api/scheduler", "")
	assert.Empty(t, decode(t, body)["jobs"].([]any))
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, statusFor(assert.AnError))
}
