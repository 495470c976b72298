package steps

import (
	"context"
	"testing"

	"github.com/rendis/taskweave/internal/expressions"
	"github.com/rendis/taskweave/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEngines(t *testing.T) *expressions.Engines {
	t.Helper()
	engines, err := expressions.NewEngines()
	require.NoError(t, err)
	return engines
}

func TestExpressionExecutor_Engines(t *testing.T) {
	engines := newEngines(t)
	cases := []struct {
		engine string
		source string
	}{
		{"expr", "float(step[0]) * float(step[1])"},
		{"cel", "double(args[0]) * double(args[1])"},
		{"jq", "(.step[0] | tonumber) * (.step[1] | tonumber)"},
		{"go", `package main

import "strconv"

func Execute(data map[string]any) (any, error) {
	args := data["args"].([]any)
	a, _ := strconv.ParseFloat(args[0].(string), 64)
	b, _ := strconv.ParseFloat(args[1].(string), 64)
	return a * b, nil
}
`},
	}
	for _, tc := range cases {
		t.Run(tc.engine, func(t *testing.T) {
			exec, err := NewExpressionExecutor(Definition{Kind: "mul", Engine: tc.engine, Source: tc.source}, engines)
			require.NoError(t, err)
			assert.Equal(t, "mul", exec.Kind())

			out, err := exec.Execute(context.Background(), []any{"3", "4"})
			require.NoError(t, err)
			assert.Equal(t, 12.0, out)
		})
	}
}

func TestExpressionExecutor_StringPayload(t *testing.T) {
	exec, err := NewExpressionExecutor(Definition{Kind: "shout", Engine: "expr", Source: "upper(step) + '!'"}, newEngines(t))
	require.NoError(t, err)

	out, err := exec.Execute(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, "HI!", out)
}

func TestExpressionExecutor_InvalidDefinitions(t *testing.T) {
	engines := newEngines(t)
	cases := map[string]struct {
		def  Definition
		code string
	}{
		"bad kind":       {Definition{Kind: "a-b", Engine: "expr", Source: "1"}, schema.ErrCodeValidation},
		"builtin kind":   {Definition{Kind: "gt", Engine: "expr", Source: "1"}, schema.ErrCodeConflict},
		"no engine":      {Definition{Kind: "k", Source: "1"}, schema.ErrCodeValidation},
		"no source":      {Definition{Kind: "k", Engine: "expr"}, schema.ErrCodeValidation},
		"unknown engine": {Definition{Kind: "k", Engine: "lua", Source: "1"}, schema.ErrCodeValidation},
		"compile error":  {Definition{Kind: "k", Engine: "cel", Source: "1 +"}, schema.ErrCodeValidation},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NewExpressionExecutor(tc.def, engines)
			require.Error(t, err)
			assert.Equal(t, tc.code, schema.CodeOf(err))
		})
	}
}

func TestExpressionExecutor_RejectsNonScalarResult(t *testing.T) {
	exec, err := NewExpressionExecutor(Definition{Kind: "wrap", Engine: "expr", Source: "[step]"}, newEngines(t))
	require.NoError(t, err)

	_, err = exec.Execute(context.Background(), "x")
	assert.Equal(t, schema.ErrCodeExecution, schema.CodeOf(err))
}

func TestExpressionExecutor_Origin(t *testing.T) {
	engines := newEngines(t)
	exec, err := NewExpressionExecutor(Definition{Kind: "k", Engine: "expr", Source: "1"}, engines)
	require.NoError(t, err)
	assert.Equal(t, OriginUser, exec.Origin())

	exec, err = NewExpressionExecutor(Definition{Kind: "k", Engine: "expr", Source: "1", Origin: OriginSynthesized}, engines)
	require.NoError(t, err)
	assert.Equal(t, OriginSynthesized, exec.Origin())
}

func TestBindings(t *testing.T) {
	assert.Equal(t, map[string]any{"step": "s"}, Bindings("s"))
	arr := []any{1.0, "2"}
	assert.Equal(t, map[string]any{"step": arr, "args": arr}, Bindings(arr))
}
