package steps

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/rendis/taskweave/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDescribe(t *testing.T) {
	assert.Equal(t, "{\n    wait: number\n}", Describe("wait", 1.0))
	assert.Equal(t, "{\n    length: string\n}", Describe("length", "string"))
	assert.Equal(t, "{\n    gt: [\n        number,\n        number\n    ]\n}", Describe("gt", []any{1.0, 2.0}))
	assert.Equal(t,
		"{\n    if: {\n        condition: string,\n        false: string,\n        true: string\n    }\n}",
		Describe("if", map[string]any{"condition": "${0}", "true": "long name", "false": "short name"}))
}

func TestDescribe_Nested(t *testing.T) {
	got := Describe("zip", []any{[]any{true}, nil})
	assert.Equal(t, "{\n    zip: [\n        [\n            boolean\n        ],\n        null\n    ]\n}", got)
}

func TestAdd(t *testing.T) {
	add := NewAdd()
	assert.Equal(t, KindAdd, add.Kind())

	out, err := add.Execute(context.Background(), []any{"1", " 2.5 "})
	require.NoError(t, err)
	assert.Equal(t, 3.5, out)

	out, err = add.Execute(context.Background(), []any{4.0, "-1"})
	require.NoError(t, err)
	assert.Equal(t, 3.0, out)
}

func TestAdd_InvalidInput(t *testing.T) {
	add := NewAdd()
	for _, payload := range []any{"1", []any{"1"}, []any{"x", "1"}, []any{true, "1"}, []any{"", "1"}} {
		_, err := add.Execute(context.Background(), payload)
		assert.Equal(t, schema.ErrCodeInvalidStepInput, schema.CodeOf(err), "payload %v", payload)
	}
}

func TestDefinitionSchema(t *testing.T) {
	raw, err := DefinitionSchema()
	require.NoError(t, err)

	var s map[string]any
	require.NoError(t, json.Unmarshal(raw, &s))
	assert.ElementsMatch(t, []any{"kind", "engine", "source"}, s["required"])

	props, ok := s["properties"].(map[string]any)
	require.True(t, ok)
	engine, ok := props["engine"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, []any{"expr", "cel", "jq", "go"}, engine["enum"])
	assert.Contains(t, props, "created_at")
}
