package expressions

import (
	"context"
	"sync"
	"testing"

	"github.com/rendis/taskweave/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stepData(payload any) map[string]any {
	data := map[string]any{"step": payload}
	if arr, ok := payload.([]any); ok {
		data["args"] = arr
	}
	return data
}

func TestEngines_Get(t *testing.T) {
	engines, err := NewEngines()
	require.NoError(t, err)
	assert.Equal(t, []string{"cel", "expr", "go", "jq"}, engines.Names())

	for _, name := range engines.Names() {
		eng, err := engines.Get(name)
		require.NoError(t, err)
		assert.Equal(t, name, eng.Name())
	}

	_, err = engines.Get("lua")
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err))
}

func TestExpr_SumsNumericStrings(t *testing.T) {
	e := NewExprEngine()
	out, err := e.Evaluate(context.Background(), "float(step[0]) + float(step[1])", stepData([]any{"1", "2.5"}))
	require.NoError(t, err)
	assert.Equal(t, 3.5, out)
}

func TestExpr_StringPayload(t *testing.T) {
	e := NewExprEngine()
	out, err := e.Evaluate(context.Background(), "upper(step)", stepData("hello"))
	require.NoError(t, err)
	assert.Equal(t, "HELLO", out)
}

func TestExpr_Errors(t *testing.T) {
	e := NewExprEngine()

	_, err := e.Evaluate(context.Background(), "", nil)
	assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err))

	err = e.Compile("1 +", nil)
	assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err))
}

func TestCEL_SumsNumericStrings(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	out, err := e.Evaluate(context.Background(), "double(args[0]) + double(args[1])", stepData([]any{"1", "2"}))
	require.NoError(t, err)
	assert.Equal(t, 3.0, out)
}

func TestCEL_Boolean(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	out, err := e.Evaluate(context.Background(), `size(step) > 3`, stepData("four"))
	require.NoError(t, err)
	assert.Equal(t, true, out)
}

func TestCEL_CompileError(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	err = e.Compile("unknown_var + 1")
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err))
}

func TestGoJQ_SumsNumericStrings(t *testing.T) {
	e := NewGoJQEngine()
	out, err := e.Evaluate(context.Background(), "(.step[0] | tonumber) + (.step[1] | tonumber)", stepData([]any{"1", "2"}))
	require.NoError(t, err)
	assert.Equal(t, 3.0, out)
}

func TestGoJQ_MultipleOutputs(t *testing.T) {
	e := NewGoJQEngine()
	out, err := e.Evaluate(context.Background(), ".args[]", stepData([]any{"a", "b"}))
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b"}, out)
}

func TestGoJQ_EnvBlocked(t *testing.T) {
	e := NewGoJQEngine()
	out, err := e.Evaluate(context.Background(), "$ENV", stepData(nil))
	require.NoError(t, err)

	m, ok := out.(map[string]any)
	require.True(t, ok)
	assert.Empty(t, m)
}

func TestGoJQ_RuntimeError(t *testing.T) {
	e := NewGoJQEngine()
	_, err := e.Evaluate(context.Background(), ".step | tonumber", stepData("blah"))
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeExecution, schema.CodeOf(err))
}

func TestEngines_ConcurrentCacheUse(t *testing.T) {
	engines, err := NewEngines()
	require.NoError(t, err)
	sources := map[string]string{
		"expr": "len(step)",
		"cel":  "size(step)",
		"jq":   ".step | length",
	}

	var wg sync.WaitGroup
	for name, src := range sources {
		eng, err := engines.Get(name)
		require.NoError(t, err)
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(eng Engine, src string) {
				defer wg.Done()
				_, err := eng.Evaluate(context.Background(), src, stepData("abcd"))
				assert.NoError(t, err)
			}(eng, src)
		}
	}
	wg.Wait()
}
