package logging

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextKeys(t *testing.T) {
	ctx := context.Background()

	assert.Equal(t, "", ExecutionID(ctx))
	assert.Equal(t, "", Workflow(ctx))
	assert.Equal(t, "", Task(ctx))
	_, ok := Step(ctx)
	assert.False(t, ok)

	ctx = WithExecution(ctx, "exec-123", "greeting")
	ctx = WithTask(ctx, "hello_name")
	ctx = WithStep(ctx, 0)

	assert.Equal(t, "exec-123", ExecutionID(ctx))
	assert.Equal(t, "greeting", Workflow(ctx))
	assert.Equal(t, "hello_name", Task(ctx))
	step, ok := Step(ctx)
	assert.True(t, ok)
	assert.Equal(t, 0, step)
}

func TestLogWith(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	ctx := WithExecution(context.Background(), "exec-abc", "greeting")
	ctx = WithTask(ctx, "name")

	LogWith(ctx, logger).Info("test message")

	output := buf.String()
	assert.Contains(t, output, "execution_id=exec-abc")
	assert.Contains(t, output, "workflow=greeting")
	assert.Contains(t, output, "task=name")
	assert.NotContains(t, output, "step=")
	assert.Contains(t, output, "test message")
}

func TestLogWithEmptyContext(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	LogWith(context.Background(), logger).Info("no context")

	output := buf.String()
	assert.NotContains(t, output, "execution_id")
	assert.NotContains(t, output, "task=")
	assert.Contains(t, output, "no context")
}

func TestCorrelationHandler(t *testing.T) {
	var buf bytes.Buffer
	inner := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger := slog.New(NewCorrelationHandler(inner))

	ctx := WithExecution(context.Background(), "exec-auto", "wf")
	ctx = WithStep(WithTask(ctx, "check"), 2)
	logger.InfoContext(ctx, "auto inject")

	output := buf.String()
	assert.Contains(t, output, `"execution_id":"exec-auto"`)
	assert.Contains(t, output, `"task":"check"`)
	assert.Contains(t, output, `"step":2`)
	assert.Contains(t, output, "auto inject")
}

func TestCorrelationHandlerEmptyContext(t *testing.T) {
	var buf bytes.Buffer
	inner := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger := slog.New(NewCorrelationHandler(inner))

	logger.InfoContext(context.Background(), "bare log")

	output := buf.String()
	assert.NotContains(t, output, "execution_id")
	assert.NotContains(t, output, `"task"`)
	assert.Contains(t, output, "bare log")
}

func TestCorrelationHandlerWithAttrs(t *testing.T) {
	var buf bytes.Buffer
	inner := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	handler := NewCorrelationHandler(inner)
	logger := slog.New(handler.WithAttrs([]slog.Attr{slog.String("component", "engine")}))

	ctx := WithExecutionID(context.Background(), "exec-attr")
	logger.InfoContext(ctx, "with attrs")

	output := buf.String()
	assert.Contains(t, output, `"execution_id":"exec-attr"`)
	assert.Contains(t, output, `"component":"engine"`)
}

func TestCorrelationHandlerWithGroup(t *testing.T) {
	var buf bytes.Buffer
	inner := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger := slog.New(NewCorrelationHandler(inner).WithGroup("engine"))

	ctx := WithExecutionID(context.Background(), "exec-grp")
	logger.InfoContext(ctx, "grouped", "key", "val")

	output := buf.String()
	assert.Contains(t, output, "exec-grp")
	assert.Contains(t, output, "grouped")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
}
