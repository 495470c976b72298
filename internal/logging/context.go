package logging

import (
	"context"
	"log/slog"
)

type ctxKey int

const (
	executionIDKey ctxKey = iota
	workflowKey
	taskKey
	stepKey
)

// WithExecutionID returns a context with the execution ID set.
func WithExecutionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, executionIDKey, id)
}

// WithWorkflow returns a context with the workflow name set.
func WithWorkflow(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, workflowKey, name)
}

// WithTask returns a context with the task name set.
func WithTask(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, taskKey, name)
}

// WithStep returns a context with the step index set.
func WithStep(ctx context.Context, index int) context.Context {
	return context.WithValue(ctx, stepKey, index)
}

// ExecutionID extracts the execution ID from the context, or "" if absent.
func ExecutionID(ctx context.Context) string {
	v, _ := ctx.Value(executionIDKey).(string)
	return v
}

// Workflow extracts the workflow name from the context, or "" if absent.
func Workflow(ctx context.Context) string {
	v, _ := ctx.Value(workflowKey).(string)
	return v
}

// Task extracts the task name from the context, or "" if absent.
func Task(ctx context.Context) string {
	v, _ := ctx.Value(taskKey).(string)
	return v
}

// Step extracts the step index from the context.
func Step(ctx context.Context) (int, bool) {
	v, ok := ctx.Value(stepKey).(int)
	return v, ok
}

// WithExecution sets the execution ID and workflow name at once.
func WithExecution(ctx context.Context, executionID, workflow string) context.Context {
	ctx = WithExecutionID(ctx, executionID)
	return WithWorkflow(ctx, workflow)
}

func attrs(ctx context.Context) []slog.Attr {
	var out []slog.Attr
	if v := ExecutionID(ctx); v != "" {
		out = append(out, slog.String("execution_id", v))
	}
	if v := Workflow(ctx); v != "" {
		out = append(out, slog.String("workflow", v))
	}
	if v := Task(ctx); v != "" {
		out = append(out, slog.String("task", v))
	}
	if v, ok := Step(ctx); ok {
		out = append(out, slog.Int("step", v))
	}
	return out
}

// LogWith returns a logger enriched with correlation IDs from the context.
// Only non-empty values are added as attributes.
func LogWith(ctx context.Context, logger *slog.Logger) *slog.Logger {
	for _, a := range attrs(ctx) {
		logger = logger.With(a)
	}
	return logger
}

// CorrelationHandler wraps an slog.Handler, injecting correlation IDs from
// the context into every record. Use with slog.New(NewCorrelationHandler(inner))
// so logger.InfoContext(ctx, ...) carries the IDs automatically.
type CorrelationHandler struct {
	inner slog.Handler
}

// NewCorrelationHandler wraps the given handler with automatic correlation ID injection.
func NewCorrelationHandler(inner slog.Handler) *CorrelationHandler {
	return &CorrelationHandler{inner: inner}
}

func (h *CorrelationHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *CorrelationHandler) Handle(ctx context.Context, r slog.Record) error {
	r.AddAttrs(attrs(ctx)...)
	return h.inner.Handle(ctx, r)
}

func (h *CorrelationHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithAttrs(attrs)}
}

func (h *CorrelationHandler) WithGroup(name string) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithGroup(name)}
}

// ParseLevel maps a config string to an slog level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
