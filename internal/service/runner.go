package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/taskweave/internal/engine"
	"github.com/rendis/taskweave/internal/expressions"
	"github.com/rendis/taskweave/internal/logging"
	"github.com/rendis/taskweave/internal/metrics"
	"github.com/rendis/taskweave/internal/store"
	"github.com/rendis/taskweave/internal/streaming"
	"github.com/rendis/taskweave/internal/validation"
	"github.com/rendis/taskweave/pkg/schema"
)

// Config wires the Runner's collaborators. Only Store is required.
type Config struct {
	Store     store.Store
	Inputs    *expressions.MapInputs
	Resolver  engine.StepResolver
	Validator *validation.WorkflowValidator
	Hub       streaming.EventHub
	Metrics   *metrics.Metrics
	Logger    *slog.Logger

	// Timeout bounds one execution; zero means no limit.
	Timeout           time.Duration
	DisableCycleCheck bool
}

// Runner owns the process-wide input context and executes workflows, stored
// or inline, publishing their debug events.
type Runner struct {
	cfg       Config
	inputs    *expressions.MapInputs
	observers engine.MultiObserver
	logger    *slog.Logger
}

// ExecutionResult is the outcome of one workflow execution.
type ExecutionResult struct {
	ExecutionID string                 `json:"execution_id"`
	Workflow    string                 `json:"workflow,omitempty"`
	Status      schema.ExecutionStatus `json:"status"`
	Output      schema.TaskOutput      `json:"output,omitempty"`
	// Result is Output in its textual form.
	Result     string    `json:"result"`
	Error      string    `json:"error,omitempty"`
	ErrorCode  string    `json:"error_code,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	DurationMS int64     `json:"duration_ms"`
}

// NewRunner creates a Runner.
func NewRunner(cfg Config) *Runner {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Inputs == nil {
		cfg.Inputs = expressions.NewMapInputs(nil)
	}
	var observers engine.MultiObserver
	if cfg.Hub != nil {
		observers = append(observers, streaming.NewHubObserver(cfg.Hub, cfg.Logger))
	}
	if cfg.Metrics != nil {
		observers = append(observers, cfg.Metrics.Observer())
	}
	return &Runner{
		cfg:       cfg,
		inputs:    cfg.Inputs,
		observers: observers,
		logger:    cfg.Logger,
	}
}

// Inputs returns the shared input context.
func (r *Runner) Inputs() *expressions.MapInputs { return r.inputs }

// Store returns the backing store.
func (r *Runner) Store() store.Store { return r.cfg.Store }

// Validator returns the configured validator, or nil.
func (r *Runner) Validator() *validation.WorkflowValidator { return r.cfg.Validator }

// Execute evaluates wf. overrides shadow the shared inputs for this run
// only. A failed evaluation is reported in the result and returned as err.
func (r *Runner) Execute(ctx context.Context, name string, wf *schema.Workflow, overrides map[string]string) (*ExecutionResult, error) {
	if r.cfg.Validator != nil {
		if err := r.cfg.Validator.Validate(wf).ToError(); err != nil {
			return nil, err
		}
	}

	execID := uuid.NewString()
	ctx = logging.WithExecution(ctx, execID, name)
	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}

	var inputs expressions.InputContext = r.inputs
	if len(overrides) > 0 {
		inputs = layeredInputs{over: expressions.StaticInputs(overrides), base: r.inputs}
	}

	cfg := engine.Config{
		StepResolver:      r.cfg.Resolver,
		Logger:            r.logger,
		DisableCycleCheck: r.cfg.DisableCycleCheck,
	}
	if len(r.observers) > 0 {
		cfg.Observer = r.observers
	}
	ev := engine.NewEvaluator(inputs, cfg)

	r.publish(ctx, schema.EventWorkflowStarted, map[string]any{"entry_point": wf.EntryPoint})
	r.logger.InfoContext(ctx, "executing workflow", "entry_point", wf.EntryPoint)

	start := time.Now()
	out, err := ev.EvaluateWorkflow(ctx, wf)
	elapsed := time.Since(start)

	res := &ExecutionResult{
		ExecutionID: execID,
		Workflow:    name,
		StartedAt:   start.UTC(),
		DurationMS:  elapsed.Milliseconds(),
	}
	if err != nil {
		res.Status = schema.ExecutionStatusFailed
		res.Error = err.Error()
		res.ErrorCode = schema.CodeOf(err)
		r.cfg.Metrics.ObserveExecution(name, res.Status, elapsed)
		r.logger.WarnContext(ctx, "workflow failed", "error", err, "duration", elapsed)
		return res, err
	}

	res.Status = schema.ExecutionStatusCompleted
	res.Output = out
	res.Result = schema.Stringify(out)
	r.cfg.Metrics.ObserveExecution(name, res.Status, elapsed)
	r.logger.InfoContext(ctx, "workflow completed", "duration", elapsed)
	return res, nil
}

// ExecuteStored loads the named workflow from the store and executes it.
func (r *Runner) ExecuteStored(ctx context.Context, name string, overrides map[string]string) (*ExecutionResult, error) {
	rec, err := r.cfg.Store.GetWorkflow(ctx, name)
	if err != nil {
		return nil, err
	}
	return r.Execute(ctx, name, rec.Workflow, overrides)
}

// SaveWorkflow validates a JSON or YAML document and stores it under name.
// The validation result is returned even when the document is rejected.
func (r *Runner) SaveWorkflow(ctx context.Context, name, description string, data []byte) (*schema.ValidationResult, error) {
	var (
		wf     *schema.Workflow
		result *schema.ValidationResult
	)
	if r.cfg.Validator != nil {
		wf, result = r.cfg.Validator.ValidateDocument(data)
		if err := result.ToError(); err != nil {
			return result, err
		}
	} else {
		var err error
		if wf, err = ParseDocument(data); err != nil {
			return nil, err
		}
		result = &schema.ValidationResult{}
	}

	rec := &store.WorkflowRecord{Name: name, Description: description, Workflow: wf}
	if err := r.cfg.Store.PutWorkflow(ctx, rec); err != nil {
		return result, err
	}
	r.logger.InfoContext(ctx, "workflow saved", "workflow", name, "tasks", len(wf.Tasks))
	return result, nil
}

// SetInput sets an input value and announces it on the debug stream.
func (r *Runner) SetInput(ctx context.Context, key, value string) error {
	if !expressions.IsValidName(key) {
		return schema.NewErrorf(schema.ErrCodeValidation, "input key %q must match [A-Za-z0-9_]+", key)
	}
	r.inputs.Set(key, value)
	r.publish(ctx, schema.EventInputSet, map[string]any{"key": key, "value": value})
	return nil
}

// DeleteInput removes an input value. It reports whether the key was set.
func (r *Runner) DeleteInput(ctx context.Context, key string) bool {
	if !r.inputs.Delete(key) {
		return false
	}
	r.publish(ctx, schema.EventInputDelete, map[string]any{"key": key})
	return true
}

// CheckInputs reports which inputs the stored workflow references and which
// of those are not currently set. An unset input resolves to "".
func (r *Runner) CheckInputs(ctx context.Context, name string) (*InputCheck, error) {
	rec, err := r.cfg.Store.GetWorkflow(ctx, name)
	if err != nil {
		return nil, err
	}
	check := &InputCheck{Workflow: name, Referenced: ReferencedInputs(rec.Workflow), Missing: []string{}}
	for _, key := range check.Referenced {
		if _, ok := r.inputs.Lookup(key); !ok {
			check.Missing = append(check.Missing, key)
		}
	}
	return check, nil
}

func (r *Runner) publish(ctx context.Context, eventType string, payload map[string]any) {
	if r.cfg.Hub == nil {
		return
	}
	ev := streaming.NewEvent(ctx, eventType)
	ev.Payload = payload
	if err := r.cfg.Hub.Publish(context.WithoutCancel(ctx), ev); err != nil {
		r.logger.WarnContext(ctx, "debug event dropped", "type", eventType, "error", err)
	}
}

// ParseDocument decodes a JSON or YAML workflow document without validation.
func ParseDocument(data []byte) (*schema.Workflow, error) {
	if schema.LooksLikeJSON(data) {
		return schema.ParseWorkflow(data)
	}
	return schema.ParseWorkflowYAML(data)
}

// ReferencedInputs lists the distinct @{key} references of wf, sorted.
func ReferencedInputs(wf *schema.Workflow) []string {
	var values []any
	for _, name := range wf.TaskNames() {
		task := wf.Tasks[name]
		for _, step := range task.Steps {
			values = append(values, step.Payload())
		}
		if task.HasOutput() {
			values = append(values, task.Output)
		}
	}
	return expressions.InputReferences(values)
}

// Describe renders a one-line summary of res for logs and the CLI.
func (res *ExecutionResult) Describe() string {
	if res.Status == schema.ExecutionStatusFailed {
		return fmt.Sprintf("%s failed after %dms: %s", res.ExecutionID, res.DurationMS, res.Error)
	}
	return fmt.Sprintf("%s completed in %dms: %s", res.ExecutionID, res.DurationMS, res.Result)
}
