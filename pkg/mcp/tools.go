package mcp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cast"

	"github.com/rendis/taskweave/internal/diagram"
	"github.com/rendis/taskweave/internal/service"
	"github.com/rendis/taskweave/internal/steps"
	"github.com/rendis/taskweave/internal/store"
	"github.com/rendis/taskweave/internal/streaming"
	"github.com/rendis/taskweave/pkg/schema"
)

// inlineWorkflow names executions of documents passed to workflow.execute.
const inlineWorkflow = "inline"

// handleExecute evaluates a stored or inline workflow.
func (s *WeaveServer) handleExecute(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name := req.GetString("name", "")
	document := req.GetString("document", "")
	if name == "" && document == "" {
		return mcp.NewToolResultError("one of name or document is required"), nil
	}
	inputs, err := stringMap(req, "inputs")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var res *service.ExecutionResult
	if document != "" {
		wf, parseErr := service.ParseDocument([]byte(document))
		if parseErr != nil {
			return errorResult(parseErr), nil
		}
		if name == "" {
			name = inlineWorkflow
		}
		res, err = s.runner.Execute(ctx, name, wf, inputs)
	} else {
		res, err = s.runner.ExecuteStored(ctx, name, inputs)
	}
	if res == nil {
		return errorResult(err), nil
	}
	// A failed evaluation is still a result: status and error code say why.
	return marshalResult(res)
}

func (s *WeaveServer) handleList(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	list, err := s.runner.Store().ListWorkflows(ctx)
	if err != nil {
		return errorResult(err), nil
	}
	return marshalResult(map[string]any{"workflows": list})
}

func (s *WeaveServer) handleGet(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError("name is required"), nil
	}
	rec, err := s.runner.Store().GetWorkflow(ctx, name)
	if err != nil {
		return errorResult(err), nil
	}
	return marshalResult(rec)
}

// handleUpdate validates and stores a document. Rejected documents return
// the validation issues alongside the error.
func (s *WeaveServer) handleUpdate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError("name is required"), nil
	}
	document, err := req.RequireString("document")
	if err != nil {
		return mcp.NewToolResultError("document is required"), nil
	}

	result, err := s.runner.SaveWorkflow(ctx, name, req.GetString("description", ""), []byte(document))
	if err != nil {
		if result != nil {
			return validationError(err, result), nil
		}
		return errorResult(err), nil
	}
	return marshalResult(map[string]any{
		"name":     name,
		"stored":   true,
		"warnings": result.Warnings,
	})
}

func (s *WeaveServer) handleValidate(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	document, err := req.RequireString("document")
	if err != nil {
		return mcp.NewToolResultError("document is required"), nil
	}
	v := s.runner.Validator()
	if v == nil {
		return mcp.NewToolResultError("validation is disabled"), nil
	}
	_, result := v.ValidateDocument([]byte(document))
	return marshalResult(result)
}

// handleDiagram renders the task graph of a stored or inline workflow.
func (s *WeaveServer) handleDiagram(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	format, err := req.RequireString("format")
	if err != nil {
		return mcp.NewToolResultError("format is required"), nil
	}
	if format != "ascii" && format != "mermaid" && format != "image" {
		return mcp.NewToolResultError("format must be ascii, mermaid, or image"), nil
	}

	name := req.GetString("name", "")
	document := req.GetString("document", "")
	var wf *schema.Workflow
	switch {
	case document != "":
		if wf, err = service.ParseDocument([]byte(document)); err != nil {
			return errorResult(err), nil
		}
	case name != "":
		rec, getErr := s.runner.Store().GetWorkflow(ctx, name)
		if getErr != nil {
			return errorResult(getErr), nil
		}
		wf = rec.Workflow
	default:
		return mcp.NewToolResultError("one of name or document is required"), nil
	}

	var events []streaming.Event
	if execID := req.GetString("execution_id", ""); execID != "" {
		history, ok := s.hub.(streaming.HistorySource)
		if !ok {
			return mcp.NewToolResultError("execution history is not retained"), nil
		}
		events = history.History(streaming.EventFilter{ExecutionID: execID})
	}

	title := name
	if title == "" {
		title = inlineWorkflow
	}
	model, err := diagram.Build(wf, title, events)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("diagram build failed: %v", err)), nil
	}

	switch format {
	case "ascii":
		return mcp.NewToolResultText(diagram.RenderASCII(model)), nil
	case "mermaid":
		return mcp.NewToolResultText(diagram.RenderMermaid(model)), nil
	default:
		png, imgErr := diagram.RenderImage(ctx, model)
		if imgErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("image render failed: %v", imgErr)), nil
		}
		return mcp.NewToolResultImage(title, base64.StdEncoding.EncodeToString(png), "image/png"), nil
	}
}

func (s *WeaveServer) handleInputSet(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	key, err := req.RequireString("key")
	if err != nil {
		return mcp.NewToolResultError("key is required"), nil
	}
	value, err := req.RequireString("value")
	if err != nil {
		return mcp.NewToolResultError("value is required"), nil
	}
	if err := s.runner.SetInput(ctx, key, value); err != nil {
		return errorResult(err), nil
	}
	return marshalResult(map[string]any{"ok": true, "key": key})
}

func (s *WeaveServer) handleInputDelete(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	key, err := req.RequireString("key")
	if err != nil {
		return mcp.NewToolResultError("key is required"), nil
	}
	return marshalResult(map[string]any{"key": key, "deleted": s.runner.DeleteInput(ctx, key)})
}

func (s *WeaveServer) handleInputCheck(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError("name is required"), nil
	}
	check, err := s.runner.CheckInputs(ctx, name)
	if err != nil {
		return errorResult(err), nil
	}
	return marshalResult(check)
}

// handleExecutorDefine checks the definition against its JSON schema,
// compiles it, runs it on the example and registers it.
func (s *WeaveServer) handleExecutorDefine(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.resolver == nil {
		return mcp.NewToolResultError("executor definitions are disabled"), nil
	}
	def := steps.Definition{
		Kind:        req.GetString("kind", ""),
		Engine:      req.GetString("engine", ""),
		Source:      req.GetString("source", ""),
		Description: req.GetString("description", ""),
		Origin:      steps.OriginUser,
	}
	if raw := req.GetString("example", ""); raw != "" {
		if err := json.Unmarshal([]byte(raw), &def.Example); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("example is not valid JSON: %v", err)), nil
		}
	}
	if v := s.runner.Validator(); v != nil {
		if err := v.ValidateExecutor(&def); err != nil {
			return errorResult(err), nil
		}
	}

	exec, err := s.resolver.Define(ctx, def)
	if err != nil {
		return errorResult(err), nil
	}
	return marshalResult(map[string]any{
		"kind":   exec.Kind(),
		"origin": exec.Origin(),
		"engine": def.Engine,
	})
}

func (s *WeaveServer) handleExecutorList(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.registry == nil {
		return marshalResult(map[string]any{"executors": []steps.ExecutorInfo{}})
	}
	return marshalResult(map[string]any{"executors": s.registry.List()})
}

func (s *WeaveServer) handleScheduleCreate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.scheduler == nil {
		return mcp.NewToolResultError("scheduling is disabled"), nil
	}
	workflow, err := req.RequireString("workflow")
	if err != nil {
		return mcp.NewToolResultError("workflow is required"), nil
	}
	cronExpr, err := req.RequireString("cron")
	if err != nil {
		return mcp.NewToolResultError("cron is required"), nil
	}
	inputs, err := stringMap(req, "inputs")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if _, err := s.runner.Store().GetWorkflow(ctx, workflow); err != nil {
		return errorResult(err), nil
	}

	job := &store.ScheduledJob{
		Workflow:       workflow,
		CronExpression: cronExpr,
		Inputs:         inputs,
		Enabled:        true,
	}
	if err := s.scheduler.Schedule(ctx, job); err != nil {
		return errorResult(err), nil
	}
	return marshalResult(job)
}

func (s *WeaveServer) handleScheduleList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	filter := store.ScheduledJobFilter{
		Workflow: req.GetString("workflow", ""),
		Limit:    extractInt(req.GetArguments(), "limit", 50),
	}
	jobs, err := s.runner.Store().ListScheduledJobs(ctx, filter)
	if err != nil {
		return errorResult(err), nil
	}
	return marshalResult(map[string]any{"jobs": jobs})
}

func (s *WeaveServer) handleSubscribe(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workflow, err := req.RequireString("workflow")
	if err != nil {
		return mcp.NewToolResultError("workflow is required"), nil
	}
	session := server.ClientSessionFromContext(ctx)
	if session == nil {
		return mcp.NewToolResultError("events.subscribe needs a session"), nil
	}
	s.sessions.Register(workflow, session.SessionID())
	return marshalResult(map[string]any{"ok": true, "workflow": workflow})
}

// --- Internal helpers ---

// stringMap reads an object argument whose values are coerced to strings.
func stringMap(req mcp.CallToolRequest, key string) (map[string]string, error) {
	raw := mcp.ParseStringMap(req, key, nil)
	if raw == nil {
		return nil, nil
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		str, err := cast.ToStringE(v)
		if err != nil {
			return nil, fmt.Errorf("%s.%s must be a scalar", key, k)
		}
		out[k] = str
	}
	return out, nil
}

// extractInt safely extracts an integer from an argument map.
func extractInt(args map[string]any, key string, defaultVal int) int {
	v, ok := args[key]
	if !ok {
		return defaultVal
	}
	n, err := cast.ToIntE(v)
	if err != nil {
		return defaultVal
	}
	return n
}

// errorResult reports err with its error code, when it has one.
func errorResult(err error) *mcp.CallToolResult {
	if err == nil {
		return mcp.NewToolResultError("unknown error")
	}
	var wErr *schema.WeaveError
	if errors.As(err, &wErr) {
		return mcp.NewToolResultError(fmt.Sprintf("%s: %s", wErr.Code, wErr.Message))
	}
	return mcp.NewToolResultError(err.Error())
}

// validationError reports a rejected document with every issue.
func validationError(err error, result *schema.ValidationResult) *mcp.CallToolResult {
	data, mErr := json.Marshal(result)
	if mErr != nil {
		return errorResult(err)
	}
	return mcp.NewToolResultError(fmt.Sprintf("%s\n%s", err.Error(), data))
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
