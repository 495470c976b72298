package panel

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rendis/taskweave/internal/diagram"
	"github.com/rendis/taskweave/internal/service"
	"github.com/rendis/taskweave/internal/steps"
	"github.com/rendis/taskweave/internal/store"
	"github.com/rendis/taskweave/internal/streaming"
	"github.com/rendis/taskweave/pkg/schema"
)

// inlineWorkflow names executions of documents posted to /api/execute.
const inlineWorkflow = "inline"

func (s *PanelServer) handleIndex(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "taskweave",
		"version": s.deps.Version,
	})
}

func (s *PanelServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if _, err := s.deps.Runner.Store().ListWorkflows(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, fmt.Sprintf("store unavailable: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- Workflows ---

func (s *PanelServer) handleListWorkflows(w http.ResponseWriter, r *http.Request) {
	list, err := s.deps.Runner.Store().ListWorkflows(r.Context())
	if err != nil {
		writeCodedError(w, err)
		return
	}
	if list == nil {
		list = []*store.WorkflowSummary{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"workflows": list})
}

func (s *PanelServer) handleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	rec, err := s.deps.Runner.Store().GetWorkflow(r.Context(), r.PathValue("name"))
	if err != nil {
		writeCodedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handlePutWorkflow validates the JSON or YAML body and stores it. A
// rejected document answers 422 with every validation issue.
func (s *PanelServer) handlePutWorkflow(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	data, err := readBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := s.deps.Runner.SaveWorkflow(r.Context(), name, r.URL.Query().Get("description"), data)
	if err != nil {
		if result != nil && !result.Valid() {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
				"error":      err.Error(),
				"code":       schema.CodeOf(err),
				"validation": result,
			})
			return
		}
		writeCodedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"name":     name,
		"stored":   true,
		"warnings": result.Warnings,
	})
}

func (s *PanelServer) handleDeleteWorkflow(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := s.deps.Runner.Store().DeleteWorkflow(r.Context(), name); err != nil {
		writeCodedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "name": name})
}

type executeBody struct {
	Inputs map[string]any `json:"inputs"`
}

// handleExecuteWorkflow runs a stored workflow. A failed evaluation is still
// a 200: the result's status and error code say why.
func (s *PanelServer) handleExecuteWorkflow(w http.ResponseWriter, r *http.Request) {
	var body executeBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	inputs, err := stringMap(body.Inputs)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := s.deps.Runner.ExecuteStored(r.Context(), r.PathValue("name"), inputs)
	s.writeExecution(w, res, err)
}

// handleExecuteInline runs the JSON or YAML document in the body. Inputs
// come from query parameters.
func (s *PanelServer) handleExecuteInline(w http.ResponseWriter, r *http.Request) {
	data, err := readBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	wf, err := service.ParseDocument(data)
	if err != nil {
		writeCodedError(w, err)
		return
	}
	var inputs map[string]string
	if q := r.URL.Query(); len(q) > 0 {
		inputs = make(map[string]string, len(q))
		for k := range q {
			inputs[k] = q.Get(k)
		}
	}
	res, err := s.deps.Runner.Execute(r.Context(), inlineWorkflow, wf, inputs)
	s.writeExecution(w, res, err)
}

func (s *PanelServer) writeExecution(w http.ResponseWriter, res *service.ExecutionResult, err error) {
	if res == nil {
		writeCodedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *PanelServer) handleValidate(w http.ResponseWriter, r *http.Request) {
	v := s.deps.Runner.Validator()
	if v == nil {
		writeError(w, http.StatusServiceUnavailable, "validation is disabled")
		return
	}
	data, err := readBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	_, result := v.ValidateDocument(data)
	writeJSON(w, http.StatusOK, result)
}

// handleDiagram renders a stored workflow as ascii, mermaid, svg, png or
// dot. ?execution_id= overlays that execution's retained events.
func (s *PanelServer) handleDiagram(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := r.PathValue("name")
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "mermaid"
	}

	rec, err := s.deps.Runner.Store().GetWorkflow(ctx, name)
	if err != nil {
		writeCodedError(w, err)
		return
	}

	var events []streaming.Event
	if execID := r.URL.Query().Get("execution_id"); execID != "" {
		history, ok := s.deps.Hub.(streaming.HistorySource)
		if !ok {
			writeError(w, http.StatusServiceUnavailable, "execution history is not retained")
			return
		}
		events = history.History(streaming.EventFilter{ExecutionID: execID})
	}

	model, err := diagram.Build(rec.Workflow, name, events)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, fmt.Sprintf("diagram build failed: %v", err))
		return
	}

	switch format {
	case "ascii":
		writeText(w, "text/plain; charset=utf-8", []byte(diagram.RenderASCII(model)))
	case "mermaid":
		writeText(w, "text/plain; charset=utf-8", []byte(diagram.RenderMermaid(model)))
	case "svg", "png", "dot":
		s.writeGraphviz(ctx, w, model, diagram.Format(format))
	default:
		writeError(w, http.StatusBadRequest, "format must be ascii, mermaid, svg, png or dot")
	}
}

var graphvizContentTypes = map[diagram.Format]string{
	diagram.FormatPNG: "image/png",
	diagram.FormatSVG: "image/svg+xml",
	diagram.FormatDOT: "text/vnd.graphviz",
}

func (s *PanelServer) writeGraphviz(ctx context.Context, w http.ResponseWriter, model *diagram.DiagramModel, format diagram.Format) {
	data, err := diagram.RenderGraphviz(ctx, model, format)
	if err != nil {
		s.deps.Logger.ErrorContext(ctx, "diagram render failed", "format", format, "error", err)
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("render failed: %v", err))
		return
	}
	writeText(w, graphvizContentTypes[format], data)
}

func writeText(w http.ResponseWriter, contentType string, data []byte) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// --- Inputs ---

func (s *PanelServer) handleListInputs(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"inputs": s.deps.Runner.Inputs().Snapshot()})
}

func (s *PanelServer) handleSetInput(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	var body struct {
		Value any `json:"value"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	values, err := stringMap(map[string]any{key: body.Value})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.deps.Runner.SetInput(r.Context(), key, values[key]); err != nil {
		writeCodedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "key": key})
}

func (s *PanelServer) handleDeleteInput(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if !s.deps.Runner.DeleteInput(r.Context(), key) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("input %q is not set", key))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "key": key})
}

func (s *PanelServer) handleCheckInputs(w http.ResponseWriter, r *http.Request) {
	check, err := s.deps.Runner.CheckInputs(r.Context(), r.PathValue("name"))
	if err != nil {
		writeCodedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, check)
}

// --- Executors ---

func (s *PanelServer) handleListExecutors(w http.ResponseWriter, _ *http.Request) {
	infos := []steps.ExecutorInfo{}
	if s.deps.Registry != nil {
		infos = s.deps.Registry.List()
	}
	writeJSON(w, http.StatusOK, map[string]any{"executors": infos})
}

// handleDefineExecutor registers a user step executor from a Definition body.
func (s *PanelServer) handleDefineExecutor(w http.ResponseWriter, r *http.Request) {
	if s.deps.Resolver == nil {
		writeError(w, http.StatusServiceUnavailable, "executor definitions are disabled")
		return
	}
	var def steps.Definition
	if err := decodeJSON(r, &def); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	def.Origin = steps.OriginUser
	if v := s.deps.Runner.Validator(); v != nil {
		if err := v.ValidateExecutor(&def); err != nil {
			writeCodedError(w, err)
			return
		}
	}
	exec, err := s.deps.Resolver.Define(r.Context(), def)
	if err != nil {
		writeCodedError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"kind":   exec.Kind(),
		"origin": exec.Origin(),
		"engine": def.Engine,
	})
}

// --- Scheduler ---

func (s *PanelServer) handleListJobs(w http.ResponseWriter, r *http.Request) {
	filter := store.ScheduledJobFilter{
		Workflow: r.URL.Query().Get("workflow"),
		Limit:    queryInt(r, "limit", 50),
	}
	if v := r.URL.Query().Get("enabled"); v != "" {
		enabled := queryBool(r, "enabled")
		filter.Enabled = &enabled
	}
	jobs, err := s.deps.Runner.Store().ListScheduledJobs(r.Context(), filter)
	if err != nil {
		writeCodedError(w, err)
		return
	}
	if jobs == nil {
		jobs = []*store.ScheduledJob{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

// handleCreateJob creates a new scheduled job.
func (s *PanelServer) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	if s.deps.Scheduler == nil {
		writeError(w, http.StatusServiceUnavailable, "scheduling is disabled")
		return
	}
	ctx := r.Context()

	var body struct {
		Workflow       string         `json:"workflow"`
		CronExpression string         `json:"cron_expression"`
		Inputs         map[string]any `json:"inputs"`
		Enabled        *bool          `json:"enabled"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if body.Workflow == "" || body.CronExpression == "" {
		writeError(w, http.StatusBadRequest, "workflow and cron_expression are required")
		return
	}
	inputs, err := stringMap(body.Inputs)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, err := s.deps.Runner.Store().GetWorkflow(ctx, body.Workflow); err != nil {
		writeCodedError(w, err)
		return
	}

	job := &store.ScheduledJob{
		Workflow:       body.Workflow,
		CronExpression: body.CronExpression,
		Inputs:         inputs,
		Enabled:        body.Enabled == nil || *body.Enabled,
	}
	if err := s.deps.Scheduler.Schedule(ctx, job); err != nil {
		writeCodedError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, job)
}

// handleUpdateJob enables or disables a scheduled job.
func (s *PanelServer) handleUpdateJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")

	var body struct {
		Enabled *bool `json:"enabled"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if body.Enabled == nil {
		writeError(w, http.StatusBadRequest, "enabled is required")
		return
	}

	if err := s.deps.Runner.Store().UpdateScheduledJob(r.Context(), jobID, store.ScheduledJobUpdate{
		Enabled: body.Enabled,
	}); err != nil {
		writeCodedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "id": jobID})
}

// handleDeleteJob deletes a scheduled job.
func (s *PanelServer) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if err := s.deps.Runner.Store().DeleteScheduledJob(r.Context(), jobID); err != nil {
		writeCodedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "id": jobID})
}
