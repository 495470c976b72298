package panel

import (
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/rendis/taskweave/internal/metrics"
	"github.com/rendis/taskweave/internal/scheduler"
	"github.com/rendis/taskweave/internal/service"
	"github.com/rendis/taskweave/internal/steps"
	"github.com/rendis/taskweave/internal/streaming"
	"github.com/rendis/taskweave/internal/synthesis"
)

// PanelDeps holds the dependencies for the panel server. Only Runner is
// required; routes backed by a missing dependency answer 503.
type PanelDeps struct {
	Runner    *service.Runner
	Scheduler *scheduler.Scheduler
	Registry  *steps.Registry
	Resolver  *synthesis.CatalogResolver
	Hub       streaming.EventHub
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
	Version   string
}

// PanelServer serves the HTTP management API: workflows, inputs, executors,
// schedules, diagrams and the live debug stream.
type PanelServer struct {
	deps PanelDeps
}

// NewPanelServer creates a new PanelServer.
func NewPanelServer(deps PanelDeps) *PanelServer {
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	if deps.Version == "" {
		deps.Version = "dev"
	}
	return &PanelServer{deps: deps}
}

// Handler returns the HTTP handler for the panel routes.
func (s *PanelServer) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", s.deps.Metrics.Handler())

	// Workflows.
	mux.HandleFunc("GET /api/workflows", s.handleListWorkflows)
	mux.HandleFunc("GET /api/workflows/{name}", s.handleGetWorkflow)
	mux.HandleFunc("PUT /api/workflows/{name}", s.handlePutWorkflow)
	mux.HandleFunc("DELETE /api/workflows/{name}", s.handleDeleteWorkflow)
	mux.HandleFunc("POST /api/workflows/{name}/execute", s.handleExecuteWorkflow)
	mux.HandleFunc("GET /api/workflows/{name}/diagram", s.handleDiagram)
	mux.HandleFunc("POST /api/execute", s.handleExecuteInline)
	mux.HandleFunc("POST /api/validate", s.handleValidate)

	// Inputs.
	mux.HandleFunc("GET /api/inputs", s.handleListInputs)
	mux.HandleFunc("PUT /api/inputs/{key}", s.handleSetInput)
	mux.HandleFunc("DELETE /api/inputs/{key}", s.handleDeleteInput)
	mux.HandleFunc("GET /api/inputs/check/{name}", s.handleCheckInputs)

	mux.HandleFunc("GET /api/executors", s.handleListExecutors)
	mux.HandleFunc("POST /api/executors", s.handleDefineExecutor)

	// Scheduler.
	mux.HandleFunc("GET /api/scheduler", s.handleListJobs)
	mux.HandleFunc("POST /api/scheduler", s.handleCreateJob)
	mux.HandleFunc("PUT /api/scheduler/{id}", s.handleUpdateJob)
	mux.HandleFunc("DELETE /api/scheduler/{id}", s.handleDeleteJob)

	// SSE streams.
	mux.HandleFunc("GET /sse/events", s.handleSSEGlobal)
	mux.HandleFunc("GET /sse/workflows/{name}", s.handleSSEWorkflow)
	mux.HandleFunc("GET /sse/executions/{id}", s.handleSSEExecution)

	return s.instrument(mux)
}

// instrument counts and logs every request by its matched route pattern.
func (s *PanelServer) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		s.deps.Metrics.HTTPRequest(route, rec.code)
		s.deps.Logger.DebugContext(r.Context(), "panel request",
			"route", route,
			"path", r.URL.Path,
			"code", rec.code,
			"duration", time.Since(start),
		)
	})
}

// statusRecorder captures the response code. It forwards Flush so SSE
// streams keep working behind the middleware.
type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
