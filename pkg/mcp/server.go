package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/taskweave/internal/scheduler"
	"github.com/rendis/taskweave/internal/service"
	"github.com/rendis/taskweave/internal/steps"
	"github.com/rendis/taskweave/internal/streaming"
	"github.com/rendis/taskweave/internal/synthesis"
)

// ServerDeps holds the dependencies for creating a WeaveServer. Resolver,
// Registry and Scheduler are optional; their tools report an error when
// absent.
type ServerDeps struct {
	Runner    *service.Runner
	Resolver  *synthesis.CatalogResolver
	Registry  *steps.Registry
	Scheduler *scheduler.Scheduler
	Hub       streaming.EventHub
	Logger    *slog.Logger
	Version   string
}

// WeaveServer wraps an MCP server with taskweave tool handlers.
type WeaveServer struct {
	runner    *service.Runner
	resolver  *synthesis.CatalogResolver
	registry  *steps.Registry
	scheduler *scheduler.Scheduler
	hub       streaming.EventHub
	sessions  *SessionRegistry
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// NewWeaveServer creates a WeaveServer with all tools registered.
func NewWeaveServer(deps ServerDeps) *WeaveServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	version := deps.Version
	if version == "" {
		version = "dev"
	}

	s := &WeaveServer{
		runner:    deps.Runner,
		resolver:  deps.Resolver,
		registry:  deps.Registry,
		scheduler: deps.Scheduler,
		hub:       deps.Hub,
		sessions:  NewSessionRegistry(),
		logger:    logger,
	}

	hooks := &server.Hooks{}
	hooks.AddOnUnregisterSession(func(_ context.Context, session server.ClientSession) {
		s.sessions.Remove(session.SessionID())
	})

	mcpSrv := server.NewMCPServer(
		"taskweave",
		version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithHooks(hooks),
		server.WithInstructions("taskweave evaluates workflows of named tasks that reference each other with ${task} and read inputs with @{key}. "+
			"Use workflow.update to store a workflow, workflow.execute to run it, input.set to provide inputs, "+
			"executor.define to add custom step kinds and workflow.diagram to visualize the task graph."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *WeaveServer) Serve(ctx context.Context) error {
	if s.hub != nil {
		go NewNotifier(s.mcpServer, s.sessions, s.logger).Run(ctx, s.hub)
	}
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *WeaveServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// Sessions returns the event subscription registry.
func (s *WeaveServer) Sessions() *SessionRegistry {
	return s.sessions
}

func (s *WeaveServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: executeTool(), Handler: s.handleExecute},
		{Tool: listTool(), Handler: s.handleList},
		{Tool: getTool(), Handler: s.handleGet},
		{Tool: updateTool(), Handler: s.handleUpdate},
		{Tool: validateTool(), Handler: s.handleValidate},
		{Tool: diagramTool(), Handler: s.handleDiagram},
		{Tool: inputSetTool(), Handler: s.handleInputSet},
		{Tool: inputDeleteTool(), Handler: s.handleInputDelete},
		{Tool: inputCheckTool(), Handler: s.handleInputCheck},
		{Tool: executorDefineTool(), Handler: s.handleExecutorDefine},
		{Tool: executorListTool(), Handler: s.handleExecutorList},
		{Tool: scheduleCreateTool(), Handler: s.handleScheduleCreate},
		{Tool: scheduleListTool(), Handler: s.handleScheduleList},
		{Tool: subscribeTool(), Handler: s.handleSubscribe},
	}
}

// --- Tool definitions ---

func executeTool() mcp.Tool {
	return mcp.NewTool("workflow.execute",
		mcp.WithDescription("Evaluate a stored workflow, or an inline document, and return its result"),
		mcp.WithString("name", mcp.Description("Name of a stored workflow")),
		mcp.WithString("document", mcp.Description("Inline JSON or YAML workflow document (instead of name)")),
		mcp.WithObject("inputs", mcp.Description("Input values for this execution only; they shadow the shared inputs")),
	)
}

func listTool() mcp.Tool {
	return mcp.NewTool("workflow.list",
		mcp.WithDescription("List stored workflows"),
	)
}

func getTool() mcp.Tool {
	return mcp.NewTool("workflow.get",
		mcp.WithDescription("Get a stored workflow document"),
		mcp.WithString("name", mcp.Required(), mcp.Description("Workflow name")),
	)
}

func updateTool() mcp.Tool {
	return mcp.NewTool("workflow.update",
		mcp.WithDescription("Validate and store a workflow document under a name, replacing any previous version"),
		mcp.WithString("name", mcp.Required(), mcp.Description("Workflow name")),
		mcp.WithString("document", mcp.Required(), mcp.Description("JSON or YAML workflow document")),
		mcp.WithString("description", mcp.Description("Workflow description")),
	)
}

func validateTool() mcp.Tool {
	return mcp.NewTool("workflow.validate",
		mcp.WithDescription("Validate a workflow document without storing it"),
		mcp.WithString("document", mcp.Required(), mcp.Description("JSON or YAML workflow document")),
	)
}

func diagramTool() mcp.Tool {
	return mcp.NewTool("workflow.diagram",
		mcp.WithDescription("Generate a diagram of a workflow's task graph. Returns ASCII art, Mermaid flowchart syntax, or a PNG image"),
		mcp.WithString("name", mcp.Description("Name of a stored workflow")),
		mcp.WithString("document", mcp.Description("Inline JSON or YAML workflow document (instead of name)")),
		mcp.WithString("format", mcp.Required(),
			mcp.Enum("ascii", "mermaid", "image"),
			mcp.Description("Output format: ascii (text), mermaid (flowchart syntax), or image (PNG)"),
		),
		mcp.WithString("execution_id", mcp.Description("Overlay the recorded status of this execution")),
	)
}

func inputSetTool() mcp.Tool {
	return mcp.NewTool("input.set",
		mcp.WithDescription("Set a shared input value read by @{key} references"),
		mcp.WithString("key", mcp.Required(), mcp.Description("Input key ([A-Za-z0-9_]+)")),
		mcp.WithString("value", mcp.Required(), mcp.Description("Input value")),
	)
}

func inputDeleteTool() mcp.Tool {
	return mcp.NewTool("input.delete",
		mcp.WithDescription("Remove a shared input value"),
		mcp.WithString("key", mcp.Required(), mcp.Description("Input key")),
	)
}

func inputCheckTool() mcp.Tool {
	return mcp.NewTool("input.check",
		mcp.WithDescription("List the inputs a stored workflow references and which of them are not set"),
		mcp.WithString("name", mcp.Required(), mcp.Description("Workflow name")),
	)
}

func executorDefineTool() mcp.Tool {
	return mcp.NewTool("executor.define",
		mcp.WithDescription("Define an executor for a custom step kind from an expression or Go source"),
		mcp.WithString("kind", mcp.Required(), mcp.Description("Step tag the executor handles")),
		mcp.WithString("engine", mcp.Required(), mcp.Enum("expr", "cel", "jq", "go"), mcp.Description("Evaluation engine")),
		mcp.WithString("source", mcp.Required(), mcp.Description("Expression or Go source evaluated against the step bindings")),
		mcp.WithString("description", mcp.Description("What the executor does")),
		mcp.WithString("example", mcp.Description("Sample step payload as JSON; the executor must accept it")),
	)
}

func executorListTool() mcp.Tool {
	return mcp.NewTool("executor.list",
		mcp.WithDescription("List registered step executors"),
	)
}

func scheduleCreateTool() mcp.Tool {
	return mcp.NewTool("schedule.create",
		mcp.WithDescription("Run a stored workflow on a cron schedule"),
		mcp.WithString("workflow", mcp.Required(), mcp.Description("Workflow name")),
		mcp.WithString("cron", mcp.Required(), mcp.Description("Five-field cron expression or descriptor such as @hourly")),
		mcp.WithObject("inputs", mcp.Description("Input values for every scheduled execution")),
	)
}

func scheduleListTool() mcp.Tool {
	return mcp.NewTool("schedule.list",
		mcp.WithDescription("List scheduled jobs"),
		mcp.WithString("workflow", mcp.Description("Only jobs of this workflow")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of jobs (default 50)")),
	)
}

func subscribeTool() mcp.Tool {
	return mcp.NewTool("events.subscribe",
		mcp.WithDescription("Receive debug events of a workflow as notifications on this session"),
		mcp.WithString("workflow", mcp.Required(), mcp.Description("Workflow name, or * for every workflow")),
	)
}
