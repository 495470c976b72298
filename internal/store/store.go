package store

import (
	"context"

	"github.com/rendis/taskweave/internal/steps"
)

// Store defines the persistence layer contract: workflow documents by name,
// executor definitions by step kind, and scheduled jobs. Execution results
// are not persisted.
// All implementations must be safe for concurrent use.
type Store interface {
	// Workflows
	PutWorkflow(ctx context.Context, rec *WorkflowRecord) error
	GetWorkflow(ctx context.Context, name string) (*WorkflowRecord, error)
	ListWorkflows(ctx context.Context) ([]*WorkflowSummary, error)
	DeleteWorkflow(ctx context.Context, name string) error

	// Executor definitions
	SaveExecutor(ctx context.Context, def *steps.Definition) error
	GetExecutor(ctx context.Context, kind string) (*steps.Definition, error)
	ListExecutors(ctx context.Context) ([]*steps.Definition, error)
	DeleteExecutor(ctx context.Context, kind string) error

	// Scheduled Jobs
	CreateScheduledJob(ctx context.Context, job *ScheduledJob) error
	GetScheduledJob(ctx context.Context, id string) (*ScheduledJob, error)
	UpdateScheduledJob(ctx context.Context, id string, update ScheduledJobUpdate) error
	ListScheduledJobs(ctx context.Context, filter ScheduledJobFilter) ([]*ScheduledJob, error)
	DeleteScheduledJob(ctx context.Context, id string) error

	// Maintenance
	Migrate(ctx context.Context) error

	// Lifecycle
	Close() error
}
