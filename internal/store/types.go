package store

import (
	"time"

	"github.com/rendis/taskweave/pkg/schema"
)

// WorkflowRecord is a stored workflow document.
type WorkflowRecord struct {
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Workflow    *schema.Workflow `json:"workflow"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// WorkflowSummary is a stored workflow as listed, without its tasks.
type WorkflowSummary struct {
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	EntryPoint  string    `json:"entry_point"`
	TaskCount   int       `json:"task_count"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ScheduledJob triggers executions of a stored workflow on a cron schedule.
type ScheduledJob struct {
	ID             string            `json:"id"`
	Workflow       string            `json:"workflow"`
	CronExpression string            `json:"cron_expression"`
	Inputs         map[string]string `json:"inputs,omitempty"`
	Enabled        bool              `json:"enabled"`
	LastRunAt      *time.Time        `json:"last_run_at,omitempty"`
	NextRunAt      *time.Time        `json:"next_run_at,omitempty"`
	LastRunStatus  string            `json:"last_run_status,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
}

// ScheduledJobUpdate specifies mutable fields of a scheduled job.
type ScheduledJobUpdate struct {
	Enabled       *bool      `json:"enabled,omitempty"`
	LastRunAt     *time.Time `json:"last_run_at,omitempty"`
	NextRunAt     *time.Time `json:"next_run_at,omitempty"`
	LastRunStatus string     `json:"last_run_status,omitempty"`
}

// ScheduledJobFilter specifies criteria for listing scheduled jobs.
type ScheduledJobFilter struct {
	Enabled  *bool  `json:"enabled,omitempty"`
	Workflow string `json:"workflow,omitempty"`
	Limit    int    `json:"limit,omitempty"`
}

func summarize(rec *WorkflowRecord) *WorkflowSummary {
	sum := &WorkflowSummary{Name: rec.Name, Description: rec.Description, UpdatedAt: rec.UpdatedAt}
	if rec.Workflow != nil {
		sum.EntryPoint = rec.Workflow.EntryPoint
		sum.TaskCount = len(rec.Workflow.Tasks)
	}
	return sum
}
