package schema

// Event type constants for the debug event stream.
const (
	EventWorkflowStarted   = "workflow_started"
	EventWorkflowCompleted = "workflow_completed"
	EventWorkflowFailed    = "workflow_failed"

	EventTaskCompleted = "task_completed"
	EventStepCompleted = "step_completed"

	EventMessage     = "message"
	EventInputSet    = "input_set"
	EventInputDelete = "input_deleted"

	EventExecutorLoaded      = "executor_loaded"
	EventExecutorSynthesized = "executor_synthesized"
	EventExecutorRejected    = "executor_rejected"

	EventScheduleTriggered = "schedule_triggered"
)

// ExecutionStatus is the outcome of one workflow execution.
type ExecutionStatus string

const (
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusSkipped   ExecutionStatus = "skipped"
)

// OutputStepIndex marks a step_completed-style record that reports a task's
// resolved output rather than one of its steps.
const OutputStepIndex = -1
