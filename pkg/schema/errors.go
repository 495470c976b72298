package schema

import (
	"errors"
	"fmt"
)

// Error codes for structured error reporting.
const (
	ErrCodeInvalidWorkflowFormat  = "INVALID_WORKFLOW_FORMAT"
	ErrCodeTaskNotFound           = "TASK_NOT_FOUND"
	ErrCodeMissingTaskReference   = "MISSING_TASK_REFERENCE"
	ErrCodeOrphanPreviousOutput   = "ORPHAN_PREVIOUS_OUTPUT_REFERENCE"
	ErrCodeInvalidStepInput       = "INVALID_STEP_INPUT"
	ErrCodeUnsupportedStepKind    = "UNSUPPORTED_STEP_KIND"
	ErrCodeOutputMissing          = "OUTPUT_MISSING"
	ErrCodeCycleDetected          = "CYCLE_DETECTED"
	ErrCodeValidation             = "VALIDATION_ERROR"
	ErrCodeExecution              = "EXECUTION_ERROR"
	ErrCodeSynthesis              = "SYNTHESIS_ERROR"
	ErrCodeNotFound               = "NOT_FOUND"
	ErrCodeConflict               = "CONFLICT"
	ErrCodeCancelled              = "CANCELLED"
	ErrCodeRetryExhausted         = "RETRY_EXHAUSTED"
	ErrCodeStore                  = "STORE_ERROR"
)

// WeaveError is the structured error type for all taskweave operations.
type WeaveError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	Task    string         `json:"task,omitempty"`
	Step    *int           `json:"step,omitempty"`
	Cause   error          `json:"-"`
}

func (e *WeaveError) Error() string {
	switch {
	case e.Task != "" && e.Step != nil:
		return fmt.Sprintf("[%s] task %s step %d: %s", e.Code, e.Task, *e.Step, e.Message)
	case e.Task != "":
		return fmt.Sprintf("[%s] task %s: %s", e.Code, e.Task, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *WeaveError) Unwrap() error {
	return e.Cause
}

// IsRetryable reports whether an operation failing with this error may
// succeed when attempted again. Evaluation failures are deterministic for a
// given workflow and input context, so they are never retryable.
func (e *WeaveError) IsRetryable() bool {
	switch e.Code {
	case ErrCodeExecution, ErrCodeSynthesis, ErrCodeStore:
		return true
	}
	return false
}

// NewError creates a new WeaveError.
func NewError(code, message string) *WeaveError {
	return &WeaveError{Code: code, Message: message}
}

// NewErrorf creates a new WeaveError with a formatted message.
func NewErrorf(code, format string, args ...any) *WeaveError {
	return &WeaveError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithTask attaches the name of the task being evaluated.
func (e *WeaveError) WithTask(task string) *WeaveError {
	e.Task = task
	return e
}

// WithStep attaches the index of the step being evaluated.
func (e *WeaveError) WithStep(index int) *WeaveError {
	e.Step = &index
	return e
}

// WithCause attaches an underlying cause.
func (e *WeaveError) WithCause(err error) *WeaveError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *WeaveError) WithDetails(details map[string]any) *WeaveError {
	e.Details = details
	return e
}

// CodeOf returns the code of the outermost WeaveError in err's chain, or ""
// when err carries none.
func CodeOf(err error) string {
	var wErr *WeaveError
	if errors.As(err, &wErr) {
		return wErr.Code
	}
	return ""
}

// HasCode reports whether any WeaveError in err's chain carries code.
func HasCode(err error, code string) bool {
	for err != nil {
		var wErr *WeaveError
		if !errors.As(err, &wErr) {
			return false
		}
		if wErr.Code == code {
			return true
		}
		err = wErr.Cause
	}
	return false
}
