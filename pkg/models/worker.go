package models

import "time"

// WorkerStatus represents the state of a worker's task.
type WorkerStatus string

const (
	WorkerCreated          WorkerStatus = "created"
	WorkerExecuting        WorkerStatus = "executing"
	WorkerCompleted        WorkerStatus = "completed"
	WorkerFailedValidation WorkerStatus = "failed validation"
)

// WorkerKind selects the execution strategy for a worker.
type WorkerKind string

const (
	// WorkerKindCode runs generated Python in the sandbox.
	WorkerKindCode WorkerKind = "code"
	// WorkerKindSQL runs generated SQL against the tabular query engine.
	WorkerKindSQL WorkerKind = "sql"
)

// DefaultMaxRetry is the attempt budget for a worker when none is configured.
const DefaultMaxRetry = 5

// Worker executes a single todo of its planner.
type Worker struct {
	ID string `json:"worker_id"`
	// PlannerID is a weak back-reference to the owning planner.
	PlannerID          string       `json:"planner_id"`
	Kind               WorkerKind   `json:"kind"`
	TaskStatus         WorkerStatus `json:"task_status"`
	TaskDescription    string       `json:"task_description"`
	AcceptanceCriteria string       `json:"acceptance_criteria"`
	// InputVariables and InputImages name planner-level refs the worker may read.
	InputVariables []string `json:"input_variables,omitempty"`
	InputImages    []string `json:"input_images,omitempty"`
	// Tools whitelists sandbox helper snippets for this task.
	Tools              []string          `json:"tools,omitempty"`
	TaskResult         string            `json:"task_result,omitempty"`
	OutputVariableRefs map[string]string `json:"output_variable_refs,omitempty"`
	OutputImageRefs    map[string]string `json:"output_image_refs,omitempty"`
	MaxRetry           int               `json:"max_retry_budget"`
	AttemptsUsed       int               `json:"attempts_used"`
	CreatedAt          time.Time         `json:"created_at"`
	UpdatedAt          time.Time         `json:"updated_at"`
}

