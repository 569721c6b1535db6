// Package models defines the persisted entities shared by the queue,
// the processor and the agent handlers.
package models

import "time"

// EntityType identifies which kind of agent owns a task.
type EntityType string

const (
	EntityPlanner EntityType = "planner"
	EntityWorker  EntityType = "worker"
	EntityRouter  EntityType = "router"
)

// Valid returns true if the entity type is a known value.
func (e EntityType) Valid() bool {
	switch e {
	case EntityPlanner, EntityWorker, EntityRouter:
		return true
	default:
		return false
	}
}

// TaskStatus represents the current state of a queued task.
type TaskStatus string

const (
	// TaskPending indicates the task is waiting to be claimed.
	TaskPending TaskStatus = "PENDING"
	// TaskRunning indicates a processor has claimed the task.
	TaskRunning TaskStatus = "RUNNING"
	// TaskCompleted indicates the handler returned without error.
	TaskCompleted TaskStatus = "COMPLETED"
	// TaskFailed indicates the handler failed or could not be found.
	TaskFailed TaskStatus = "FAILED"
)

// Valid returns true if the status is a known value.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskPending, TaskRunning, TaskCompleted, TaskFailed:
		return true
	default:
		return false
	}
}

// Terminal reports whether no further transition is possible.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// Task is a durable unit of queued work.
type Task struct {
	// ID is globally unique and immutable.
	ID string `json:"task_id"`
	// EntityType is the kind of agent that owns the task.
	EntityType EntityType `json:"entity_type"`
	// EntityID is the planner, worker or conversation id.
	EntityID string `json:"entity_id"`
	// FunctionName selects the registered handler.
	FunctionName string `json:"function_name"`
	// Status is the current queue state.
	Status TaskStatus `json:"status"`
	// Payload is free-form per handler.
	Payload map[string]any `json:"payload"`
	// Error holds the failure reason once the task is FAILED.
	Error string `json:"error,omitempty"`
	// CreatedAt is when the task was enqueued.
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt is the time of the last status transition.
	UpdatedAt time.Time `json:"updated_at"`
}

// PayloadString returns the string value stored under key, or "".
func (t Task) PayloadString(key string) string {
	if t.Payload == nil {
		return ""
	}
	s, _ := t.Payload[key].(string)
	return s
}
