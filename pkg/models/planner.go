package models

import "time"

// PlannerStatus represents the lifecycle state of a planner.
type PlannerStatus string

const (
	PlannerPlanning  PlannerStatus = "planning"
	PlannerExecuting PlannerStatus = "executing"
	PlannerCompleted PlannerStatus = "completed"
	PlannerFailed    PlannerStatus = "failed"
)

// Terminal reports whether the planner can no longer make progress.
func (s PlannerStatus) Terminal() bool {
	return s == PlannerCompleted || s == PlannerFailed
}

// Todo is one step of a planner's execution plan.
type Todo struct {
	Description string `json:"description"`
	Completed   bool   `json:"completed"`
	Obsolete    bool   `json:"obsolete"`
	NextAction  bool   `json:"next_action"`
}

// Done reports whether the todo needs no further work.
func (t Todo) Done() bool {
	return t.Completed || t.Obsolete
}

// Plan is an ordered list of todos.
type Plan []Todo

// Remaining returns the number of todos that are neither completed nor obsolete.
func (p Plan) Remaining() int {
	n := 0
	for _, t := range p {
		if !t.Done() {
			n++
		}
	}
	return n
}

// NextActionIndex returns the index of the todo flagged as next action, or -1.
func (p Plan) NextActionIndex() int {
	for i, t := range p {
		if t.NextAction {
			return i
		}
	}
	return -1
}

// Normalize enforces that at most one remaining todo is flagged as the next
// action. The first flagged remaining todo wins; if none is flagged, the first
// remaining todo is picked. Done todos never carry the flag.
func (p Plan) Normalize() Plan {
	out := make(Plan, len(p))
	copy(out, p)

	chosen := -1
	for i := range out {
		if out[i].Done() {
			out[i].NextAction = false
			continue
		}
		if out[i].NextAction && chosen == -1 {
			chosen = i
			continue
		}
		out[i].NextAction = false
	}
	if chosen == -1 {
		for i := range out {
			if !out[i].Done() {
				out[i].NextAction = true
				break
			}
		}
	}
	return out
}

// Planner is the orchestrating agent for one user request.
type Planner struct {
	ID string `json:"planner_id"`
	// ConversationID links the planner back to a router thread, if any.
	ConversationID   string            `json:"conversation_id,omitempty"`
	Status           PlannerStatus     `json:"status"`
	ExecutionPlan    Plan              `json:"execution_plan"`
	UserQuestion     string            `json:"user_question"`
	VariableFileRefs map[string]string `json:"variable_file_refs,omitempty"`
	ImageFileRefs    map[string]string `json:"image_file_refs,omitempty"`
	FinalAnswer      string            `json:"final_answer,omitempty"`
	// CleanedUp is set once the planner's artifacts have been purged.
	CleanedUp bool      `json:"cleaned_up"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
