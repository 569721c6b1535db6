package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTaskStatus_Valid(t *testing.T) {
	tests := []struct {
		name   string
		status TaskStatus
		want   bool
	}{
		{"pending is valid", TaskPending, true},
		{"running is valid", TaskRunning, true},
		{"completed is valid", TaskCompleted, true},
		{"failed is valid", TaskFailed, true},
		{"empty string is invalid", TaskStatus(""), false},
		{"lowercase is invalid", TaskStatus("pending"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.status.Valid())
		})
	}
}

func TestTaskStatus_Terminal(t *testing.T) {
	assert.False(t, TaskPending.Terminal())
	assert.False(t, TaskRunning.Terminal())
	assert.True(t, TaskCompleted.Terminal())
	assert.True(t, TaskFailed.Terminal())
}

func TestEntityType_Valid(t *testing.T) {
	assert.True(t, EntityPlanner.Valid())
	assert.True(t, EntityWorker.Valid())
	assert.True(t, EntityRouter.Valid())
	assert.False(t, EntityType("scheduler").Valid())
}

func TestTask_PayloadString(t *testing.T) {
	task := Task{Payload: map[string]any{"planner_id": "p-1", "count": 3}}

	assert.Equal(t, "p-1", task.PayloadString("planner_id"))
	assert.Equal(t, "", task.PayloadString("count"))
	assert.Equal(t, "", task.PayloadString("missing"))
	assert.Equal(t, "", Task{}.PayloadString("planner_id"))
}

func TestPlan_Remaining(t *testing.T) {
	plan := Plan{
		{Description: "load data", Completed: true},
		{Description: "clean data", Obsolete: true},
		{Description: "plot"},
		{Description: "summarize"},
	}
	assert.Equal(t, 2, plan.Remaining())
	assert.Equal(t, 0, Plan{}.Remaining())
}

func TestPlan_Normalize(t *testing.T) {
	tests := []struct {
		name string
		in   Plan
		want int
	}{
		{
			name: "keeps single flag",
			in:   Plan{{Description: "a"}, {Description: "b", NextAction: true}},
			want: 1,
		},
		{
			name: "drops extra flags",
			in:   Plan{{Description: "a", NextAction: true}, {Description: "b", NextAction: true}},
			want: 0,
		},
		{
			name: "picks first remaining when none flagged",
			in:   Plan{{Description: "a", Completed: true}, {Description: "b"}, {Description: "c"}},
			want: 1,
		},
		{
			name: "clears flag on done todo",
			in:   Plan{{Description: "a", Completed: true, NextAction: true}, {Description: "b"}},
			want: 1,
		},
		{
			name: "no flag when nothing remains",
			in:   Plan{{Description: "a", Completed: true}, {Description: "b", Obsolete: true}},
			want: -1,
		},
		{
			name: "empty plan",
			in:   Plan{},
			want: -1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.in.Normalize()
			assert.Equal(t, tt.want, got.NextActionIndex())

			flagged := 0
			for _, todo := range got {
				if todo.NextAction {
					flagged++
				}
			}
			assert.LessOrEqual(t, flagged, 1)
		})
	}
}

func TestPlan_NormalizeDoesNotMutateInput(t *testing.T) {
	in := Plan{{Description: "a", NextAction: true}, {Description: "b", NextAction: true}}
	_ = in.Normalize()
	assert.True(t, in[1].NextAction)
}
