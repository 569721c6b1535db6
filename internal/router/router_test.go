package router

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShayCichocki/taskloom/internal/artifact"
	"github.com/ShayCichocki/taskloom/internal/llm/llmtest"
	"github.com/ShayCichocki/taskloom/internal/planner"
	"github.com/ShayCichocki/taskloom/internal/processor"
	"github.com/ShayCichocki/taskloom/internal/queue"
	"github.com/ShayCichocki/taskloom/internal/state"
	"github.com/ShayCichocki/taskloom/pkg/models"
)

const matchRoute = "Route the user message"

func setup(t *testing.T) (*Handlers, *state.DB, *llmtest.Scripted) {
	t.Helper()
	db, err := state.Open(filepath.Join(t.TempDir(), "router.db"))
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { db.Close() })

	q := queue.New(db, nil)
	client := llmtest.New()
	planners := planner.New(db, q, client, artifact.NewInMemoryStore(), planner.Config{})
	return New(db, q, client, planners, nil), db, client
}

// claim returns the pending routing task for a conversation.
func claim(t *testing.T, db *state.DB, convID string) models.Task {
	t.Helper()
	tasks, err := db.ListTasksByEntity(models.EntityRouter, convID)
	require.NoError(t, err)
	for _, task := range tasks {
		if task.Status == models.TaskPending {
			ok, err := db.TransitionTask(task.ID, models.TaskPending, models.TaskRunning, "")
			require.NoError(t, err)
			require.True(t, ok)
			return task
		}
	}
	t.Fatalf("no pending routing task for %s", convID)
	return models.Task{}
}

func TestSubmit(t *testing.T) {
	h, db, _ := setup(t)

	convID, taskID, err := h.Submit(Message{Text: "hello", VariableRefs: map[string]string{"orders": "up/orders.json"}})
	require.NoError(t, err)
	assert.NotEmpty(t, convID)

	task, err := db.GetTask(taskID)
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, models.EntityRouter, task.EntityType)
	assert.Equal(t, string(processor.RouteMessage), task.FunctionName)
	assert.Equal(t, "hello", task.PayloadString("message"))
	assert.Equal(t, map[string]string{"orders": "up/orders.json"}, payloadRefs(task.Payload["variable_refs"]))

	_, _, err = h.Submit(Message{ConversationID: "missing", Text: "hi"})
	assert.ErrorContains(t, err, "not found")

	_, _, err = h.Submit(Message{Text: " "})
	assert.Error(t, err)
}

func TestRouteMessage_Answer(t *testing.T) {
	h, db, client := setup(t)
	client.On(matchRoute, `{"action": "answer", "reply": "Hi! What data should we look at?", "title": "Greeting"}`)

	convID, _, err := h.Submit(Message{Text: "hello"})
	require.NoError(t, err)
	require.NoError(t, h.RouteMessage(context.Background(), claim(t, db, convID)))

	msgs, err := db.ListMessages(models.AgentRouter, convID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, models.RoleUser, msgs[0].Role)
	assert.Equal(t, "Hi! What data should we look at?", msgs[1].Content)

	c, err := db.GetConversation(convID)
	require.NoError(t, err)
	assert.Equal(t, "Greeting", c.Title)
	assert.Equal(t, "Hi! What data should we look at?", c.Preview)

	planners, err := db.ListPlanners(nil)
	require.NoError(t, err)
	assert.Empty(t, planners)
}

func TestRouteMessage_Plan(t *testing.T) {
	h, db, client := setup(t)
	client.On(matchRoute, `{"action": "plan", "reply": "", "title": ""}`)

	convID, _, err := h.Submit(Message{Text: "Chart revenue per region", VariableRefs: map[string]string{"sales": "up/sales.json"}})
	require.NoError(t, err)
	require.NoError(t, h.RouteMessage(context.Background(), claim(t, db, convID)))

	planners, err := db.ListPlanners(nil)
	require.NoError(t, err)
	require.Len(t, planners, 1)
	p := planners[0]
	assert.Equal(t, convID, p.ConversationID)
	assert.Equal(t, "Chart revenue per region", p.UserQuestion)
	assert.Equal(t, map[string]string{"sales": "up/sales.json"}, p.VariableFileRefs)

	tasks, err := db.ListTasksByEntity(models.EntityPlanner, p.ID)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, string(processor.InitialPlanning), tasks[0].FunctionName)

	c, err := db.GetConversation(convID)
	require.NoError(t, err)
	assert.Equal(t, "Chart revenue per region", c.Title, "falls back to the message")
	assert.Equal(t, "Working on it.", c.Preview)
}

func TestRouteMessage_KeepsTitle(t *testing.T) {
	h, db, client := setup(t)
	client.On(matchRoute, `{"action": "answer", "reply": "one", "title": "First"}`, `{"action": "answer", "reply": "two", "title": "Second"}`)

	convID, _, err := h.Submit(Message{Text: "a"})
	require.NoError(t, err)
	require.NoError(t, h.RouteMessage(context.Background(), claim(t, db, convID)))

	_, _, err = h.Submit(Message{ConversationID: convID, Text: "b"})
	require.NoError(t, err)
	require.NoError(t, h.RouteMessage(context.Background(), claim(t, db, convID)))

	c, err := db.GetConversation(convID)
	require.NoError(t, err)
	assert.Equal(t, "First", c.Title)
	assert.Equal(t, "two", c.Preview)

	calls := client.Calls()
	require.Len(t, calls, 2)
	assert.Len(t, calls[1].Messages, 3, "history includes the earlier turn")
}

func TestRouteMessage_Errors(t *testing.T) {
	h, _, client := setup(t)
	client.On(matchRoute, `{"action": "answer", "reply": ""}`)

	err := h.RouteMessage(context.Background(), models.Task{FunctionName: "route_message"})
	assert.Error(t, err)

	err = h.RouteMessage(context.Background(), models.Task{Payload: map[string]any{"conversation_id": "nope", "message": "x"}})
	assert.ErrorContains(t, err, "not found")
}

func TestRouteMessage_EmptyAnswer(t *testing.T) {
	h, db, client := setup(t)
	client.On(matchRoute, `{"action": "answer", "reply": ""}`)

	convID, _, err := h.Submit(Message{Text: "hello"})
	require.NoError(t, err)
	err = h.RouteMessage(context.Background(), claim(t, db, convID))
	assert.ErrorContains(t, err, "empty reply")
}
