package queue

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShayCichocki/taskloom/internal/state"
	"github.com/ShayCichocki/taskloom/pkg/models"
)

func setupQueue(t *testing.T) (*Queue, *state.DB) {
	t.Helper()
	db, err := state.Open(filepath.Join(t.TempDir(), "queue.db"))
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { db.Close() })
	return New(db, nil), db
}

func TestEnqueue(t *testing.T) {
	q, _ := setupQueue(t)

	ok, err := q.Enqueue("t1", models.EntityPlanner, "p1", "initial_planning", map[string]any{"planner_id": "p1"})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = q.Enqueue("t1", models.EntityPlanner, "p1", "initial_planning", nil)
	require.NoError(t, err)
	assert.False(t, ok, "duplicate id must be rejected")

	tasks, err := q.TasksFor(models.EntityPlanner, "p1")
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, models.TaskPending, tasks[0].Status)
}

func TestEnqueue_InvalidInput(t *testing.T) {
	q, _ := setupQueue(t)

	tests := []struct {
		name       string
		taskID     string
		entityType models.EntityType
		fn         string
	}{
		{"empty id", "", models.EntityPlanner, "synthesis"},
		{"bad entity type", "t1", models.EntityType("robot"), "synthesis"},
		{"empty function", "t1", models.EntityWorker, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, err := q.Enqueue(tt.taskID, tt.entityType, "e1", tt.fn, nil)
			assert.Error(t, err)
			assert.False(t, ok)
		})
	}
}

func TestTasksFor_IsolationUnderConcurrentProducers(t *testing.T) {
	q, _ := setupQueue(t)

	const planners, perPlanner = 3, 5
	var wg sync.WaitGroup
	for p := 0; p < planners; p++ {
		for i := 0; i < perPlanner; i++ {
			wg.Add(1)
			go func(p, i int) {
				defer wg.Done()
				plannerID := fmt.Sprintf("planner-%d", p)
				ok, err := q.Enqueue(NewTaskID(), models.EntityPlanner, plannerID, "task_creation",
					map[string]any{"planner_id": plannerID, "n": i})
				assert.NoError(t, err)
				assert.True(t, ok)
			}(p, i)
		}
	}
	wg.Wait()

	for p := 0; p < planners; p++ {
		plannerID := fmt.Sprintf("planner-%d", p)
		tasks, err := q.TasksFor(models.EntityPlanner, plannerID)
		require.NoError(t, err)
		assert.Len(t, tasks, perPlanner)
		for _, task := range tasks {
			assert.Equal(t, models.EntityPlanner, task.EntityType)
			assert.Equal(t, plannerID, task.EntityID)
		}
	}
}

func TestClaimPending_AtMostOnce(t *testing.T) {
	q, _ := setupQueue(t)

	ok, err := q.Enqueue("only", models.EntityWorker, "w1", "worker_initialisation", nil)
	require.NoError(t, err)
	require.True(t, ok)

	const claimers = 16
	results := make(chan int, claimers)
	var wg sync.WaitGroup
	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tasks, err := q.ClaimPending(1)
			assert.NoError(t, err)
			results <- len(tasks)
		}()
	}
	wg.Wait()
	close(results)

	total := 0
	for n := range results {
		total += n
	}
	assert.Equal(t, 1, total)
}

func TestComplete_DoubleCompletionGuard(t *testing.T) {
	q, db := setupQueue(t)

	_, err := q.Enqueue("t1", models.EntityPlanner, "p1", "synthesis", nil)
	require.NoError(t, err)

	// Not yet RUNNING: ignored.
	require.NoError(t, q.Complete("t1"))
	task, err := db.GetTask("t1")
	require.NoError(t, err)
	assert.Equal(t, models.TaskPending, task.Status)

	claimed, err := q.ClaimPending(10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	require.NoError(t, q.Complete("t1"))
	require.NoError(t, q.Fail("t1", "late failure"))
	require.NoError(t, q.Complete("missing"))

	task, err = db.GetTask("t1")
	require.NoError(t, err)
	assert.Equal(t, models.TaskCompleted, task.Status)
	assert.Empty(t, task.Error)
}

func TestFail_RecordsReason(t *testing.T) {
	q, db := setupQueue(t)

	_, err := q.Enqueue("t1", models.EntityPlanner, "p1", "synthesis", nil)
	require.NoError(t, err)
	_, err = q.ClaimPending(1)
	require.NoError(t, err)

	require.NoError(t, q.Fail("t1", "no such handler"))

	task, err := db.GetTask("t1")
	require.NoError(t, err)
	assert.Equal(t, models.TaskFailed, task.Status)
	assert.Equal(t, "no such handler", task.Error)
}
