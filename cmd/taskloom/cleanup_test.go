package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShayCichocki/taskloom/internal/artifact"
	"github.com/ShayCichocki/taskloom/internal/llm/llmtest"
	"github.com/ShayCichocki/taskloom/internal/planner"
	"github.com/ShayCichocki/taskloom/internal/queue"
	"github.com/ShayCichocki/taskloom/internal/state"
	"github.com/ShayCichocki/taskloom/pkg/models"
)

type cleanupFixture struct {
	db        *state.DB
	artifacts *artifact.InMemoryStore
	planners  *planner.Handlers
}

func newCleanupFixture(t *testing.T) *cleanupFixture {
	t.Helper()
	db, err := state.Open(filepath.Join(t.TempDir(), "cleanup.db"))
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { db.Close() })

	store := artifact.NewInMemoryStore()
	q := queue.New(db, nil)
	return &cleanupFixture{
		db:        db,
		artifacts: store,
		planners:  planner.New(db, q, llmtest.New(), store, planner.Config{}),
	}
}

func (f *cleanupFixture) planner(t *testing.T, id string, status models.PlannerStatus, workers ...string) {
	t.Helper()
	require.NoError(t, f.db.CreatePlanner(&models.Planner{ID: id, Status: status, UserQuestion: "q"}))
	for _, w := range workers {
		require.NoError(t, f.db.CreateWorker(&models.Worker{ID: w, PlannerID: id, TaskDescription: "d"}))
	}
}

func (f *cleanupFixture) task(t *testing.T, id string, entity models.EntityType, entityID string, status models.TaskStatus) {
	t.Helper()
	require.NoError(t, f.db.InsertTask(&models.Task{
		ID:           id,
		EntityType:   entity,
		EntityID:     entityID,
		FunctionName: "fn",
		Status:       status,
	}))
}

func (f *cleanupFixture) artifact(t *testing.T, owner string) {
	t.Helper()
	_, err := f.artifacts.Save(owner, "data.json", []byte("{}"))
	require.NoError(t, err)
}

// seed builds one finished planner, one running planner, one failed planner
// and a routed conversation.
func (f *cleanupFixture) seed(t *testing.T) {
	f.planner(t, "pa", models.PlannerCompleted, "w1")
	f.planner(t, "pb", models.PlannerExecuting, "w2")
	f.planner(t, "pc", models.PlannerFailed, "w3")

	f.task(t, "t1", models.EntityPlanner, "pa", models.TaskCompleted)
	f.task(t, "t2", models.EntityWorker, "w1", models.TaskCompleted)
	f.task(t, "t3", models.EntityPlanner, "pb", models.TaskPending)
	f.task(t, "t4", models.EntityWorker, "w2", models.TaskCompleted)
	f.task(t, "t5", models.EntityPlanner, "pc", models.TaskFailed)
	f.task(t, "t6", models.EntityRouter, "conv-1", models.TaskCompleted)

	f.artifact(t, uploadsEntity)
	f.artifact(t, "pa")
	f.artifact(t, "w3")
	f.artifact(t, "ghost")
}

func TestPlanCleanup(t *testing.T) {
	f := newCleanupFixture(t)
	f.seed(t)

	plan, err := planCleanup(f.db, f.artifacts)
	require.NoError(t, err)

	assert.Equal(t, []entityRef{
		{models.EntityPlanner, "pa"},
		{models.EntityPlanner, "pc"},
		{models.EntityRouter, "conv-1"},
		{models.EntityWorker, "w1"},
	}, plan.Entities)
	assert.Equal(t, []string{"pc"}, plan.FailedPlanners)
	assert.Equal(t, []string{"ghost"}, plan.OrphanArtifacts)
	assert.False(t, plan.empty())
}

func TestPlanCleanup_Empty(t *testing.T) {
	f := newCleanupFixture(t)
	f.planner(t, "pb", models.PlannerExecuting)
	f.task(t, "t1", models.EntityPlanner, "pb", models.TaskRunning)

	plan, err := planCleanup(f.db, f.artifacts)
	require.NoError(t, err)
	assert.True(t, plan.empty())
}

func TestApplyCleanup(t *testing.T) {
	f := newCleanupFixture(t)
	f.seed(t)

	plan, err := planCleanup(f.db, f.artifacts)
	require.NoError(t, err)

	res, err := applyCleanup(plan, f.db, f.artifacts, f.planners.Reclaim)
	require.NoError(t, err)
	assert.Equal(t, int64(4), res.tasks)
	assert.Equal(t, 1, res.planners)
	assert.Equal(t, 1, res.artifacts)

	for _, id := range []string{"t3", "t4"} {
		task, err := f.db.GetTask(id)
		require.NoError(t, err)
		assert.NotNil(t, task, "task %s should survive", id)
	}
	for _, id := range []string{"t1", "t2", "t5", "t6"} {
		task, err := f.db.GetTask(id)
		require.NoError(t, err)
		assert.Nil(t, task, "task %s should be purged", id)
	}

	workers, err := f.db.ListWorkersByPlanner("pc")
	require.NoError(t, err)
	assert.Empty(t, workers)

	owners, err := f.artifacts.Entities()
	require.NoError(t, err)
	assert.Equal(t, []string{"pa", uploadsEntity}, owners)

	again, err := planCleanup(f.db, f.artifacts)
	require.NoError(t, err)
	assert.True(t, again.empty())
}
