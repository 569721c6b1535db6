// Package queue is the task queue view over the durable store.
//
// Producers enqueue tasks keyed by (entity type, entity id, task id); the
// background processor claims them in FIFO order and records the outcome.
// Every mutation is a conditional update in the store, so any number of
// goroutines or processes may share one queue.
package queue

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/ShayCichocki/taskloom/internal/state"
	"github.com/ShayCichocki/taskloom/pkg/models"
)

// Queue exposes enqueue, claim, complete and fail over a TaskStore.
type Queue struct {
	store  state.TaskStore
	logger *slog.Logger
}

// New creates a queue over the given store. A nil logger uses slog.Default.
func New(store state.TaskStore, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		store:  store,
		logger: logger.With("component", "queue"),
	}
}

// NewTaskID returns a fresh globally unique task id.
func NewTaskID() string {
	return uuid.New().String()
}

// Enqueue inserts a PENDING task. It returns false, with no error, when a
// task with the same id already exists.
func (q *Queue) Enqueue(taskID string, entityType models.EntityType, entityID, functionName string, payload map[string]any) (bool, error) {
	if taskID == "" {
		return false, errors.New("enqueue: empty task id")
	}
	if !entityType.Valid() {
		return false, fmt.Errorf("enqueue %s: invalid entity type %q", taskID, entityType)
	}
	if functionName == "" {
		return false, fmt.Errorf("enqueue %s: empty function name", taskID)
	}

	err := q.store.InsertTask(&models.Task{
		ID:           taskID,
		EntityType:   entityType,
		EntityID:     entityID,
		FunctionName: functionName,
		Status:       models.TaskPending,
		Payload:      payload,
	})
	if errors.Is(err, state.ErrDuplicateTask) {
		q.logger.Debug("task already enqueued", "task_id", taskID)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("enqueue %s: %w", taskID, err)
	}

	q.logger.Debug("task enqueued",
		"task_id", taskID,
		"entity_type", string(entityType),
		"entity_id", entityID,
		"function", functionName)
	return true, nil
}

// ClaimPending returns up to limit PENDING tasks, oldest first, and marks
// them RUNNING. A task is returned to at most one caller.
func (q *Queue) ClaimPending(limit int) ([]models.Task, error) {
	tasks, err := q.store.ClaimPendingTasks(limit)
	if err != nil {
		return nil, fmt.Errorf("claim pending: %w", err)
	}
	return tasks, nil
}

// Complete moves a RUNNING task to COMPLETED. A task that is missing or not
// RUNNING is logged and ignored.
func (q *Queue) Complete(taskID string) error {
	return q.finish(taskID, models.TaskCompleted, "")
}

// Fail moves a RUNNING task to FAILED with the given reason. A task that is
// missing or not RUNNING is logged and ignored.
func (q *Queue) Fail(taskID, reason string) error {
	return q.finish(taskID, models.TaskFailed, reason)
}

func (q *Queue) finish(taskID string, to models.TaskStatus, reason string) error {
	ok, err := q.store.TransitionTask(taskID, models.TaskRunning, to, reason)
	if err != nil {
		return fmt.Errorf("finish %s as %s: %w", taskID, to, err)
	}
	if !ok {
		q.logger.Warn("task not running, ignoring transition",
			"task_id", taskID,
			"to", string(to))
	}
	return nil
}

// TasksFor returns the tasks of one entity in creation order.
func (q *Queue) TasksFor(entityType models.EntityType, entityID string) ([]models.Task, error) {
	tasks, err := q.store.ListTasksByEntity(entityType, entityID)
	if err != nil {
		return nil, fmt.Errorf("tasks for %s %s: %w", entityType, entityID, err)
	}
	return tasks, nil
}
