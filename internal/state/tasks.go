package state

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ShayCichocki/taskloom/pkg/models"
)

// ErrDuplicateTask is returned by InsertTask when the task id already exists.
var ErrDuplicateTask = errors.New("task already exists")

const taskColumns = `task_id, entity_type, entity_id, function_name, status, payload, error, created_at, updated_at`

// InsertTask inserts a new task row. CreatedAt and UpdatedAt default to now.
func (db *DB) InsertTask(t *models.Task) error {
	now := time.Now()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = t.CreatedAt
	}
	if t.Status == "" {
		t.Status = models.TaskPending
	}

	payload, err := encodeJSON(t.Payload, "{}")
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	result, err := db.Exec(`
		INSERT INTO tasks (`+taskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(task_id) DO NOTHING
	`, t.ID, string(t.EntityType), t.EntityID, t.FunctionName, string(t.Status), payload, t.Error,
		formatTime(t.CreatedAt), formatTime(t.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if n == 0 {
		return ErrDuplicateTask
	}
	return nil
}

// GetTask retrieves a task by ID.
func (db *DB) GetTask(id string) (*models.Task, error) {
	row := db.QueryRow(`SELECT `+taskColumns+` FROM tasks WHERE task_id = ?`, id)

	t, err := scanTask(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

// ClaimPendingTasks returns up to limit PENDING tasks in insertion order and
// marks them RUNNING. Each row is flipped with a conditional update keyed on
// the expected status, so a row another claimer already took is skipped.
func (db *DB) ClaimPendingTasks(limit int) ([]models.Task, error) {
	if limit <= 0 {
		return nil, nil
	}

	var claimed []models.Task
	err := db.Transaction(func(tx *sql.Tx) error {
		rows, err := tx.Query(`
			SELECT `+taskColumns+` FROM tasks
			WHERE status = ?
			ORDER BY seq ASC
			LIMIT ?
		`, string(models.TaskPending), limit)
		if err != nil {
			return fmt.Errorf("select pending tasks: %w", err)
		}

		var candidates []*models.Task
		for rows.Next() {
			t, err := scanTask(rows.Scan)
			if err != nil {
				rows.Close()
				return fmt.Errorf("scan task: %w", err)
			}
			candidates = append(candidates, t)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return fmt.Errorf("iterate pending tasks: %w", err)
		}
		rows.Close()

		now := time.Now()
		for _, t := range candidates {
			res, err := tx.Exec(`
				UPDATE tasks SET status = ?, updated_at = ?
				WHERE task_id = ? AND status = ?
			`, string(models.TaskRunning), formatTime(now), t.ID, string(models.TaskPending))
			if err != nil {
				return fmt.Errorf("claim task %s: %w", t.ID, err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("get rows affected: %w", err)
			}
			if n != 1 {
				continue
			}
			t.Status = models.TaskRunning
			t.UpdatedAt = now
			claimed = append(claimed, *t)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// TransitionTask moves a task from one status to another. It returns false
// without error when the task does not exist or is not in the expected
// status. The reason is stored as the task error when non-empty.
func (db *DB) TransitionTask(id string, from, to models.TaskStatus, reason string) (bool, error) {
	result, err := db.Exec(`
		UPDATE tasks SET status = ?, error = CASE WHEN ? != '' THEN ? ELSE error END, updated_at = ?
		WHERE task_id = ? AND status = ?
	`, string(to), reason, reason, formatTime(time.Now()), id, string(from))
	if err != nil {
		return false, fmt.Errorf("transition task: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("get rows affected: %w", err)
	}
	return n == 1, nil
}

// ListTasksByEntity lists the tasks of one entity in creation order.
func (db *DB) ListTasksByEntity(entityType models.EntityType, entityID string) ([]models.Task, error) {
	rows, err := db.Query(`
		SELECT `+taskColumns+` FROM tasks
		WHERE entity_type = ? AND entity_id = ?
		ORDER BY seq ASC
	`, string(entityType), entityID)
	if err != nil {
		return nil, fmt.Errorf("list tasks by entity: %w", err)
	}
	return collectTasks(rows)
}

// ListTasks lists the most recent tasks, optionally filtered by status.
// A non-positive limit returns all matching tasks.
func (db *DB) ListTasks(status *models.TaskStatus, limit int) ([]models.Task, error) {
	if limit <= 0 {
		limit = -1
	}

	var rows *sql.Rows
	var err error
	if status != nil {
		rows, err = db.Query(`
			SELECT `+taskColumns+` FROM tasks WHERE status = ?
			ORDER BY seq DESC LIMIT ?
		`, string(*status), limit)
	} else {
		rows, err = db.Query(`
			SELECT `+taskColumns+` FROM tasks
			ORDER BY seq DESC LIMIT ?
		`, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return collectTasks(rows)
}

// CountTasksByStatus returns the number of tasks in each status.
func (db *DB) CountTasksByStatus() (map[models.TaskStatus]int, error) {
	rows, err := db.Query(`SELECT status, COUNT(*) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count tasks: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.TaskStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan task count: %w", err)
		}
		counts[models.TaskStatus(status)] = n
	}
	return counts, rows.Err()
}

// PurgeTasksForEntity deletes the finished tasks of an entity.
// PENDING and RUNNING rows are kept so in-flight work is never lost.
func (db *DB) PurgeTasksForEntity(entityType models.EntityType, entityID string) (int64, error) {
	result, err := db.Exec(`
		DELETE FROM tasks
		WHERE entity_type = ? AND entity_id = ? AND status IN (?, ?)
	`, string(entityType), entityID, string(models.TaskCompleted), string(models.TaskFailed))
	if err != nil {
		return 0, fmt.Errorf("purge tasks: %w", err)
	}

	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}
	return count, nil
}

func collectTasks(rows *sql.Rows) ([]models.Task, error) {
	defer rows.Close()

	var tasks []models.Task
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

func scanTask(scan func(dest ...any) error) (*models.Task, error) {
	var t models.Task
	var entityType, status, payload, createdAt, updatedAt string
	if err := scan(&t.ID, &entityType, &t.EntityID, &t.FunctionName, &status, &payload, &t.Error, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	t.EntityType = models.EntityType(entityType)
	t.Status = models.TaskStatus(status)
	if err := decodeJSON(payload, &t.Payload); err != nil {
		return nil, fmt.Errorf("decode payload of %s: %w", t.ID, err)
	}
	t.CreatedAt, _ = parseTime(createdAt)
	t.UpdatedAt, _ = parseTime(updatedAt)
	return &t, nil
}
