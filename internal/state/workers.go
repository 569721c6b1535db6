package state

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/ShayCichocki/taskloom/pkg/models"
)

const workerColumns = `id, planner_id, kind, task_status, task_description, acceptance_criteria,
	input_variables, input_images, tools, task_result, output_variable_refs, output_image_refs,
	max_retry, attempts_used, created_at, updated_at`

// CreateWorker creates a new worker.
func (db *DB) CreateWorker(w *models.Worker) error {
	if w.CreatedAt.IsZero() {
		w.CreatedAt = time.Now()
	}
	w.UpdatedAt = w.CreatedAt
	if w.TaskStatus == "" {
		w.TaskStatus = models.WorkerCreated
	}
	if w.Kind == "" {
		w.Kind = models.WorkerKindCode
	}
	if w.MaxRetry <= 0 {
		w.MaxRetry = models.DefaultMaxRetry
	}

	enc, err := encodeWorkerJSON(w)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
		INSERT INTO workers (`+workerColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, w.ID, w.PlannerID, string(w.Kind), string(w.TaskStatus), w.TaskDescription, w.AcceptanceCriteria,
		enc.inputs, enc.images, enc.tools, w.TaskResult, enc.outVars, enc.outImages,
		w.MaxRetry, w.AttemptsUsed, formatTime(w.CreatedAt), formatTime(w.UpdatedAt))
	if err != nil {
		return fmt.Errorf("create worker: %w", err)
	}
	return nil
}

// GetWorker retrieves a worker by ID.
func (db *DB) GetWorker(id string) (*models.Worker, error) {
	row := db.QueryRow(`SELECT `+workerColumns+` FROM workers WHERE id = ?`, id)

	w, err := scanWorker(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get worker: %w", err)
	}
	return w, nil
}

// UpdateWorker updates a worker.
func (db *DB) UpdateWorker(w *models.Worker) error {
	w.UpdatedAt = time.Now()

	enc, err := encodeWorkerJSON(w)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
		UPDATE workers SET planner_id = ?, kind = ?, task_status = ?, task_description = ?,
			acceptance_criteria = ?, input_variables = ?, input_images = ?, tools = ?, task_result = ?,
			output_variable_refs = ?, output_image_refs = ?, max_retry = ?, attempts_used = ?, updated_at = ?
		WHERE id = ?
	`, w.PlannerID, string(w.Kind), string(w.TaskStatus), w.TaskDescription, w.AcceptanceCriteria,
		enc.inputs, enc.images, enc.tools, w.TaskResult, enc.outVars, enc.outImages,
		w.MaxRetry, w.AttemptsUsed, formatTime(w.UpdatedAt), w.ID)
	if err != nil {
		return fmt.Errorf("update worker: %w", err)
	}
	return nil
}

// ListWorkersByPlanner lists a planner's workers, newest first.
func (db *DB) ListWorkersByPlanner(plannerID string) ([]models.Worker, error) {
	rows, err := db.Query(`
		SELECT `+workerColumns+` FROM workers
		WHERE planner_id = ?
		ORDER BY created_at DESC
	`, plannerID)
	if err != nil {
		return nil, fmt.Errorf("list workers: %w", err)
	}
	defer rows.Close()

	var workers []models.Worker
	for rows.Next() {
		w, err := scanWorker(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan worker: %w", err)
		}
		workers = append(workers, *w)
	}
	return workers, rows.Err()
}

// DeleteWorkersByPlanner deletes every worker owned by the planner.
func (db *DB) DeleteWorkersByPlanner(plannerID string) (int64, error) {
	result, err := db.Exec(`DELETE FROM workers WHERE planner_id = ?`, plannerID)
	if err != nil {
		return 0, fmt.Errorf("delete workers: %w", err)
	}

	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}
	return count, nil
}

type workerJSON struct {
	inputs, images, tools, outVars, outImages string
}

func encodeWorkerJSON(w *models.Worker) (workerJSON, error) {
	var enc workerJSON
	var err error
	if enc.inputs, err = encodeJSON(w.InputVariables, "[]"); err != nil {
		return enc, fmt.Errorf("encode input variables: %w", err)
	}
	if enc.images, err = encodeJSON(w.InputImages, "[]"); err != nil {
		return enc, fmt.Errorf("encode input images: %w", err)
	}
	if enc.tools, err = encodeJSON(w.Tools, "[]"); err != nil {
		return enc, fmt.Errorf("encode tools: %w", err)
	}
	if enc.outVars, err = encodeJSON(w.OutputVariableRefs, "{}"); err != nil {
		return enc, fmt.Errorf("encode output variable refs: %w", err)
	}
	if enc.outImages, err = encodeJSON(w.OutputImageRefs, "{}"); err != nil {
		return enc, fmt.Errorf("encode output image refs: %w", err)
	}
	return enc, nil
}

func scanWorker(scan func(dest ...any) error) (*models.Worker, error) {
	var w models.Worker
	var kind, status, inputs, images, tools, outVars, outImages, createdAt, updatedAt string
	err := scan(&w.ID, &w.PlannerID, &kind, &status, &w.TaskDescription, &w.AcceptanceCriteria,
		&inputs, &images, &tools, &w.TaskResult, &outVars, &outImages,
		&w.MaxRetry, &w.AttemptsUsed, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	w.Kind = models.WorkerKind(kind)
	w.TaskStatus = models.WorkerStatus(status)
	for _, f := range []struct {
		raw string
		dst any
	}{
		{inputs, &w.InputVariables},
		{images, &w.InputImages},
		{tools, &w.Tools},
		{outVars, &w.OutputVariableRefs},
		{outImages, &w.OutputImageRefs},
	} {
		if err := decodeJSON(f.raw, f.dst); err != nil {
			return nil, fmt.Errorf("decode worker %s: %w", w.ID, err)
		}
	}
	w.CreatedAt, _ = parseTime(createdAt)
	w.UpdatedAt, _ = parseTime(updatedAt)
	return &w, nil
}
