package state

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/ShayCichocki/taskloom/pkg/models"
)

const plannerColumns = `id, conversation_id, status, execution_plan, user_question, variable_file_refs,
	image_file_refs, final_answer, cleaned_up, error, created_at, updated_at`

// CreatePlanner creates a new planner.
func (db *DB) CreatePlanner(p *models.Planner) error {
	now := time.Now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = p.CreatedAt
	if p.Status == "" {
		p.Status = models.PlannerPlanning
	}

	plan, vars, images, err := encodePlannerJSON(p)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
		INSERT INTO planners (`+plannerColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.ConversationID, string(p.Status), plan, p.UserQuestion, vars, images,
		p.FinalAnswer, boolToInt(p.CleanedUp), p.Error, formatTime(p.CreatedAt), formatTime(p.UpdatedAt))
	if err != nil {
		return fmt.Errorf("create planner: %w", err)
	}
	return nil
}

// GetPlanner retrieves a planner by ID.
func (db *DB) GetPlanner(id string) (*models.Planner, error) {
	row := db.QueryRow(`SELECT `+plannerColumns+` FROM planners WHERE id = ?`, id)

	p, err := scanPlanner(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get planner: %w", err)
	}
	return p, nil
}

// UpdatePlanner updates a planner. The cleaned_up flag is not written here;
// it only moves through MarkPlannerCleanedUp.
func (db *DB) UpdatePlanner(p *models.Planner) error {
	p.UpdatedAt = time.Now()

	plan, vars, images, err := encodePlannerJSON(p)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
		UPDATE planners SET conversation_id = ?, status = ?, execution_plan = ?, user_question = ?,
			variable_file_refs = ?, image_file_refs = ?, final_answer = ?, error = ?, updated_at = ?
		WHERE id = ?
	`, p.ConversationID, string(p.Status), plan, p.UserQuestion, vars, images, p.FinalAnswer,
		p.Error, formatTime(p.UpdatedAt), p.ID)
	if err != nil {
		return fmt.Errorf("update planner: %w", err)
	}
	return nil
}

// ListPlanners lists planners, newest first, optionally filtered by status.
func (db *DB) ListPlanners(status *models.PlannerStatus) ([]models.Planner, error) {
	var rows *sql.Rows
	var err error

	if status != nil {
		rows, err = db.Query(`
			SELECT `+plannerColumns+` FROM planners WHERE status = ? ORDER BY created_at DESC
		`, string(*status))
	} else {
		rows, err = db.Query(`SELECT ` + plannerColumns + ` FROM planners ORDER BY created_at DESC`)
	}
	if err != nil {
		return nil, fmt.Errorf("list planners: %w", err)
	}
	defer rows.Close()

	var planners []models.Planner
	for rows.Next() {
		p, err := scanPlanner(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan planner: %w", err)
		}
		planners = append(planners, *p)
	}
	return planners, rows.Err()
}

// MarkPlannerCleanedUp flips the cleaned_up flag. It returns true only for
// the single caller that performed the flip, which makes cleanup run at most
// once per planner even when synthesis is evaluated concurrently.
func (db *DB) MarkPlannerCleanedUp(id string) (bool, error) {
	result, err := db.Exec(`
		UPDATE planners SET cleaned_up = 1, updated_at = ?
		WHERE id = ? AND cleaned_up = 0
	`, formatTime(time.Now()), id)
	if err != nil {
		return false, fmt.Errorf("mark planner cleaned up: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("get rows affected: %w", err)
	}
	return n == 1, nil
}

func encodePlannerJSON(p *models.Planner) (plan, vars, images string, err error) {
	if plan, err = encodeJSON(p.ExecutionPlan, "[]"); err != nil {
		return "", "", "", fmt.Errorf("encode execution plan: %w", err)
	}
	if vars, err = encodeJSON(p.VariableFileRefs, "{}"); err != nil {
		return "", "", "", fmt.Errorf("encode variable refs: %w", err)
	}
	if images, err = encodeJSON(p.ImageFileRefs, "{}"); err != nil {
		return "", "", "", fmt.Errorf("encode image refs: %w", err)
	}
	return plan, vars, images, nil
}

func scanPlanner(scan func(dest ...any) error) (*models.Planner, error) {
	var p models.Planner
	var status, plan, vars, images, createdAt, updatedAt string
	var cleanedUp int
	err := scan(&p.ID, &p.ConversationID, &status, &plan, &p.UserQuestion, &vars, &images,
		&p.FinalAnswer, &cleanedUp, &p.Error, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	p.Status = models.PlannerStatus(status)
	p.CleanedUp = cleanedUp != 0
	if err := decodeJSON(plan, &p.ExecutionPlan); err != nil {
		return nil, fmt.Errorf("decode execution plan: %w", err)
	}
	if err := decodeJSON(vars, &p.VariableFileRefs); err != nil {
		return nil, fmt.Errorf("decode variable refs: %w", err)
	}
	if err := decodeJSON(images, &p.ImageFileRefs); err != nil {
		return nil, fmt.Errorf("decode image refs: %w", err)
	}
	p.CreatedAt, _ = parseTime(createdAt)
	p.UpdatedAt, _ = parseTime(updatedAt)
	return &p, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
