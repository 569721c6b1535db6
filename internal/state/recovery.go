package state

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/ShayCichocki/taskloom/pkg/models"
)

// RecoveryMode selects what happens to tasks left RUNNING by a processor
// that died mid-handler.
type RecoveryMode string

const (
	// RecoverRequeue puts interrupted tasks back to PENDING so they run again.
	RecoverRequeue RecoveryMode = "requeue"
	// RecoverFail marks interrupted tasks FAILED with reason "interrupted".
	RecoverFail RecoveryMode = "fail"
)

// InterruptedReason is the error recorded on tasks failed by recovery.
const InterruptedReason = "interrupted"

// ParseRecoveryMode parses a configured recovery mode.
func ParseRecoveryMode(s string) (RecoveryMode, error) {
	switch RecoveryMode(s) {
	case RecoverRequeue, RecoverFail:
		return RecoveryMode(s), nil
	case "":
		return RecoverFail, nil
	default:
		return "", fmt.Errorf("unknown recovery mode %q (want requeue or fail)", s)
	}
}

// RecoverRunningTasks resolves every RUNNING task according to mode and
// returns how many rows it touched. Only call this when no other processor
// shares the database; a live peer's RUNNING tasks are indistinguishable
// from orphaned ones.
func (db *DB) RecoverRunningTasks(mode RecoveryMode) (int64, error) {
	var (
		to     models.TaskStatus
		reason string
	)
	switch mode {
	case RecoverRequeue:
		to = models.TaskPending
	case RecoverFail:
		to, reason = models.TaskFailed, InterruptedReason
	default:
		return 0, fmt.Errorf("unknown recovery mode %q", mode)
	}

	result, err := db.Exec(`
		UPDATE tasks SET status = ?, error = CASE WHEN ? != '' THEN ? ELSE error END, updated_at = ?
		WHERE status = ?
	`, string(to), reason, reason, formatTime(time.Now()), string(models.TaskRunning))
	if err != nil {
		return 0, fmt.Errorf("recover running tasks: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}
	if n > 0 {
		slog.Info("recovered interrupted tasks", "component", "state", "count", n, "mode", string(mode))
	}
	return n, nil
}
