package state

import (
	"io"

	"github.com/ShayCichocki/taskloom/pkg/models"
)

// TaskStore handles task queue persistence.
type TaskStore interface {
	InsertTask(t *models.Task) error
	GetTask(id string) (*models.Task, error)
	ClaimPendingTasks(limit int) ([]models.Task, error)
	TransitionTask(id string, from, to models.TaskStatus, reason string) (bool, error)
	ListTasksByEntity(entityType models.EntityType, entityID string) ([]models.Task, error)
	ListTasks(status *models.TaskStatus, limit int) ([]models.Task, error)
	CountTasksByStatus() (map[models.TaskStatus]int, error)
	PurgeTasksForEntity(entityType models.EntityType, entityID string) (int64, error)
	RecoverRunningTasks(mode RecoveryMode) (int64, error)
}

// PlannerStore handles planner persistence.
type PlannerStore interface {
	CreatePlanner(p *models.Planner) error
	GetPlanner(id string) (*models.Planner, error)
	UpdatePlanner(p *models.Planner) error
	ListPlanners(status *models.PlannerStatus) ([]models.Planner, error)
	MarkPlannerCleanedUp(id string) (bool, error)
}

// WorkerStore handles worker persistence.
type WorkerStore interface {
	CreateWorker(w *models.Worker) error
	GetWorker(id string) (*models.Worker, error)
	UpdateWorker(w *models.Worker) error
	ListWorkersByPlanner(plannerID string) ([]models.Worker, error)
	DeleteWorkersByPlanner(plannerID string) (int64, error)
}

// ConversationStore handles router thread metadata.
type ConversationStore interface {
	CreateConversation(c *models.Conversation) error
	GetConversation(id string) (*models.Conversation, error)
	UpdateConversation(c *models.Conversation) error
	ListConversations(limit int) ([]models.Conversation, error)
	DeleteConversation(id string) error
}

// MessageStore handles the append-only per-agent message logs.
type MessageStore interface {
	AppendMessage(agentType models.AgentType, agentID string, role models.Role, content string) (*models.Message, error)
	ListMessages(agentType models.AgentType, agentID string) ([]models.Message, error)
	ClearMessages(agentType models.AgentType, agentID string) (int64, error)
}

// Migrator handles database schema migrations.
type Migrator interface {
	// Migrate applies all pending schema migrations.
	Migrate() error
}

// StateStore defines the interface for durable state.
// Handlers depend on the focused sub-interfaces; the processor and the CLI
// use the composed form.
type StateStore interface {
	io.Closer
	Migrator
	TaskStore
	PlannerStore
	WorkerStore
	ConversationStore
	MessageStore
}

// Compile-time verification that DB implements all interfaces.
var (
	_ StateStore        = (*DB)(nil)
	_ Migrator          = (*DB)(nil)
	_ TaskStore         = (*DB)(nil)
	_ PlannerStore      = (*DB)(nil)
	_ WorkerStore       = (*DB)(nil)
	_ ConversationStore = (*DB)(nil)
	_ MessageStore      = (*DB)(nil)
)
