// Package planner implements the planner state machine.
//
// A planner moves planning → executing → completed, or to failed from any
// state. Each transition is a queued task: initial_planning writes the first
// plan, task_creation hands the next todo to a worker, and synthesis folds a
// worker report back into the plan until nothing remains.
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ShayCichocki/taskloom/internal/artifact"
	"github.com/ShayCichocki/taskloom/internal/events"
	"github.com/ShayCichocki/taskloom/internal/llm"
	"github.com/ShayCichocki/taskloom/internal/processor"
	"github.com/ShayCichocki/taskloom/internal/queue"
	"github.com/ShayCichocki/taskloom/internal/state"
	"github.com/ShayCichocki/taskloom/pkg/models"
)

// Store is the persistence the planner needs.
type Store interface {
	state.PlannerStore
	state.WorkerStore
	state.MessageStore
	state.ConversationStore
}

// Config configures the planner handlers.
type Config struct {
	// WorkerMaxRetry is the attempt budget given to each worker.
	WorkerMaxRetry int
	// Tools lists the sandbox helpers a worker brief may request.
	Tools []string
}

// Handlers holds the planner task handlers.
type Handlers struct {
	store     Store
	queue     *queue.Queue
	llm       llm.Client
	artifacts artifact.Store
	cfg       Config
	publisher events.Publisher
	logger    *slog.Logger
}

// Option configures Handlers.
type Option func(*Handlers)

// WithPublisher sets the lifecycle event publisher.
func WithPublisher(pub events.Publisher) Option {
	return func(h *Handlers) { h.publisher = pub }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handlers) { h.logger = l }
}

// New creates the planner handlers.
func New(store Store, q *queue.Queue, client llm.Client, artifacts artifact.Store, cfg Config, opts ...Option) *Handlers {
	if cfg.WorkerMaxRetry <= 0 {
		cfg.WorkerMaxRetry = models.DefaultMaxRetry
	}
	h := &Handlers{
		store:     store,
		queue:     q,
		llm:       client,
		artifacts: artifacts,
		cfg:       cfg,
		publisher: events.Nop{},
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = h.logger.With("component", "planner")
	return h
}

// Register adds the planner handlers to the registry.
func (h *Handlers) Register(r *processor.Registry) error {
	for id, fn := range map[processor.HandlerID]processor.Handler{
		processor.InitialPlanning: h.InitialPlanning,
		processor.TaskCreation:    h.TaskCreation,
		processor.Synthesis:       h.Synthesis,
	} {
		if err := r.Register(id, fn); err != nil {
			return err
		}
	}
	return nil
}

// Request is a new user request for a planner.
type Request struct {
	Question       string
	ConversationID string
	// VariableRefs and ImageRefs map names to artifact refs.
	VariableRefs map[string]string
	ImageRefs    map[string]string
}

// Start creates a planner and enqueues its initial planning task.
func (h *Handlers) Start(req Request) (*models.Planner, error) {
	if strings.TrimSpace(req.Question) == "" {
		return nil, fmt.Errorf("start planner: empty question")
	}

	p := &models.Planner{
		ID:               uuid.New().String(),
		ConversationID:   req.ConversationID,
		Status:           models.PlannerPlanning,
		UserQuestion:     req.Question,
		VariableFileRefs: req.VariableRefs,
		ImageFileRefs:    req.ImageRefs,
	}
	if err := h.store.CreatePlanner(p); err != nil {
		return nil, err
	}
	if err := h.enqueue(p.ID, processor.InitialPlanning, map[string]any{"planner_id": p.ID}); err != nil {
		return nil, err
	}

	h.logger.Info("planner started", "planner", p.ID, "conversation", p.ConversationID)
	return p, nil
}

// planResponse is the JSON the model returns for a plan.
type planResponse struct {
	Reasoning string        `json:"reasoning"`
	Todos     []models.Todo `json:"todos"`
}

// guard marks the planner failed when fn returns an error. The error is
// returned so the task is recorded as FAILED as well.
func (h *Handlers) guard(ctx context.Context, task models.Task, fn func(ctx context.Context, plannerID string) error) error {
	plannerID := task.PayloadString("planner_id")
	if plannerID == "" {
		plannerID = task.EntityID
	}
	if plannerID == "" {
		return fmt.Errorf("%s: missing planner_id", task.FunctionName)
	}

	err := fn(ctx, plannerID)
	if err != nil {
		h.markFailed(ctx, plannerID, err)
	}
	return err
}

// loadPlanner returns the planner or an error when it does not exist.
func (h *Handlers) loadPlanner(id string) (*models.Planner, error) {
	p, err := h.store.GetPlanner(id)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("planner %s not found", id)
	}
	return p, nil
}

func (h *Handlers) markFailed(ctx context.Context, plannerID string, cause error) {
	logger := h.logger.With("planner", plannerID)

	p, err := h.store.GetPlanner(plannerID)
	if err != nil || p == nil {
		logger.Error("planner failed and could not be loaded", "cause", cause, "error", err)
		return
	}
	if p.Status.Terminal() {
		return
	}

	p.Status = models.PlannerFailed
	p.Error = cause.Error()
	if err := h.store.UpdatePlanner(p); err != nil {
		logger.Error("mark planner failed", "cause", cause, "error", err)
		return
	}
	logger.Warn("planner failed", "error", cause)

	if p.ConversationID != "" {
		h.postToConversation(p.ConversationID, "I could not finish this request: "+cause.Error())
	}
	h.publish(ctx, events.PlannerFailed, p.ID, cause.Error())
}

func (h *Handlers) enqueue(plannerID string, fn processor.HandlerID, payload map[string]any) error {
	_, err := h.queue.Enqueue(queue.NewTaskID(), models.EntityPlanner, plannerID, string(fn), payload)
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", fn, err)
	}
	return nil
}

func (h *Handlers) publish(ctx context.Context, t events.Type, plannerID, errText string) {
	err := h.publisher.Publish(ctx, events.Event{
		Type:       t,
		EntityType: string(models.EntityPlanner),
		EntityID:   plannerID,
		Error:      errText,
		Timestamp:  time.Now(),
	})
	if err != nil {
		h.logger.Debug("publish event", "type", string(t), "error", err)
	}
}

// history returns the planner conversation as model messages.
func (h *Handlers) history(plannerID string) ([]llm.Message, error) {
	msgs, err := h.store.ListMessages(models.AgentPlanner, plannerID)
	if err != nil {
		return nil, err
	}
	out := make([]llm.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == models.RoleSystem {
			continue
		}
		out = append(out, llm.Message{Role: string(m.Role), Content: m.Content})
	}
	return out, nil
}

func (h *Handlers) appendMessage(plannerID string, role models.Role, content string) error {
	_, err := h.store.AppendMessage(models.AgentPlanner, plannerID, role, content)
	return err
}

// planState renders the plan and available refs for a prompt.
func planState(p *models.Planner) string {
	plan, _ := json.MarshalIndent(p.ExecutionPlan, "", "  ")
	if len(p.ExecutionPlan) == 0 {
		plan = []byte("[]")
	}
	return fmt.Sprintf(planStatePrompt, p.UserQuestion, plan, names(p.VariableFileRefs), names(p.ImageFileRefs))
}

func names(refs map[string]string) string {
	if len(refs) == 0 {
		return "none"
	}
	return strings.Join(keys(refs), ", ")
}
