package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/ShayCichocki/taskloom/internal/llm"
	"github.com/ShayCichocki/taskloom/internal/processor"
	"github.com/ShayCichocki/taskloom/internal/queue"
	"github.com/ShayCichocki/taskloom/pkg/models"
)

// InitialPlanning produces the first execution plan.
func (h *Handlers) InitialPlanning(ctx context.Context, task models.Task) error {
	return h.guard(ctx, task, h.initialPlanning)
}

func (h *Handlers) initialPlanning(ctx context.Context, plannerID string) error {
	p, err := h.loadPlanner(plannerID)
	if err != nil {
		return err
	}
	if p.Status != models.PlannerPlanning {
		h.logger.Info("planner already planned, skipping", "planner", p.ID, "status", p.Status)
		return nil
	}

	request := fmt.Sprintf("%s\n\nAvailable variables: %s\nAvailable images: %s",
		p.UserQuestion, names(p.VariableFileRefs), names(p.ImageFileRefs))
	if err := h.appendMessage(p.ID, models.RoleUser, request); err != nil {
		return err
	}

	var resp planResponse
	err = llm.RequestJSON(ctx, h.llm, llm.Request{
		System:   initialPlanningPrompt,
		Messages: []llm.Message{llm.UserMessage(request)},
	}, &resp)
	if err != nil {
		return fmt.Errorf("initial planning: %w", err)
	}

	p.ExecutionPlan = models.Plan(resp.Todos).Normalize()
	if err := h.appendMessage(p.ID, models.RoleAssistant, planMessage(resp.Reasoning, p.ExecutionPlan)); err != nil {
		return err
	}

	h.logger.Info("initial plan", "planner", p.ID, "todos", len(p.ExecutionPlan), "remaining", p.ExecutionPlan.Remaining())
	return h.advance(ctx, p)
}

// advance persists the plan and either queues the next todo or completes
// the planner when nothing remains.
func (h *Handlers) advance(ctx context.Context, p *models.Planner) error {
	if p.ExecutionPlan.Remaining() == 0 {
		return h.complete(ctx, p)
	}

	p.Status = models.PlannerExecuting
	if err := h.store.UpdatePlanner(p); err != nil {
		return err
	}
	return h.enqueue(p.ID, processor.TaskCreation, map[string]any{"planner_id": p.ID})
}

// workerBrief is the JSON the model returns for a new worker.
type workerBrief struct {
	TaskDescription    string   `json:"task_description"`
	AcceptanceCriteria string   `json:"acceptance_criteria"`
	Kind               string   `json:"kind"`
	InputVariables     []string `json:"input_variables"`
	InputImages        []string `json:"input_images"`
	Tools              []string `json:"tools"`
}

// TaskCreation creates a worker for the todo flagged as next action.
func (h *Handlers) TaskCreation(ctx context.Context, task models.Task) error {
	return h.guard(ctx, task, h.taskCreation)
}

func (h *Handlers) taskCreation(ctx context.Context, plannerID string) error {
	p, err := h.loadPlanner(plannerID)
	if err != nil {
		return err
	}
	if p.Status.Terminal() {
		h.logger.Info("planner finished, skipping task creation", "planner", p.ID, "status", p.Status)
		return nil
	}

	idx := p.ExecutionPlan.NextActionIndex()
	if idx < 0 {
		if p.ExecutionPlan.Remaining() == 0 {
			return h.complete(ctx, p)
		}
		p.ExecutionPlan = p.ExecutionPlan.Normalize()
		idx = p.ExecutionPlan.NextActionIndex()
	}
	todo := p.ExecutionPlan[idx]

	var brief workerBrief
	err = llm.RequestJSON(ctx, h.llm, llm.Request{
		System: taskCreationPrompt,
		Messages: []llm.Message{llm.UserMessage(fmt.Sprintf(
			"%s\n\nAvailable tools: %s\n\nTodo to delegate:\n%s",
			planState(p), toolList(h.cfg.Tools), todo.Description))},
	}, &brief)
	if err != nil {
		return fmt.Errorf("task creation: %w", err)
	}
	if strings.TrimSpace(brief.TaskDescription) == "" {
		brief.TaskDescription = todo.Description
	}

	kind := models.WorkerKindCode
	if strings.EqualFold(brief.Kind, string(models.WorkerKindSQL)) {
		kind = models.WorkerKindSQL
	}

	w := &models.Worker{
		ID:                 uuid.New().String(),
		PlannerID:          p.ID,
		Kind:               kind,
		TaskStatus:         models.WorkerCreated,
		TaskDescription:    brief.TaskDescription,
		AcceptanceCriteria: brief.AcceptanceCriteria,
		InputVariables:     h.known("variable", p.ID, brief.InputVariables, keys(p.VariableFileRefs)),
		InputImages:        h.known("image", p.ID, brief.InputImages, keys(p.ImageFileRefs)),
		Tools:              h.known("tool", p.ID, brief.Tools, h.cfg.Tools),
		MaxRetry:           h.cfg.WorkerMaxRetry,
	}
	if err := h.store.CreateWorker(w); err != nil {
		return err
	}

	// The flag stays cleared until synthesis picks the next todo.
	p.ExecutionPlan[idx].NextAction = false
	if err := h.store.UpdatePlanner(p); err != nil {
		return err
	}
	if err := h.appendMessage(p.ID, models.RoleAssistant,
		fmt.Sprintf("Delegated todo %d to worker %s (%s): %s", idx+1, w.ID, w.Kind, w.TaskDescription)); err != nil {
		return err
	}

	_, err = h.queue.Enqueue(queue.NewTaskID(), models.EntityWorker, w.ID, string(processor.WorkerInitialisation),
		map[string]any{"worker_id": w.ID, "planner_id": p.ID})
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", processor.WorkerInitialisation, err)
	}

	h.logger.Info("worker created", "planner", p.ID, "worker", w.ID, "kind", w.Kind, "todo", idx+1)
	return nil
}

// known drops requested names that are not available.
func (h *Handlers) known(kind, plannerID string, requested, available []string) []string {
	var out []string
	for _, name := range requested {
		if slices.Contains(available, name) {
			out = append(out, name)
			continue
		}
		h.logger.Warn("worker brief names unknown "+kind, "planner", plannerID, "name", name)
	}
	return out
}

// taskResponse is the structured summary of a worker report.
type taskResponse struct {
	WorkerID        string   `json:"worker_id"`
	Task            string   `json:"task"`
	Status          string   `json:"status"`
	Result          string   `json:"result"`
	OutputVariables []string `json:"output_variables,omitempty"`
	OutputImages    []string `json:"output_images,omitempty"`
}

// Synthesis folds a worker report into the plan and decides completion.
func (h *Handlers) Synthesis(ctx context.Context, task models.Task) error {
	workerID := task.PayloadString("worker_id")
	return h.guard(ctx, task, func(ctx context.Context, plannerID string) error {
		return h.synthesis(ctx, plannerID, workerID)
	})
}

func (h *Handlers) synthesis(ctx context.Context, plannerID, workerID string) error {
	p, err := h.loadPlanner(plannerID)
	if err != nil {
		return err
	}
	if p.Status.Terminal() {
		h.logger.Info("planner finished, skipping synthesis", "planner", p.ID, "status", p.Status)
		return nil
	}

	report := taskResponse{WorkerID: workerID, Status: "missing", Result: "worker record not found"}
	if workerID != "" {
		w, err := h.store.GetWorker(workerID)
		if err != nil {
			return err
		}
		if w != nil {
			if err := h.copyWorkerTrail(p.ID, w.ID); err != nil {
				return err
			}
			report = taskResponse{
				WorkerID:        w.ID,
				Task:            w.TaskDescription,
				Status:          string(w.TaskStatus),
				Result:          w.TaskResult,
				OutputVariables: keys(w.OutputVariableRefs),
				OutputImages:    keys(w.OutputImageRefs),
			}
			if w.TaskStatus == models.WorkerCompleted {
				p.VariableFileRefs = merge(p.VariableFileRefs, w.OutputVariableRefs)
				p.ImageFileRefs = merge(p.ImageFileRefs, w.OutputImageRefs)
			}
		}
	}

	summary, _ := json.MarshalIndent(report, "", "  ")
	if err := h.appendMessage(p.ID, models.RoleUser, "Worker report:\n"+string(summary)); err != nil {
		return err
	}

	msgs, err := h.history(p.ID)
	if err != nil {
		return err
	}
	msgs = append(msgs, llm.UserMessage(planState(p)))

	var resp planResponse
	if err := llm.RequestJSON(ctx, h.llm, llm.Request{System: reevaluatePrompt, Messages: msgs}, &resp); err != nil {
		return fmt.Errorf("re-evaluate plan: %w", err)
	}

	p.ExecutionPlan = models.Plan(resp.Todos).Normalize()
	if err := h.appendMessage(p.ID, models.RoleAssistant, planMessage(resp.Reasoning, p.ExecutionPlan)); err != nil {
		return err
	}

	h.logger.Info("plan re-evaluated", "planner", p.ID, "worker", workerID, "remaining", p.ExecutionPlan.Remaining())
	return h.advance(ctx, p)
}

// copyWorkerTrail appends the worker's assistant messages to the planner log.
func (h *Handlers) copyWorkerTrail(plannerID, workerID string) error {
	msgs, err := h.store.ListMessages(models.AgentWorker, workerID)
	if err != nil {
		return err
	}
	for _, m := range msgs {
		if m.Role != models.RoleAssistant {
			continue
		}
		if err := h.appendMessage(plannerID, models.RoleAssistant, "[worker "+workerID+"] "+m.Content); err != nil {
			return err
		}
	}
	return nil
}

func planMessage(reasoning string, plan models.Plan) string {
	data, _ := json.MarshalIndent(plan, "", "  ")
	if reasoning == "" {
		return "Execution plan:\n" + string(data)
	}
	return reasoning + "\n\nExecution plan:\n" + string(data)
}

func toolList(tools []string) string {
	if len(tools) == 0 {
		return "none"
	}
	return strings.Join(tools, ", ")
}

func keys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

func merge(dst, src map[string]string) map[string]string {
	if len(src) == 0 {
		return dst
	}
	if dst == nil {
		dst = make(map[string]string, len(src))
	}
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
