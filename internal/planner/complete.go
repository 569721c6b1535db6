package planner

import (
	"context"
	"fmt"
	"strings"

	"github.com/ShayCichocki/taskloom/internal/events"
	"github.com/ShayCichocki/taskloom/internal/llm"
	"github.com/ShayCichocki/taskloom/pkg/models"
)

const previewLength = 120

// complete writes the final answer, marks the planner completed and runs
// cleanup.
func (h *Handlers) complete(ctx context.Context, p *models.Planner) error {
	msgs, err := h.history(p.ID)
	if err != nil {
		return err
	}
	msgs = append(msgs, llm.UserMessage("Write the final answer to: "+p.UserQuestion))

	var answer string
	resp, err := h.llm.Complete(ctx, llm.Request{System: finalAnswerPrompt, Messages: msgs})
	if err != nil {
		h.logger.Warn("final answer failed, summarizing worker results", "planner", p.ID, "error", err)
		answer = h.fallbackAnswer(p.ID)
	} else {
		answer = strings.TrimSpace(resp.Content)
	}

	p.Status = models.PlannerCompleted
	p.FinalAnswer = answer
	p.Error = ""
	if err := h.store.UpdatePlanner(p); err != nil {
		return err
	}
	if err := h.appendMessage(p.ID, models.RoleAssistant, answer); err != nil {
		h.logger.Warn("append final answer", "planner", p.ID, "error", err)
	}
	h.logger.Info("planner completed", "planner", p.ID, "todos", len(p.ExecutionPlan))

	if p.ConversationID != "" {
		h.postToConversation(p.ConversationID, answer)
	}
	h.publish(ctx, events.PlannerDone, p.ID, "")

	h.cleanup(p.ID)
	return nil
}

// fallbackAnswer lists the results of the planner's workers. It stands in
// for the final answer when the model cannot write one.
func (h *Handlers) fallbackAnswer(plannerID string) string {
	workers, err := h.store.ListWorkersByPlanner(plannerID)
	if err != nil {
		h.logger.Error("list workers for fallback answer", "planner", plannerID, "error", err)
	}

	var b strings.Builder
	b.WriteString("The final answer could not be written. Results of each step:")
	n := 0
	for i := len(workers) - 1; i >= 0; i-- {
		w := workers[i]
		if strings.TrimSpace(w.TaskResult) == "" {
			continue
		}
		fmt.Fprintf(&b, "\n- %s (%s): %s", w.TaskDescription, w.TaskStatus, strings.TrimSpace(w.TaskResult))
		n++
	}
	if n == 0 {
		return "The request finished, but no step produced a result and the final answer could not be written."
	}
	return b.String()
}

// cleanup purges the artifacts, workers and worker logs of a completed
// planner. It runs at most once per planner; failures are logged and never
// change the planner status.
func (h *Handlers) cleanup(plannerID string) {
	logger := h.logger.With("planner", plannerID)

	won, err := h.store.MarkPlannerCleanedUp(plannerID)
	if err != nil {
		logger.Error("cleanup: mark planner", "error", err)
		return
	}
	if !won {
		logger.Debug("cleanup already done")
		return
	}

	workers, err := h.store.ListWorkersByPlanner(plannerID)
	if err != nil {
		logger.Error("cleanup: list workers", "error", err)
	}

	owners := []string{plannerID}
	for _, w := range workers {
		owners = append(owners, w.ID)
	}
	for _, id := range owners {
		if _, err := h.artifacts.DeleteAll(id); err != nil {
			logger.Error("cleanup: delete artifacts", "owner", id, "error", err)
		}
	}

	for _, w := range workers {
		if _, err := h.store.ClearMessages(models.AgentWorker, w.ID); err != nil {
			logger.Error("cleanup: clear worker messages", "worker", w.ID, "error", err)
		}
	}
	n, err := h.store.DeleteWorkersByPlanner(plannerID)
	if err != nil {
		logger.Error("cleanup: delete workers", "error", err)
		return
	}
	logger.Info("planner cleaned up", "workers", n)
}

// postToConversation appends an assistant reply to a router thread.
func (h *Handlers) postToConversation(conversationID, content string) {
	logger := h.logger.With("conversation", conversationID)

	if _, err := h.store.AppendMessage(models.AgentRouter, conversationID, models.RoleAssistant, content); err != nil {
		logger.Error("post to conversation", "error", err)
		return
	}

	c, err := h.store.GetConversation(conversationID)
	if err != nil || c == nil {
		logger.Warn("conversation not found for preview", "error", err)
		return
	}
	c.Preview = Preview(content)
	if err := h.store.UpdateConversation(c); err != nil {
		logger.Error("update conversation preview", "error", err)
	}
}

// Preview shortens content to a single-line conversation preview.
func Preview(content string) string {
	line := strings.Join(strings.Fields(content), " ")
	if r := []rune(line); len(r) > previewLength {
		return string(r[:previewLength]) + "..."
	}
	return line
}

// Reclaim cleans up a failed planner. Completed planners are cleaned up
// when they complete. It reports whether this call performed the cleanup.
func (h *Handlers) Reclaim(plannerID string) (bool, error) {
	p, err := h.loadPlanner(plannerID)
	if err != nil {
		return false, err
	}
	if !p.Status.Terminal() {
		return false, fmt.Errorf("planner %s is still %s", plannerID, p.Status)
	}
	if p.CleanedUp {
		return false, nil
	}
	h.cleanup(p.ID)

	after, err := h.loadPlanner(plannerID)
	if err != nil {
		return false, err
	}
	return after.CleanedUp, nil
}
