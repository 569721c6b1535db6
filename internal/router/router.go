// Package router decides, per user message, whether a conversation turn is
// answered directly or handed to a new planner.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/ShayCichocki/taskloom/internal/llm"
	"github.com/ShayCichocki/taskloom/internal/planner"
	"github.com/ShayCichocki/taskloom/internal/processor"
	"github.com/ShayCichocki/taskloom/internal/queue"
	"github.com/ShayCichocki/taskloom/internal/state"
	"github.com/ShayCichocki/taskloom/pkg/models"
)

// Route actions.
const (
	ActionAnswer = "answer"
	ActionPlan   = "plan"
)

const titleLength = 60

const routePrompt = `You are the router of a data analysis assistant. Route the user message.

Choose "answer" when the message can be answered directly from the conversation: greetings, clarifications, questions about earlier results. Choose "plan" when answering needs computation over data, code, queries or charts.

Also suggest a short title for the conversation.

Return ONLY a JSON object with this exact structure (no other text):
{"action": "answer|plan", "reply": "Your answer, or a one-line note that you are working on it", "title": "Short title"}`

// Decision is the routing verdict for one message.
type Decision struct {
	Action string `json:"action"`
	Reply  string `json:"reply"`
	Title  string `json:"title"`
}

// Store is the persistence the router needs.
type Store interface {
	state.ConversationStore
	state.MessageStore
}

// PlannerStarter creates planners for messages that need planning.
type PlannerStarter interface {
	Start(req planner.Request) (*models.Planner, error)
}

// Handlers holds the router task handler.
type Handlers struct {
	store    Store
	queue    *queue.Queue
	llm      llm.Client
	planners PlannerStarter
	logger   *slog.Logger
}

// New creates the router. A nil logger uses slog.Default.
func New(store Store, q *queue.Queue, client llm.Client, planners PlannerStarter, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		store:    store,
		queue:    q,
		llm:      client,
		planners: planners,
		logger:   logger.With("component", "router"),
	}
}

// Register adds the router handler to the registry.
func (h *Handlers) Register(r *processor.Registry) error {
	return r.Register(processor.RouteMessage, h.RouteMessage)
}

// Message is a user message submitted to a conversation.
type Message struct {
	// ConversationID continues an existing thread. Empty starts a new one.
	ConversationID string
	Text           string
	VariableRefs   map[string]string
	ImageRefs      map[string]string
}

// Submit records the conversation and enqueues routing of the message.
// It returns the conversation id and the routing task id.
func (h *Handlers) Submit(msg Message) (string, string, error) {
	if strings.TrimSpace(msg.Text) == "" {
		return "", "", fmt.Errorf("submit: empty message")
	}

	convID := msg.ConversationID
	if convID == "" {
		convID = uuid.New().String()
		if err := h.store.CreateConversation(&models.Conversation{ID: convID}); err != nil {
			return "", "", err
		}
	} else {
		c, err := h.store.GetConversation(convID)
		if err != nil {
			return "", "", err
		}
		if c == nil {
			return "", "", fmt.Errorf("conversation %s not found", convID)
		}
	}

	taskID := queue.NewTaskID()
	_, err := h.queue.Enqueue(taskID, models.EntityRouter, convID, string(processor.RouteMessage), map[string]any{
		"conversation_id": convID,
		"message":         msg.Text,
		"variable_refs":   msg.VariableRefs,
		"image_refs":      msg.ImageRefs,
	})
	if err != nil {
		return "", "", fmt.Errorf("enqueue %s: %w", processor.RouteMessage, err)
	}

	h.logger.Info("message submitted", "conversation", convID, "task", taskID)
	return convID, taskID, nil
}

// RouteMessage answers a message directly or starts a planner for it.
func (h *Handlers) RouteMessage(ctx context.Context, task models.Task) error {
	convID := task.PayloadString("conversation_id")
	if convID == "" {
		convID = task.EntityID
	}
	text := task.PayloadString("message")
	if convID == "" || text == "" {
		return fmt.Errorf("%s: missing conversation_id or message", task.FunctionName)
	}

	c, err := h.store.GetConversation(convID)
	if err != nil {
		return err
	}
	if c == nil {
		return fmt.Errorf("conversation %s not found", convID)
	}

	if _, err := h.store.AppendMessage(models.AgentRouter, convID, models.RoleUser, text); err != nil {
		return err
	}

	history, err := h.store.ListMessages(models.AgentRouter, convID)
	if err != nil {
		return err
	}
	msgs := make([]llm.Message, 0, len(history))
	for _, m := range history {
		msgs = append(msgs, llm.Message{Role: string(m.Role), Content: m.Content})
	}

	var d Decision
	if err := llm.RequestJSON(ctx, h.llm, llm.Request{System: routePrompt, Messages: msgs}, &d); err != nil {
		return fmt.Errorf("route message: %w", err)
	}

	reply := strings.TrimSpace(d.Reply)
	switch strings.ToLower(strings.TrimSpace(d.Action)) {
	case ActionPlan:
		p, err := h.planners.Start(planner.Request{
			Question:       text,
			ConversationID: convID,
			VariableRefs:   payloadRefs(task.Payload["variable_refs"]),
			ImageRefs:      payloadRefs(task.Payload["image_refs"]),
		})
		if err != nil {
			return err
		}
		if reply == "" {
			reply = "Working on it."
		}
		h.logger.Info("message routed to planner", "conversation", convID, "planner", p.ID)
	default:
		if reply == "" {
			return fmt.Errorf("route message: empty reply")
		}
		h.logger.Info("message answered directly", "conversation", convID)
	}

	if _, err := h.store.AppendMessage(models.AgentRouter, convID, models.RoleAssistant, reply); err != nil {
		return err
	}

	if c.Title == "" {
		c.Title = d.Title
		if c.Title == "" {
			c.Title = text
		}
		c.Title = truncateRunes(strings.Join(strings.Fields(c.Title), " "), titleLength)
	}
	c.Preview = planner.Preview(reply)
	return h.store.UpdateConversation(c)
}

// payloadRefs converts a decoded payload map back to name → ref.
func payloadRefs(v any) map[string]string {
	switch m := v.(type) {
	case map[string]string:
		return m
	case map[string]any:
		out := make(map[string]string, len(m))
		for k, val := range m {
			if s, ok := val.(string); ok {
				out[k] = s
			}
		}
		return out
	default:
		return nil
	}
}

func truncateRunes(s string, n int) string {
	if r := []rune(s); len(r) > n {
		return string(r[:n])
	}
	return s
}
