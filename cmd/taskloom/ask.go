package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/taskloom/internal/artifact"
	"github.com/ShayCichocki/taskloom/internal/events"
	"github.com/ShayCichocki/taskloom/internal/planner"
	"github.com/ShayCichocki/taskloom/internal/router"
	"github.com/ShayCichocki/taskloom/pkg/models"
)

// uploadsEntity owns artifacts uploaded from the command line.
const uploadsEntity = "uploads"

var (
	askConversation string
	askVars         []string
	askImages       []string
	askDirect       bool
	askWait         bool
	askTimeout      time.Duration
)

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Submit a question",
	Long: `Submit a question to the router, which either answers it directly or
starts a planner. With --direct the router is skipped and a planner is
started right away.

Variables are JSON files (a list of records or {"columns", "rows"} for
tables); images are PNG files. Both are stored as artifacts and passed to
the planner by reference.

A running 'taskloom serve' processes the question. With --wait the command
blocks until the answer is ready.

Examples:
  taskloom ask "What is the average order value?" --var orders=orders.json --wait
  taskloom ask "Plot it by month" --conversation 3f2c... --wait
  taskloom ask --direct "Describe this chart" --image chart=chart.png`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().StringVar(&askConversation, "conversation", "", "Continue an existing conversation")
	askCmd.Flags().StringArrayVar(&askVars, "var", nil, "Variable as name=path.json (repeatable)")
	askCmd.Flags().StringArrayVar(&askImages, "image", nil, "Image as name=path.png (repeatable)")
	askCmd.Flags().BoolVar(&askDirect, "direct", false, "Start a planner without routing")
	askCmd.Flags().BoolVar(&askWait, "wait", false, "Wait for the answer")
	askCmd.Flags().DurationVar(&askTimeout, "timeout", 30*time.Minute, "Maximum time to wait")
}

func runAsk(cmd *cobra.Command, args []string) error {
	question := strings.Join(args, " ")

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	vars, err := uploadFiles(a.artifacts, askVars)
	if err != nil {
		return err
	}
	images, err := uploadFiles(a.artifacts, askImages)
	if err != nil {
		return err
	}

	// Handlers run in 'serve'; this process only submits.
	ag, err := a.newAgents(nil, events.Nop{})
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	ctx, cancelTimeout := context.WithTimeout(ctx, askTimeout)
	defer cancelTimeout()

	if askDirect {
		p, err := ag.planner.Start(planner.Request{
			Question:       question,
			ConversationID: askConversation,
			VariableRefs:   vars,
			ImageRefs:      images,
		})
		if err != nil {
			return err
		}
		printStatus("✓", fmt.Sprintf("Planner %s started", p.ID), color.FgGreen)
		if !askWait {
			return nil
		}
		return waitPlanner(ctx, a, p.ID)
	}

	convID, taskID, err := ag.router.Submit(router.Message{
		ConversationID: askConversation,
		Text:           question,
		VariableRefs:   vars,
		ImageRefs:      images,
	})
	if err != nil {
		return err
	}
	printStatus("✓", fmt.Sprintf("Submitted to conversation %s", convID), color.FgGreen)
	if !askWait {
		return nil
	}
	return waitConversation(ctx, a, convID, taskID)
}

// uploadFiles stores name=path pairs as artifacts and returns name → ref.
func uploadFiles(store artifact.Store, pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	refs := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		name, path, ok := strings.Cut(pair, "=")
		if !ok || name == "" || path == "" {
			return nil, fmt.Errorf("invalid upload %q: want name=path", pair)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		key := uuid.New().String()[:8] + "-" + name + filepath.Ext(path)
		ref, err := store.Save(uploadsEntity, key, data)
		if err != nil {
			return nil, fmt.Errorf("store %s: %w", name, err)
		}
		refs[name] = ref
	}
	return refs, nil
}

const pollInterval = 500 * time.Millisecond

func waitPlanner(ctx context.Context, a *app, plannerID string) error {
	for {
		p, err := a.db.GetPlanner(plannerID)
		if err != nil {
			return err
		}
		if p == nil {
			return fmt.Errorf("planner %s not found", plannerID)
		}
		switch p.Status {
		case models.PlannerCompleted:
			fmt.Println()
			fmt.Println(p.FinalAnswer)
			return nil
		case models.PlannerFailed:
			return fmt.Errorf("planner failed: %s", p.Error)
		}
		if err := sleep(ctx); err != nil {
			return err
		}
	}
}

// waitConversation waits for the routing task, then for any planner the
// router started, and prints the conversation's latest reply.
func waitConversation(ctx context.Context, a *app, convID, taskID string) error {
	for {
		t, err := a.db.GetTask(taskID)
		if err != nil {
			return err
		}
		if t == nil {
			return fmt.Errorf("task %s not found", taskID)
		}
		if t.Status == models.TaskFailed {
			return fmt.Errorf("routing failed: %s", t.Error)
		}
		if t.Status == models.TaskCompleted {
			break
		}
		if err := sleep(ctx); err != nil {
			return err
		}
	}

	for {
		active, err := activePlanners(a, convID)
		if err != nil {
			return err
		}
		if active == 0 {
			break
		}
		if err := sleep(ctx); err != nil {
			return err
		}
	}

	msgs, err := a.db.ListMessages(models.AgentRouter, convID)
	if err != nil {
		return err
	}
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == models.RoleAssistant {
			fmt.Println()
			fmt.Println(msgs[i].Content)
			return nil
		}
	}
	return nil
}

func activePlanners(a *app, convID string) (int, error) {
	planners, err := a.db.ListPlanners(nil)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, p := range planners {
		if p.ConversationID == convID && !p.Status.Terminal() {
			n++
		}
	}
	return n, nil
}

func sleep(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(pollInterval):
		return nil
	}
}
