package main

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/taskloom/pkg/models"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show queue, planner and conversation state",
	Long: `Display the current state of the queue.

Shows:
  - Task counts per status
  - Whether the processor is paused or stopping
  - Active planners and their plan progress
  - Recent conversations`,
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	counts, err := a.db.CountTasksByStatus()
	if err != nil {
		return fmt.Errorf("count tasks: %w", err)
	}

	fmt.Printf("Database: %s\n", a.db.Path())
	fmt.Printf("  Tasks: %s pending, %s running, %s completed, %s failed\n",
		statusColor(models.TaskPending).Sprint(counts[models.TaskPending]),
		statusColor(models.TaskRunning).Sprint(counts[models.TaskRunning]),
		statusColor(models.TaskCompleted).Sprint(counts[models.TaskCompleted]),
		statusColor(models.TaskFailed).Sprint(counts[models.TaskFailed]))

	paused, stopped := signalState(a.signalsDir())
	switch {
	case stopped:
		fmt.Printf("  Processor: %s\n", color.RedString("stop requested"))
	case paused:
		fmt.Printf("  Processor: %s\n", color.YellowString("paused"))
	default:
		fmt.Println("  Processor: running (when 'taskloom serve' is up)")
	}

	planners, err := a.db.ListPlanners(nil)
	if err != nil {
		return fmt.Errorf("list planners: %w", err)
	}
	displayPlanners(planners)

	conversations, err := a.db.ListConversations(5)
	if err != nil {
		return fmt.Errorf("list conversations: %w", err)
	}
	if len(conversations) > 0 {
		fmt.Println()
		fmt.Println("Recent Conversations:")
		for _, c := range conversations {
			fmt.Printf("  %s: %q %s (%s ago)\n", c.ID, c.Title, color.HiBlackString(c.Preview), formatDuration(time.Since(c.UpdatedAt)))
		}
	}
	return nil
}

func displayPlanners(planners []models.Planner) {
	var active, done []models.Planner
	for _, p := range planners {
		if p.Status.Terminal() {
			done = append(done, p)
		} else {
			active = append(active, p)
		}
	}

	fmt.Printf("  Planners: %d active, %d finished\n", len(active), len(done))

	if len(active) > 0 {
		fmt.Println()
		fmt.Println("Active Planners:")
		for _, p := range active {
			total := len(p.ExecutionPlan)
			fmt.Printf("  %s: %s %d/%d todos (%s)\n", p.ID, p.Status, total-p.ExecutionPlan.Remaining(), total,
				formatDuration(time.Since(p.CreatedAt)))
			fmt.Printf("    %s\n", truncate(p.UserQuestion, 100))
		}
	}

	if len(done) > 0 {
		fmt.Println()
		fmt.Println("Recent Planners:")
		for i, p := range done {
			if i >= 5 {
				break
			}
			status := color.GreenString(string(p.Status))
			if p.Status == models.PlannerFailed {
				status = color.RedString(string(p.Status))
			}
			fmt.Printf("  %s: %s (%s ago)\n", p.ID, status, formatDuration(time.Since(p.UpdatedAt)))
		}
	}
}

func statusColor(s models.TaskStatus) *color.Color {
	switch s {
	case models.TaskRunning:
		return color.New(color.FgCyan)
	case models.TaskCompleted:
		return color.New(color.FgGreen)
	case models.TaskFailed:
		return color.New(color.FgRed)
	default:
		return color.New(color.FgYellow)
	}
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		h := int(d.Hours())
		m := int(d.Minutes()) % 60
		if m > 0 {
			return fmt.Sprintf("%dh%dm", h, m)
		}
		return fmt.Sprintf("%dh", h)
	}
	days := int(d.Hours()) / 24
	return fmt.Sprintf("%dd", days)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
