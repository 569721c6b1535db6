package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/taskloom/pkg/models"
)

var (
	tasksStatus string
	tasksLimit  int
	tasksEntity string
)

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "List tasks",
	Long: `List the most recent tasks.

Examples:
  taskloom tasks                         # latest 20 tasks
  taskloom tasks --status FAILED         # failed tasks with their errors
  taskloom tasks --entity planner:3f2c...  # every task of one planner`,
	RunE: runTasks,
}

func init() {
	tasksCmd.Flags().StringVar(&tasksStatus, "status", "", "Filter by status: PENDING, RUNNING, COMPLETED, FAILED")
	tasksCmd.Flags().IntVarP(&tasksLimit, "limit", "n", 20, "Maximum tasks to show (0 for all)")
	tasksCmd.Flags().StringVar(&tasksEntity, "entity", "", "Show the tasks of one entity as type:id")
}

func runTasks(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	var tasks []models.Task
	switch {
	case tasksEntity != "":
		entityType, entityID, ok := strings.Cut(tasksEntity, ":")
		if !ok || !models.EntityType(entityType).Valid() || entityID == "" {
			return fmt.Errorf("invalid entity %q: want planner|worker|router:id", tasksEntity)
		}
		tasks, err = a.queue.TasksFor(models.EntityType(entityType), entityID)
	case tasksStatus != "":
		status := models.TaskStatus(strings.ToUpper(tasksStatus))
		if !status.Valid() {
			return fmt.Errorf("invalid status %q", tasksStatus)
		}
		tasks, err = a.db.ListTasks(&status, tasksLimit)
	default:
		tasks, err = a.db.ListTasks(nil, tasksLimit)
	}
	if err != nil {
		return fmt.Errorf("list tasks: %w", err)
	}

	if len(tasks) == 0 {
		fmt.Println("No tasks.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TASK\tSTATUS\tFUNCTION\tENTITY\tUPDATED\tERROR")
	for _, t := range tasks {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s:%s\t%s ago\t%s\n",
			t.ID, statusColor(t.Status).Sprint(t.Status), t.FunctionName, t.EntityType, t.EntityID,
			formatDuration(time.Since(t.UpdatedAt)), truncate(t.Error, 60))
	}
	return w.Flush()
}
