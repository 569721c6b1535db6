package main

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/taskloom/internal/artifact"
	"github.com/ShayCichocki/taskloom/internal/events"
	"github.com/ShayCichocki/taskloom/internal/state"
	"github.com/ShayCichocki/taskloom/pkg/models"
)

var (
	cleanupForce   bool
	cleanupDryRun  bool
	cleanupVerbose bool
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Purge finished tasks and reclaim failed planners",
	Long: `Remove data that no longer serves a running request.

This command:
  - Deletes COMPLETED and FAILED task rows of finished planners, their
    workers and routed messages. PENDING and RUNNING rows are never touched.
  - Reclaims failed planners: their workers, worker logs and artifacts
  - Reports artifacts whose owner no longer exists and removes them

Examples:
  taskloom cleanup              # Interactive cleanup with confirmation
  taskloom cleanup --force      # Skip confirmation prompt
  taskloom cleanup --dry-run    # Show what would be removed`,
	RunE: runCleanup,
}

func init() {
	cleanupCmd.Flags().BoolVarP(&cleanupForce, "force", "f", false, "Skip confirmation prompt")
	cleanupCmd.Flags().BoolVar(&cleanupDryRun, "dry-run", false, "Show what would be removed without removing")
	cleanupCmd.Flags().BoolVarP(&cleanupVerbose, "verbose", "v", false, "Show each entity as it's purged")
}

// entityRef identifies the owner of a group of tasks.
type entityRef struct {
	Type models.EntityType
	ID   string
}

func (e entityRef) String() string {
	return string(e.Type) + ":" + e.ID
}

// cleanupPlan lists what a cleanup run would remove.
type cleanupPlan struct {
	// Entities have only finished tasks and no live owner.
	Entities []entityRef
	// FailedPlanners still hold workers and artifacts.
	FailedPlanners []string
	// OrphanArtifacts are artifact owners that no longer exist.
	OrphanArtifacts []string
}

func (p cleanupPlan) empty() bool {
	return len(p.Entities) == 0 && len(p.FailedPlanners) == 0 && len(p.OrphanArtifacts) == 0
}

type cleanupStore interface {
	state.TaskStore
	state.PlannerStore
	state.WorkerStore
}

// planCleanup inspects the store and artifacts without changing anything.
func planCleanup(store cleanupStore, artifacts artifact.Store) (cleanupPlan, error) {
	var plan cleanupPlan

	planners, err := store.ListPlanners(nil)
	if err != nil {
		return plan, fmt.Errorf("list planners: %w", err)
	}
	plannerByID := make(map[string]models.Planner, len(planners))
	workerOwner := make(map[string]string)
	for _, p := range planners {
		plannerByID[p.ID] = p
		if p.Status == models.PlannerFailed && !p.CleanedUp {
			plan.FailedPlanners = append(plan.FailedPlanners, p.ID)
		}
		workers, err := store.ListWorkersByPlanner(p.ID)
		if err != nil {
			return plan, fmt.Errorf("list workers: %w", err)
		}
		for _, w := range workers {
			workerOwner[w.ID] = p.ID
		}
	}

	finished := func(plannerID string) bool {
		p, ok := plannerByID[plannerID]
		return !ok || p.Status.Terminal()
	}

	tasks, err := store.ListTasks(nil, 0)
	if err != nil {
		return plan, fmt.Errorf("list tasks: %w", err)
	}
	active := make(map[entityRef]bool)
	for _, t := range tasks {
		e := entityRef{t.EntityType, t.EntityID}
		active[e] = active[e] || !t.Status.Terminal()
	}
	for e, busy := range active {
		if busy {
			continue
		}
		switch e.Type {
		case models.EntityPlanner:
			if !finished(e.ID) {
				continue
			}
		case models.EntityWorker:
			if owner, ok := workerOwner[e.ID]; ok && !finished(owner) {
				continue
			}
		}
		plan.Entities = append(plan.Entities, e)
	}
	sort.Slice(plan.Entities, func(i, j int) bool { return plan.Entities[i].String() < plan.Entities[j].String() })

	owners, err := artifacts.Entities()
	if err != nil {
		return plan, fmt.Errorf("list artifact owners: %w", err)
	}
	for _, id := range owners {
		if id == uploadsEntity {
			continue
		}
		if _, ok := plannerByID[id]; ok {
			continue
		}
		if _, ok := workerOwner[id]; ok {
			continue
		}
		plan.OrphanArtifacts = append(plan.OrphanArtifacts, id)
	}
	return plan, nil
}

func runCleanup(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	plan, err := planCleanup(a.db, a.artifacts)
	if err != nil {
		return err
	}
	if plan.empty() {
		fmt.Println("Nothing to clean up.")
		return nil
	}

	fmt.Printf("Found %d finished owner(s) with task rows, %d failed planner(s), %d orphaned artifact owner(s).\n",
		len(plan.Entities), len(plan.FailedPlanners), len(plan.OrphanArtifacts))
	if cleanupVerbose || cleanupDryRun {
		for _, e := range plan.Entities {
			fmt.Printf("  - tasks of %s\n", e)
		}
		for _, id := range plan.FailedPlanners {
			fmt.Printf("  - failed planner %s\n", id)
		}
		for _, id := range plan.OrphanArtifacts {
			fmt.Printf("  - artifacts of %s\n", id)
		}
	}

	if cleanupDryRun {
		fmt.Println("Dry run mode - nothing was removed.")
		return nil
	}

	if !cleanupForce {
		fmt.Print("Remove these? [y/N] ")
		reader := bufio.NewReader(os.Stdin)
		response, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("read confirmation: %w", err)
		}
		response = strings.TrimSpace(strings.ToLower(response))
		if response != "y" && response != "yes" {
			fmt.Println("Cleanup cancelled.")
			return nil
		}
	}

	ag, err := a.newAgents(nil, events.Nop{})
	if err != nil {
		return err
	}
	res, err := applyCleanup(plan, a.db, a.artifacts, ag.planner.Reclaim)
	if err != nil {
		return err
	}

	printStatus("✓", fmt.Sprintf("Removed %d task row(s), reclaimed %d planner(s), deleted artifacts of %d owner(s).",
		res.tasks, res.planners, res.artifacts), color.FgGreen)
	return nil
}

type cleanupResult struct {
	tasks     int64
	planners  int
	artifacts int
}

// applyCleanup executes plan. Reclaiming runs first so purged workers do
// not leave artifacts behind.
func applyCleanup(plan cleanupPlan, store state.TaskStore, artifacts artifact.Store, reclaim func(string) (bool, error)) (cleanupResult, error) {
	var res cleanupResult

	for _, id := range plan.FailedPlanners {
		ran, err := reclaim(id)
		if err != nil {
			return res, fmt.Errorf("reclaim planner %s: %w", id, err)
		}
		if ran {
			res.planners++
		}
	}

	for _, e := range plan.Entities {
		n, err := store.PurgeTasksForEntity(e.Type, e.ID)
		if err != nil {
			return res, err
		}
		res.tasks += n
		if cleanupVerbose && n > 0 {
			fmt.Printf("  purged %d task(s) of %s\n", n, e)
		}
	}

	for _, id := range plan.OrphanArtifacts {
		removed, err := artifacts.DeleteAll(id)
		if err != nil {
			return res, fmt.Errorf("delete artifacts of %s: %w", id, err)
		}
		if removed {
			res.artifacts++
		}
	}
	return res, nil
}
