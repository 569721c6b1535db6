package tui

import (
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShayCichocki/taskloom/pkg/models"
)

func keyRunes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func sampleSnapshot() Snapshot {
	now := time.Now()
	return Snapshot{
		Counts: map[models.TaskStatus]int{models.TaskPending: 2, models.TaskFailed: 1},
		Tasks: []models.Task{
			{ID: "t1", EntityType: models.EntityPlanner, EntityID: "planner-aaaa-1", FunctionName: "initial_planning", Status: models.TaskCompleted, UpdatedAt: now},
			{ID: "t2", EntityType: models.EntityWorker, EntityID: "worker-bbbb-2", FunctionName: "worker_initialisation", Status: models.TaskFailed, Error: "boom", UpdatedAt: now},
			{ID: "t3", EntityType: models.EntityPlanner, EntityID: "planner-aaaa-1", FunctionName: "synthesis", Status: models.TaskPending, UpdatedAt: now},
		},
		Planners: []models.Planner{
			{ID: "planner-aaaa-1", Status: models.PlannerExecuting, UserQuestion: "Chart revenue per region",
				ExecutionPlan: models.Plan{{Description: "load", Completed: true}, {Description: "chart"}}},
		},
		Paused: true,
		At:     now,
	}
}

type fakeStore struct {
	err error
}

func (f fakeStore) CountTasksByStatus() (map[models.TaskStatus]int, error) {
	return sampleSnapshot().Counts, f.err
}

func (f fakeStore) ListTasks(_ *models.TaskStatus, limit int) ([]models.Task, error) {
	tasks := sampleSnapshot().Tasks
	if limit > 0 && limit < len(tasks) {
		tasks = tasks[:limit]
	}
	return tasks, nil
}

func (f fakeStore) ListPlanners(*models.PlannerStatus) ([]models.Planner, error) {
	return sampleSnapshot().Planners, nil
}

func TestStoreSource(t *testing.T) {
	source := StoreSource(fakeStore{}, 2, func() (bool, bool) { return true, false })
	snap, err := source()
	require.NoError(t, err)
	assert.Len(t, snap.Tasks, 2)
	assert.Len(t, snap.Planners, 1)
	assert.True(t, snap.Paused)
	assert.False(t, snap.At.IsZero())

	_, err = StoreSource(fakeStore{err: errors.New("locked")}, 2, nil)()
	assert.EqualError(t, err, "locked")
}

func TestMonitor_SnapshotRenders(t *testing.T) {
	m := NewMonitor(func() (Snapshot, error) { return sampleSnapshot(), nil }, Controls{}, time.Second)
	m.Update(tea.WindowSizeMsg{Width: 140, Height: 30})
	m.Update(snapshotMsg{snap: sampleSnapshot()})

	view := m.View()
	assert.Contains(t, view, "Tasks (3)")
	assert.Contains(t, view, "initial_planning")
	assert.Contains(t, view, "Planners (1)")
	assert.Contains(t, view, "1/2")
	assert.Contains(t, view, "processor paused")
	assert.Contains(t, view, "pending 2")
}

func TestMonitor_FetchAndTick(t *testing.T) {
	calls := 0
	m := NewMonitor(func() (Snapshot, error) {
		calls++
		return sampleSnapshot(), nil
	}, Controls{}, time.Millisecond)

	msg := m.fetch()()
	snap, ok := msg.(snapshotMsg)
	require.True(t, ok)
	assert.Len(t, snap.snap.Tasks, 3)
	assert.Equal(t, 1, calls)

	_, cmd := m.Update(tickMsg(time.Now()))
	assert.NotNil(t, cmd, "tick schedules a refresh")
}

func TestMonitor_RefreshError(t *testing.T) {
	m := NewMonitor(func() (Snapshot, error) { return Snapshot{}, nil }, Controls{}, time.Second)
	m.Update(snapshotMsg{err: errors.New("database is locked")})
	assert.Contains(t, m.View(), "refresh failed: database is locked")
}

func TestMonitor_FocusAndSelection(t *testing.T) {
	m := NewMonitor(func() (Snapshot, error) { return sampleSnapshot(), nil }, Controls{}, time.Second)
	m.Update(snapshotMsg{snap: sampleSnapshot()})

	assert.Equal(t, PanelTasks, m.Focused())
	m.Update(keyRunes("j"))
	task, ok := m.tasks.Selected()
	require.True(t, ok)
	assert.Equal(t, "t2", task.ID)
	assert.Contains(t, m.View(), "boom", "selected failed task shows its error")

	m.Update(tea.KeyMsg{Type: tea.KeyTab})
	assert.Equal(t, PanelPlanners, m.Focused())
}

func TestMonitor_Filter(t *testing.T) {
	m := NewMonitor(func() (Snapshot, error) { return sampleSnapshot(), nil }, Controls{}, time.Second)
	m.Update(snapshotMsg{snap: sampleSnapshot()})

	m.Update(keyRunes("/"))
	for _, r := range "worker" {
		m.Update(keyRunes(string(r)))
	}
	assert.Len(t, m.tasks.Visible(), 1)

	m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	assert.False(t, m.filtering)
	assert.Len(t, m.tasks.Visible(), 1, "filter stays after enter")

	m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	assert.Len(t, m.tasks.Visible(), 3)
}

func TestMonitor_Controls(t *testing.T) {
	var sent []string
	controls := Controls{
		Pause:  func() error { sent = append(sent, "pause"); return nil },
		Resume: func() error { return errors.New("no signals dir") },
	}
	m := NewMonitor(func() (Snapshot, error) { return sampleSnapshot(), nil }, controls, time.Second)

	_, cmd := m.Update(keyRunes("p"))
	assert.NotNil(t, cmd)
	assert.Equal(t, []string{"pause"}, sent)
	assert.Contains(t, m.View(), "pause signal sent")

	m.Update(keyRunes("r"))
	assert.Contains(t, m.View(), "resume failed: no signals dir")

	m.Update(keyRunes("s"))
	assert.Contains(t, m.View(), "stop is not available")
}

func TestMonitor_Quit(t *testing.T) {
	m := NewMonitor(func() (Snapshot, error) { return Snapshot{}, nil }, Controls{}, time.Second)
	_, cmd := m.Update(keyRunes("q"))
	require.NotNil(t, cmd)
	_, ok := cmd().(tea.QuitMsg)
	assert.True(t, ok)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "ab…", truncate("abcdef", 3))
	assert.Equal(t, "", truncate("abc", 0))
	assert.True(t, strings.HasSuffix(truncate("ééééé", 4), "…"))
}
