package tui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ShayCichocki/taskloom/pkg/models"
)

// Panel indices.
const (
	PanelTasks    = 0
	PanelPlanners = 1
)

// Snapshot is one poll of the queue state.
type Snapshot struct {
	Counts   map[models.TaskStatus]int
	Tasks    []models.Task
	Planners []models.Planner
	Paused   bool
	Stopped  bool
	At       time.Time
}

// Source produces snapshots.
type Source func() (Snapshot, error)

// Store is the read side the monitor polls.
type Store interface {
	CountTasksByStatus() (map[models.TaskStatus]int, error)
	ListTasks(status *models.TaskStatus, limit int) ([]models.Task, error)
	ListPlanners(status *models.PlannerStatus) ([]models.Planner, error)
}

// ControlState reports processor pause and stop state.
type ControlState func() (paused, stopped bool)

// StoreSource polls store for counts, the latest limit tasks and all
// planners. state may be nil.
func StoreSource(store Store, limit int, state ControlState) Source {
	return func() (Snapshot, error) {
		counts, err := store.CountTasksByStatus()
		if err != nil {
			return Snapshot{}, err
		}
		tasks, err := store.ListTasks(nil, limit)
		if err != nil {
			return Snapshot{}, err
		}
		planners, err := store.ListPlanners(nil)
		if err != nil {
			return Snapshot{}, err
		}

		snap := Snapshot{Counts: counts, Tasks: tasks, Planners: planners, At: time.Now()}
		if state != nil {
			snap.Paused, snap.Stopped = state()
		}
		return snap, nil
	}
}

// Controls send commands to the processor. Nil entries are disabled.
type Controls struct {
	Pause  func() error
	Resume func() error
	Stop   func() error
}

type snapshotMsg struct {
	snap Snapshot
	err  error
}

type tickMsg time.Time

// Monitor is the bubbletea model of the queue monitor.
type Monitor struct {
	source   Source
	controls Controls
	refresh  time.Duration

	header   *Header
	tasks    *TasksPanel
	planners *PlannersPanel
	footer   *Footer

	filter    textinput.Model
	filtering bool

	focused int
	width   int
	height  int
	snap    Snapshot
	err     error
}

// NewMonitor creates a monitor polling source every refresh.
func NewMonitor(source Source, controls Controls, refresh time.Duration) *Monitor {
	if refresh <= 0 {
		refresh = time.Second
	}

	filter := textinput.New()
	filter.Placeholder = "function or entity"
	filter.Prompt = "/ "
	filter.CharLimit = 64

	m := &Monitor{
		source:   source,
		controls: controls,
		refresh:  refresh,
		header:   NewHeader(),
		tasks:    NewTasksPanel(),
		planners: NewPlannersPanel(),
		footer:   NewFooter(),
		filter:   filter,
		width:    100,
		height:   30,
	}
	m.setFocus(PanelTasks)
	m.resize()
	return m
}

// NewProgram wraps the monitor in a full-screen program.
func NewProgram(m *Monitor) *tea.Program {
	return tea.NewProgram(m, tea.WithAltScreen())
}

// Init implements tea.Model.
func (m *Monitor) Init() tea.Cmd {
	return tea.Batch(m.fetch(), m.tick())
}

func (m *Monitor) fetch() tea.Cmd {
	return func() tea.Msg {
		snap, err := m.source()
		return snapshotMsg{snap: snap, err: err}
	}
}

func (m *Monitor) tick() tea.Cmd {
	return tea.Tick(m.refresh, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Update implements tea.Model.
func (m *Monitor) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.resize()

	case tickMsg:
		return m, tea.Batch(m.fetch(), m.tick())

	case snapshotMsg:
		m.err = msg.err
		if msg.err != nil {
			m.footer.SetMessage("refresh failed: "+msg.err.Error(), true)
			break
		}
		m.snap = msg.snap
		m.tasks.SetTasks(msg.snap.Tasks)
		m.planners.SetPlanners(msg.snap.Planners)

	case tea.KeyMsg:
		if m.filtering {
			return m, m.updateFilter(msg)
		}
		return m, m.handleKey(msg)
	}
	return m, nil
}

func (m *Monitor) updateFilter(msg tea.KeyMsg) tea.Cmd {
	switch msg.String() {
	case "enter":
		m.filtering = false
		m.filter.Blur()
		return nil
	case "esc":
		m.filtering = false
		m.filter.Blur()
		m.filter.SetValue("")
		m.tasks.SetFilter("")
		return nil
	}

	var cmd tea.Cmd
	m.filter, cmd = m.filter.Update(msg)
	m.tasks.SetFilter(m.filter.Value())
	return cmd
}

func (m *Monitor) handleKey(msg tea.KeyMsg) tea.Cmd {
	switch msg.String() {
	case "q", "ctrl+c":
		return tea.Quit
	case "tab":
		if m.focused == PanelTasks {
			m.setFocus(PanelPlanners)
		} else {
			m.setFocus(PanelTasks)
		}
	case "up", "k":
		if m.focused == PanelTasks {
			m.tasks.MoveUp()
		} else {
			m.planners.MoveUp()
		}
	case "down", "j":
		if m.focused == PanelTasks {
			m.tasks.MoveDown()
		} else {
			m.planners.MoveDown()
		}
	case "/":
		m.filtering = true
		m.setFocus(PanelTasks)
		return m.filter.Focus()
	case "esc":
		m.filter.SetValue("")
		m.tasks.SetFilter("")
	case "p":
		return m.control("pause", m.controls.Pause)
	case "r":
		return m.control("resume", m.controls.Resume)
	case "s":
		return m.control("stop", m.controls.Stop)
	}
	return nil
}

func (m *Monitor) control(name string, fn func() error) tea.Cmd {
	if fn == nil {
		m.footer.SetMessage(name+" is not available", true)
		return nil
	}
	if err := fn(); err != nil {
		m.footer.SetMessage(fmt.Sprintf("%s failed: %v", name, err), true)
		return nil
	}
	m.footer.SetMessage(name+" signal sent", false)
	return m.fetch()
}

func (m *Monitor) setFocus(panel int) {
	m.focused = panel
	m.tasks.SetFocused(panel == PanelTasks)
	m.planners.SetFocused(panel == PanelPlanners)
}

func (m *Monitor) resize() {
	m.header.SetWidth(m.width)
	m.footer.SetWidth(m.width)

	bodyHeight := max(m.height-m.header.Height()-3, 6)
	tasksWidth := m.width * 3 / 5
	m.tasks.SetSize(tasksWidth, bodyHeight)
	m.planners.SetSize(m.width-tasksWidth, bodyHeight)
	m.filter.Width = max(m.width-4, 10)
}

// View implements tea.Model.
func (m *Monitor) View() string {
	body := lipgloss.JoinHorizontal(lipgloss.Top, m.tasks.View(), m.planners.View())

	parts := []string{m.header.View(m.snap), body}
	if m.filtering {
		parts = append(parts, m.filter.View())
	}
	parts = append(parts, m.footer.View())
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

// Focused returns the focused panel index.
func (m *Monitor) Focused() int {
	return m.focused
}
