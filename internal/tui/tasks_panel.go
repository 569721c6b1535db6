package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/ShayCichocki/taskloom/pkg/models"
)

// TasksPanel lists recent tasks.
type TasksPanel struct {
	tasks    []models.Task
	filter   string
	selected int
	focused  bool
	width    int
	height   int
	now      func() time.Time
}

// NewTasksPanel creates a new TasksPanel.
func NewTasksPanel() *TasksPanel {
	return &TasksPanel{width: 60, height: 10, now: time.Now}
}

// SetTasks replaces the task list, keeping the selection in range.
func (p *TasksPanel) SetTasks(tasks []models.Task) {
	p.tasks = tasks
	p.clamp()
}

// SetFilter keeps only tasks whose function or entity contains f.
func (p *TasksPanel) SetFilter(f string) {
	p.filter = strings.ToLower(strings.TrimSpace(f))
	p.clamp()
}

// SetFocused sets whether the panel has focus.
func (p *TasksPanel) SetFocused(focused bool) {
	p.focused = focused
}

// SetSize sets the panel's outer size.
func (p *TasksPanel) SetSize(width, height int) {
	p.width = width
	p.height = height
}

// MoveUp moves the selection up.
func (p *TasksPanel) MoveUp() {
	if p.selected > 0 {
		p.selected--
	}
}

// MoveDown moves the selection down.
func (p *TasksPanel) MoveDown() {
	if p.selected < len(p.Visible())-1 {
		p.selected++
	}
}

// Selected returns the selected task, if any.
func (p *TasksPanel) Selected() (models.Task, bool) {
	visible := p.Visible()
	if len(visible) == 0 {
		return models.Task{}, false
	}
	return visible[p.selected], true
}

// Visible returns the tasks that pass the filter.
func (p *TasksPanel) Visible() []models.Task {
	if p.filter == "" {
		return p.tasks
	}
	var out []models.Task
	for _, t := range p.tasks {
		if strings.Contains(strings.ToLower(t.FunctionName), p.filter) ||
			strings.Contains(strings.ToLower(string(t.EntityType)+":"+t.EntityID), p.filter) {
			out = append(out, t)
		}
	}
	return out
}

func (p *TasksPanel) clamp() {
	if n := len(p.Visible()); p.selected >= n {
		p.selected = max(n-1, 0)
	}
}

// View renders the panel.
func (p *TasksPanel) View() string {
	visible := p.Visible()
	inner := p.width - 4

	var b strings.Builder
	title := fmt.Sprintf("Tasks (%d)", len(visible))
	if p.filter != "" {
		title += dimStyle.Render(" filter: " + p.filter)
	}
	b.WriteString(titleStyle.Render(title))
	b.WriteString("\n")

	if len(visible) == 0 {
		b.WriteString(normalStyle.Render("  No tasks"))
		return p.frame(b.String())
	}

	rows := max(p.height-4, 1)
	start := 0
	if p.selected >= rows {
		start = p.selected - rows + 1
	}
	end := min(start+rows, len(visible))

	for i := start; i < end; i++ {
		t := visible[i]
		age := formatAge(p.now().Sub(t.UpdatedAt))
		line := fmt.Sprintf("%s %-22s %s:%s %s",
			statusIcon(t.Status), truncate(t.FunctionName, 22), t.EntityType, shortID(t.EntityID), age)
		line = truncate(line, inner)
		if i == p.selected && p.focused {
			b.WriteString(selectedStyle.Render(line))
		} else {
			b.WriteString(statusStyle(t.Status).Render(line))
		}
		b.WriteString("\n")
	}

	if t, ok := p.Selected(); ok && t.Error != "" {
		b.WriteString(failedStyle.Render(truncate("  "+t.Error, inner)))
	}
	return p.frame(strings.TrimRight(b.String(), "\n"))
}

func (p *TasksPanel) frame(content string) string {
	style := panelStyle
	if p.focused {
		style = focusedPanelStyle
	}
	return style.Width(p.width - 2).Height(p.height - 2).Render(content)
}

func formatAge(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	default:
		return fmt.Sprintf("%dh", int(d.Hours()))
	}
}
