package tui

import (
	"fmt"
	"strings"

	"github.com/ShayCichocki/taskloom/pkg/models"
)

// PlannersPanel lists planners and their plan progress.
type PlannersPanel struct {
	planners []models.Planner
	selected int
	focused  bool
	width    int
	height   int
}

// NewPlannersPanel creates a new PlannersPanel.
func NewPlannersPanel() *PlannersPanel {
	return &PlannersPanel{width: 40, height: 10}
}

// SetPlanners replaces the planner list.
func (p *PlannersPanel) SetPlanners(planners []models.Planner) {
	p.planners = planners
	if p.selected >= len(planners) {
		p.selected = max(len(planners)-1, 0)
	}
}

// SetFocused sets whether the panel has focus.
func (p *PlannersPanel) SetFocused(focused bool) {
	p.focused = focused
}

// SetSize sets the panel's outer size.
func (p *PlannersPanel) SetSize(width, height int) {
	p.width = width
	p.height = height
}

// MoveUp moves the selection up.
func (p *PlannersPanel) MoveUp() {
	if p.selected > 0 {
		p.selected--
	}
}

// MoveDown moves the selection down.
func (p *PlannersPanel) MoveDown() {
	if p.selected < len(p.planners)-1 {
		p.selected++
	}
}

// progress returns "done/total" for the planner's plan.
func progress(pl models.Planner) string {
	total := len(pl.ExecutionPlan)
	return fmt.Sprintf("%d/%d", total-pl.ExecutionPlan.Remaining(), total)
}

// View renders the panel.
func (p *PlannersPanel) View() string {
	inner := p.width - 4

	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("Planners (%d)", len(p.planners))))
	b.WriteString("\n")

	if len(p.planners) == 0 {
		b.WriteString(normalStyle.Render("  No planners"))
		return p.frame(b.String())
	}

	rows := max((p.height-4)/2, 1)
	start := 0
	if p.selected >= rows {
		start = p.selected - rows + 1
	}
	end := min(start+rows, len(p.planners))

	for i := start; i < end; i++ {
		pl := p.planners[i]
		head := truncate(fmt.Sprintf("%-9s %s %s", pl.Status, progress(pl), shortID(pl.ID)), inner)
		question := truncate("  "+strings.Join(strings.Fields(pl.UserQuestion), " "), inner)
		if i == p.selected && p.focused {
			b.WriteString(selectedStyle.Render(head))
		} else {
			b.WriteString(plannerStyle(pl.Status).Render(head))
		}
		b.WriteString("\n")
		b.WriteString(dimStyle.Render(question))
		b.WriteString("\n")
	}
	return p.frame(strings.TrimRight(b.String(), "\n"))
}

func (p *PlannersPanel) frame(content string) string {
	style := panelStyle
	if p.focused {
		style = focusedPanelStyle
	}
	return style.Width(p.width - 2).Height(p.height - 2).Render(content)
}
