package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/ShayCichocki/taskloom/pkg/models"
)

var (
	pendingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("244")) // Gray
	runningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("34"))  // Green
	doneStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("28"))  // Dark green
	failedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196")) // Red

	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15"))
	selectedStyle = lipgloss.NewStyle().Background(lipgloss.Color("236")).Foreground(lipgloss.Color("15"))
	normalStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	dimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))

	panelStyle        = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240")).Padding(0, 1)
	focusedPanelStyle = panelStyle.BorderForeground(lipgloss.Color("75"))
)

func statusStyle(s models.TaskStatus) lipgloss.Style {
	switch s {
	case models.TaskRunning:
		return runningStyle
	case models.TaskCompleted:
		return doneStyle
	case models.TaskFailed:
		return failedStyle
	default:
		return pendingStyle
	}
}

func statusIcon(s models.TaskStatus) string {
	switch s {
	case models.TaskRunning:
		return "●"
	case models.TaskCompleted:
		return "✓"
	case models.TaskFailed:
		return "✗"
	default:
		return "○"
	}
}

func plannerStyle(s models.PlannerStatus) lipgloss.Style {
	switch s {
	case models.PlannerExecuting:
		return runningStyle
	case models.PlannerCompleted:
		return doneStyle
	case models.PlannerFailed:
		return failedStyle
	default:
		return pendingStyle
	}
}

// truncate shortens s to n runes, marking the cut with an ellipsis.
func truncate(s string, n int) string {
	r := []rune(s)
	if n <= 0 {
		return ""
	}
	if len(r) <= n {
		return s
	}
	if n == 1 {
		return "…"
	}
	return string(r[:n-1]) + "…"
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
