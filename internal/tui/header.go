package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/ShayCichocki/taskloom/pkg/models"
)

// statusOrder is the display order of task counts.
var statusOrder = []models.TaskStatus{
	models.TaskPending,
	models.TaskRunning,
	models.TaskCompleted,
	models.TaskFailed,
}

// Header renders the title bar with task counts and control state.
type Header struct {
	width int

	titleStyle  lipgloss.Style
	labelStyle  lipgloss.Style
	pausedStyle lipgloss.Style
	dimStyle    lipgloss.Style
}

// NewHeader creates a new Header.
func NewHeader() *Header {
	return &Header{
		width: 80,
		titleStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#4ECDC4")).
			Bold(true),
		labelStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("243")),
		pausedStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")).
			Bold(true),
		dimStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")),
	}
}

// SetWidth sets the header width.
func (h *Header) SetWidth(width int) {
	h.width = width
}

// View renders the header for a snapshot.
func (h *Header) View(snap Snapshot) string {
	var parts []string
	for _, s := range statusOrder {
		parts = append(parts, statusStyle(s).Render(fmt.Sprintf("%s %d", strings.ToLower(string(s)), snap.Counts[s])))
	}

	state := h.labelStyle.Render("processor running")
	switch {
	case snap.Stopped:
		state = h.pausedStyle.Render("processor stopping")
	case snap.Paused:
		state = h.pausedStyle.Render("processor paused")
	}

	at := ""
	if !snap.At.IsZero() {
		at = h.dimStyle.Render("updated " + snap.At.Format(time.TimeOnly))
	}

	line := lipgloss.JoinHorizontal(lipgloss.Top,
		h.titleStyle.Render("taskloom"), "  ",
		strings.Join(parts, h.dimStyle.Render(" · ")), "  ",
		state, "  ", at)
	return lipgloss.NewStyle().Width(h.width).PaddingBottom(1).Render(line)
}

// Height returns the header height in lines.
func (h *Header) Height() int {
	return 2
}
