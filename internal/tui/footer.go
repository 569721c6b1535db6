package tui

import (
	"github.com/charmbracelet/lipgloss"
)

// Footer renders the status message and keyboard hints.
type Footer struct {
	message string
	isError bool
	width   int

	errorStyle lipgloss.Style
	infoStyle  lipgloss.Style
	hintStyle  lipgloss.Style
}

// NewFooter creates a new Footer instance.
func NewFooter() *Footer {
	return &Footer{
		width: 80,

		errorStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true),

		infoStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("28")),

		hintStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")),
	}
}

// SetMessage sets the status message.
func (f *Footer) SetMessage(message string, isError bool) {
	f.message = message
	f.isError = isError
}

// SetWidth sets the footer width.
func (f *Footer) SetWidth(width int) {
	f.width = width
}

// View renders the footer.
func (f *Footer) View() string {
	hints := f.hintStyle.Render("tab panel · j/k move · / filter · p pause · r resume · s stop · q quit")
	if f.message == "" {
		return hints
	}
	style := f.infoStyle
	if f.isError {
		style = f.errorStyle
	}
	return lipgloss.JoinVertical(lipgloss.Left, style.Render(truncate(f.message, f.width)), hints)
}
