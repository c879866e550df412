package console

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/crewdeck/crewdeck/internal/worker"
)

// Color palette
var (
	colorRunning   = lipgloss.Color("76")  // green
	colorStarting  = lipgloss.Color("214") // orange
	colorUnhealthy = lipgloss.Color("220") // yellow
	colorCrashed   = lipgloss.Color("196") // bright red
	colorFocused   = lipgloss.Color("39")  // blue
	colorMuted     = lipgloss.Color("242") // gray
	colorWhite     = lipgloss.Color("15")
)

// Styles for the console
var (
	paneBorderStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(colorMuted)

	paneFocusedBorderStyle = lipgloss.NewStyle().
				BorderStyle(lipgloss.RoundedBorder()).
				BorderForeground(colorFocused)

	paneTitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorWhite)

	inputStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(colorFocused).
			Padding(0, 1)

	helpStyle = lipgloss.NewStyle().
			Foreground(colorMuted)

	statusStyles = map[worker.Status]lipgloss.Style{
		worker.StatusStarting:  lipgloss.NewStyle().Foreground(colorStarting),
		worker.StatusRunning:   lipgloss.NewStyle().Foreground(colorRunning).Bold(true),
		worker.StatusUnhealthy: lipgloss.NewStyle().Foreground(colorUnhealthy),
		worker.StatusCrashed:   lipgloss.NewStyle().Foreground(colorCrashed).Bold(true),
		worker.StatusStopping:  lipgloss.NewStyle().Foreground(colorMuted),
	}
)

func statusStyle(s worker.Status) lipgloss.Style {
	if style, ok := statusStyles[s]; ok {
		return style
	}
	return lipgloss.NewStyle().Foreground(colorMuted)
}
