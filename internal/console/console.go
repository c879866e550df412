package console

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/crewdeck/crewdeck/internal/ui"
)

// Console owns the bubbletea program for one run of the multi-pane UI.
type Console struct {
	model *Model
	prog  *tea.Program
}

// New builds a console over the given controller and panes. Styling
// honors NO_COLOR and the CLICOLOR conventions: when color is suppressed
// every style renders as plain text.
func New(ctrl Controller, specs []PaneSpec) *Console {
	lipgloss.SetColorProfile(ui.ColorProfile())
	return &Console{model: NewModel(ctrl, specs)}
}

// Run blocks until the user quits. Workers started by the console are
// cleaned up by the quit key handler before the program exits.
func (c *Console) Run() error {
	c.prog = tea.NewProgram(c.model, tea.WithAltScreen())
	// Pane sinks post from relay goroutines; bind them to the program's
	// queue before the first worker starts.
	c.model.send = c.prog.Send
	if _, err := c.prog.Run(); err != nil {
		return fmt.Errorf("running console: %w", err)
	}
	return nil
}
