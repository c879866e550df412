// Package console is the interactive multi-pane terminal front end: one
// viewport per agent pane, a shared input line, and key bindings for pane
// focus and lifecycle actions. All worker interaction goes through the
// Controller; the console never talks to processes or sockets itself.
package console

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/crewdeck/crewdeck/internal/worker"
)

// Controller is the slice of the worker orchestrator the console drives.
type Controller interface {
	StartWorker(paneID, workingDir string, sink worker.OutputSink) error
	SendInput(paneID, text string) error
	StopWorker(paneID string) error
	RestartWorker(paneID string) (string, error)
	GetWorkerStatus(paneID string) (worker.Status, bool)
	CleanupAllWorkers()
}

// PaneSpec describes one pane to open at startup.
type PaneSpec struct {
	ID         string
	WorkingDir string
}

// pane is one agent viewport.
type pane struct {
	id         string
	workingDir string
	vp         viewport.Model
	follow     bool
}

// Model is the bubbletea model for the console.
type Model struct {
	ctrl  Controller
	panes []*pane
	focus int

	input    textinput.Model
	keys     KeyMap
	help     help.Model
	showHelp bool

	width  int
	height int

	// send posts messages into the running program; pane sinks use it
	// from relay goroutines. Defaults to a no-op until the program runs.
	send func(tea.Msg)

	statusLine string
}

// NewModel creates a console model for the given panes.
func NewModel(ctrl Controller, specs []PaneSpec) *Model {
	panes := make([]*pane, 0, len(specs))
	for _, spec := range specs {
		panes = append(panes, &pane{
			id:         spec.ID,
			workingDir: spec.WorkingDir,
			vp:         viewport.New(0, 0),
			follow:     true,
		})
	}

	input := textinput.New()
	input.Placeholder = "type input for the focused pane"
	input.Focus()

	h := help.New()
	h.ShowAll = false

	return &Model{
		ctrl:  ctrl,
		panes: panes,
		input: input,
		keys:  DefaultKeyMap(),
		help:  h,
		send:  func(tea.Msg) {},
	}
}

// startResultMsg reports one pane's worker start.
type startResultMsg struct {
	PaneID string
	Err    error
}

// restartResultMsg reports an explicit restart.
type restartResultMsg struct {
	PaneID    string
	SessionID string
	Err       error
}

// stopResultMsg reports an explicit pane stop.
type stopResultMsg struct {
	PaneID string
	Err    error
}

// statusTickMsg re-renders pane titles at a steady cadence.
type statusTickMsg time.Time

func statusTick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return statusTickMsg(t)
	})
}

// Init starts every pane's worker and the status ticker.
func (m *Model) Init() tea.Cmd {
	cmds := []tea.Cmd{
		textinput.Blink,
		statusTick(),
		tea.SetWindowTitle("Crewdeck"),
	}
	for _, p := range m.panes {
		cmds = append(cmds, m.startPane(p))
	}
	return tea.Batch(cmds...)
}

func (m *Model) startPane(p *pane) tea.Cmd {
	ctrl, send, paneID, dir := m.ctrl, m.send, p.id, p.workingDir
	return func() tea.Msg {
		err := ctrl.StartWorker(paneID, dir, &paneSink{paneID: paneID, send: send})
		return startResultMsg{PaneID: paneID, Err: err}
	}
}

// Update handles one message.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.layout()
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case paneContentMsg:
		if p := m.pane(msg.PaneID); p != nil {
			atBottom := p.vp.AtBottom()
			p.vp.SetContent(msg.Content)
			if p.follow && atBottom {
				p.vp.GotoBottom()
			}
		}
		return m, nil

	case paneRefreshMsg:
		// The message itself forces a repaint.
		return m, nil

	case startResultMsg:
		if msg.Err != nil {
			m.statusLine = fmt.Sprintf("start %s: %v", msg.PaneID, msg.Err)
		}
		return m, nil

	case restartResultMsg:
		if msg.Err != nil {
			m.statusLine = fmt.Sprintf("restart %s: %v", msg.PaneID, msg.Err)
		} else {
			m.statusLine = fmt.Sprintf("restarted %s as session %s", msg.PaneID, msg.SessionID)
		}
		return m, nil

	case stopResultMsg:
		if msg.Err != nil {
			m.statusLine = fmt.Sprintf("stop %s: %v", msg.PaneID, msg.Err)
		} else {
			m.statusLine = fmt.Sprintf("stopped %s", msg.PaneID)
		}
		return m, nil

	case statusTickMsg:
		return m, statusTick()
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		m.ctrl.CleanupAllWorkers()
		return m, tea.Quit

	case key.Matches(msg, m.keys.NextPane):
		if len(m.panes) > 0 {
			m.focus = (m.focus + 1) % len(m.panes)
		}
		return m, nil

	case key.Matches(msg, m.keys.PrevPane):
		if len(m.panes) > 0 {
			m.focus = (m.focus - 1 + len(m.panes)) % len(m.panes)
		}
		return m, nil

	case key.Matches(msg, m.keys.PageUp):
		if p := m.focused(); p != nil {
			p.follow = false
			p.vp.HalfViewUp()
		}
		return m, nil

	case key.Matches(msg, m.keys.PageDown):
		if p := m.focused(); p != nil {
			p.vp.HalfViewDown()
			if p.vp.AtBottom() {
				p.follow = true
			}
		}
		return m, nil

	case key.Matches(msg, m.keys.Submit):
		return m, m.submitInput()

	case key.Matches(msg, m.keys.Restart):
		if p := m.focused(); p != nil {
			ctrl, paneID := m.ctrl, p.id
			return m, func() tea.Msg {
				sessionID, err := ctrl.RestartWorker(paneID)
				return restartResultMsg{PaneID: paneID, SessionID: sessionID, Err: err}
			}
		}
		return m, nil

	case key.Matches(msg, m.keys.Stop):
		if p := m.focused(); p != nil {
			ctrl, paneID := m.ctrl, p.id
			return m, func() tea.Msg {
				return stopResultMsg{PaneID: paneID, Err: ctrl.StopWorker(paneID)}
			}
		}
		return m, nil

	case key.Matches(msg, m.keys.Help):
		m.showHelp = !m.showHelp
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// submitInput hands the input line to the focused pane. The echo shows up
// through the pane's relay, not here, so what the user sees is what the
// worker actually received.
func (m *Model) submitInput() tea.Cmd {
	p := m.focused()
	text := m.input.Value()
	if p == nil || text == "" {
		return nil
	}
	m.input.Reset()
	if err := m.ctrl.SendInput(p.id, text); err != nil {
		m.statusLine = fmt.Sprintf("input %s: %v", p.id, err)
	} else {
		m.statusLine = ""
	}
	return nil
}

func (m *Model) pane(paneID string) *pane {
	for _, p := range m.panes {
		if p.id == paneID {
			return p
		}
	}
	return nil
}

func (m *Model) focused() *pane {
	if len(m.panes) == 0 {
		return nil
	}
	return m.panes[m.focus]
}

// layout sizes the pane viewports to split the width evenly, leaving room
// for borders, titles, the input line, and the help line.
func (m *Model) layout() {
	if len(m.panes) == 0 || m.width <= 0 || m.height <= 0 {
		return
	}
	paneWidth := m.width/len(m.panes) - 2 // border columns
	paneHeight := m.height - 7            // title, borders, input, help
	if paneWidth < 10 {
		paneWidth = 10
	}
	if paneHeight < 3 {
		paneHeight = 3
	}
	for _, p := range m.panes {
		p.vp.Width = paneWidth
		p.vp.Height = paneHeight
	}
	m.input.Width = m.width - 6
}

// View renders the console.
func (m *Model) View() string {
	blocks := make([]string, 0, len(m.panes))
	for i, p := range m.panes {
		blocks = append(blocks, m.renderPane(p, i == m.focus))
	}
	row := lipgloss.JoinHorizontal(lipgloss.Top, blocks...)

	input := inputStyle.Width(m.input.Width + 2).Render(m.input.View())

	hint := m.statusLine
	switch {
	case m.showHelp:
		hint = m.help.ShortHelpView([]key.Binding{
			m.keys.NextPane, m.keys.PrevPane, m.keys.PageUp, m.keys.PageDown,
			m.keys.Submit, m.keys.Restart, m.keys.Stop, m.keys.Help, m.keys.Quit,
		})
	case hint == "":
		hint = m.help.ShortHelpView([]key.Binding{
			m.keys.NextPane, m.keys.Submit, m.keys.Restart, m.keys.Stop, m.keys.Quit,
		})
	}

	return lipgloss.JoinVertical(lipgloss.Left, row, input, helpStyle.Render(hint))
}

func (m *Model) renderPane(p *pane, focused bool) string {
	status, known := m.ctrl.GetWorkerStatus(p.id)
	label := string(status)
	if !known {
		label = "stopped"
	}
	title := paneTitleStyle.Render(p.id) + " " + statusStyle(status).Render(label)

	border := paneBorderStyle
	if focused {
		border = paneFocusedBorderStyle
	}
	body := lipgloss.JoinVertical(lipgloss.Left, title, p.vp.View())
	return border.Width(p.vp.Width).Render(body)
}
