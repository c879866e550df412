package console

import tea "github.com/charmbracelet/bubbletea"

// paneContentMsg replaces a pane's visible text. Sent by the pane's relay
// at the configured refresh cadence, never per line.
type paneContentMsg struct {
	PaneID  string
	Content string
}

// paneRefreshMsg requests a redraw without new content.
type paneRefreshMsg struct {
	PaneID string
}

// paneSink implements worker.OutputSink by posting messages into the
// bubbletea event loop. Called from the relay goroutine, so it never
// touches model state directly.
type paneSink struct {
	paneID string
	send   func(tea.Msg)
}

func (s *paneSink) SetContent(text string) {
	s.send(paneContentMsg{PaneID: s.paneID, Content: text})
}

func (s *paneSink) Invalidate() {
	s.send(paneRefreshMsg{PaneID: s.paneID})
}
