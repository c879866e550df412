package worker

import (
	"strings"
	"sync"
)

// Buffer is a pane's retained output: a bounded line ring. When full, the
// oldest lines are discarded so a chatty agent cannot grow memory without
// bound. System messages (errors, lifecycle notices) are timestamped so
// failures are never silently dropped from view.
type Buffer struct {
	mu    sync.Mutex
	lines []string
	max   int
}

// NewBuffer creates a buffer retaining at most max lines.
func NewBuffer(max int) *Buffer {
	if max <= 0 {
		max = 1000
	}
	return &Buffer{max: max}
}

// Append adds one output line, evicting the oldest when full.
func (b *Buffer) Append(line string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lines = append(b.lines, line)
	if len(b.lines) > b.max {
		overflow := len(b.lines) - b.max
		b.lines = append(b.lines[:0], b.lines[overflow:]...)
	}
}

// Len returns the retained line count.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.lines)
}

// String returns the buffer contents joined with newlines.
func (b *Buffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.Join(b.lines, "\n")
}

// Lines returns a copy of the retained lines.
func (b *Buffer) Lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.lines))
	copy(out, b.lines)
	return out
}
