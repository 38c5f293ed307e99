package ui

import (
	"fmt"
	"strings"
	"sync"

	runewidth "github.com/mattn/go-runewidth"
)

const defaultScrollback = 2000

// TermSurface is the rendering surface bound to one tab. It keeps a plain
// scrollback of session output; escape-sequence emulation is out of scope,
// output is shown as received.
type TermSurface struct {
	mu       sync.Mutex
	lines    []string
	partial  strings.Builder
	max      int
	exited   bool
	exitCode int
	disposed bool

	// onUpdate is called after new output lands, typically to wake the
	// bubbletea program. Never called with the lock held.
	onUpdate func()
}

func NewTermSurface(onUpdate func()) *TermSurface {
	return &TermSurface{max: defaultScrollback, onUpdate: onUpdate}
}

// Write appends session output to the scrollback.
func (s *TermSurface) Write(data []byte) error {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return fmt.Errorf("surface already disposed")
	}
	for _, b := range data {
		switch b {
		case '\n':
			s.appendLineLocked(s.partial.String())
			s.partial.Reset()
		case '\r':
			// Bare carriage return: restart the current line.
			s.partial.Reset()
		default:
			s.partial.WriteByte(b)
		}
	}
	update := s.onUpdate
	s.mu.Unlock()

	if update != nil {
		update()
	}
	return nil
}

func (s *TermSurface) appendLineLocked(line string) {
	s.lines = append(s.lines, line)
	if len(s.lines) > s.max {
		s.lines = s.lines[len(s.lines)-s.max:]
	}
}

// NotifyExit records backend termination; View shows it under the output.
func (s *TermSurface) NotifyExit(code int) {
	s.mu.Lock()
	s.exited = true
	s.exitCode = code
	update := s.onUpdate
	s.mu.Unlock()

	if update != nil {
		update()
	}
}

// Dispose releases the scrollback. Further writes fail.
func (s *TermSurface) Dispose() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disposed = true
	s.lines = nil
	s.partial.Reset()
	return nil
}

// Exited reports whether the backend has terminated, and with what code.
func (s *TermSurface) Exited() (bool, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exited, s.exitCode
}

// Contents returns the full scrollback as plain text, for clipboard copy.
func (s *TermSurface) Contents() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	text := strings.Join(s.lines, "\n")
	if s.partial.Len() > 0 {
		if text != "" {
			text += "\n"
		}
		text += s.partial.String()
	}
	return text
}

// View renders the last lines of output fitted to width x height.
func (s *TermSurface) View(width, height int) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	visible := make([]string, 0, height)
	all := s.lines
	if s.partial.Len() > 0 {
		all = append(append([]string(nil), s.lines...), s.partial.String())
	}
	if s.exited {
		all = append(append([]string(nil), all...),
			DimStyle.Render(fmt.Sprintf("[process exited with code %d]", s.exitCode)))
	}
	start := 0
	if len(all) > height {
		start = len(all) - height
	}
	for _, line := range all[start:] {
		if runewidth.StringWidth(line) > width {
			line = runewidth.Truncate(line, width, "")
		}
		visible = append(visible, line)
	}
	return strings.Join(visible, "\n")
}
