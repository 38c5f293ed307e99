package ui

import (
	"fmt"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/sahilm/fuzzy"

	"github.com/tabdeck/tabdeck/internal/tabs"
)

// Switcher is a fuzzy tab picker: type to filter, enter to jump.
type Switcher struct {
	visible bool
	input   textinput.Model
	source  []*tabs.Tab
	matches []*tabs.Tab
	cursor  int
	width   int
	height  int
}

func NewSwitcher() *Switcher {
	ti := textinput.New()
	ti.Placeholder = "tab name..."
	ti.Prompt = "> "
	ti.CharLimit = 64
	return &Switcher{input: ti}
}

// Show opens the switcher over the given tabs.
func (s *Switcher) Show(openTabs []*tabs.Tab) {
	s.visible = true
	s.source = openTabs
	s.matches = openTabs
	s.cursor = 0
	s.input.SetValue("")
	s.input.Focus()
}

func (s *Switcher) Hide() {
	s.visible = false
	s.input.Blur()
}

func (s *Switcher) IsVisible() bool {
	return s.visible
}

func (s *Switcher) SetSize(width, height int) {
	s.width = width
	s.height = height
}

// switchToTabMsg is emitted when the user picks a tab.
type switchToTabMsg struct {
	tabID string
}

// Update filters on every keystroke and handles selection movement.
func (s *Switcher) Update(msg tea.KeyMsg) (*Switcher, tea.Cmd) {
	if !s.visible {
		return s, nil
	}

	switch msg.String() {
	case "esc":
		s.Hide()
		return s, nil
	case "enter":
		if s.cursor < len(s.matches) {
			id := s.matches[s.cursor].ID
			s.Hide()
			return s, func() tea.Msg { return switchToTabMsg{tabID: id} }
		}
		s.Hide()
		return s, nil
	case "up", "ctrl+p":
		if s.cursor > 0 {
			s.cursor--
		}
		return s, nil
	case "down", "ctrl+n":
		if s.cursor < len(s.matches)-1 {
			s.cursor++
		}
		return s, nil
	}

	var cmd tea.Cmd
	s.input, cmd = s.input.Update(msg)
	s.filter()
	return s, cmd
}

func (s *Switcher) filter() {
	query := s.input.Value()
	if query == "" {
		s.matches = s.source
		s.cursor = 0
		return
	}

	names := make([]string, len(s.source))
	for i, tab := range s.source {
		names[i] = tab.Name
	}
	results := fuzzy.Find(query, names)

	// fuzzy.Find returns results best-score first.
	matched := make([]*tabs.Tab, 0, len(results))
	for _, r := range results {
		matched = append(matched, s.source[r.Index])
	}
	s.matches = matched
	if s.cursor >= len(s.matches) {
		s.cursor = 0
	}
}

func (s *Switcher) View() string {
	if !s.visible {
		return ""
	}

	rows := []string{s.input.View(), ""}
	if len(s.matches) == 0 {
		rows = append(rows, DimStyle.Render("no matching tabs"))
	}
	for i, tab := range s.matches {
		line := fmt.Sprintf("%s (%s)", tab.Name, tab.Type)
		if tab.Exited {
			line += " ✗"
		}
		if i == s.cursor {
			line = lipgloss.NewStyle().
				Foreground(ColorBg).
				Background(ColorAccent).
				Bold(true).
				Render("▸ " + line)
		} else {
			line = "  " + line
		}
		rows = append(rows, line)
	}

	content := lipgloss.JoinVertical(lipgloss.Left, rows...)
	dialog := DialogStyle.Width(min(s.width-4, 60)).Render(content)
	return lipgloss.Place(s.width, s.height, lipgloss.Center, lipgloss.Center, dialog)
}
