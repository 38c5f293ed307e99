package ui

import (
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/tabdeck/tabdeck/internal/tabs"
)

func keyMsg(s string) tea.KeyMsg {
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	case "up":
		return tea.KeyMsg{Type: tea.KeyUp}
	case "down":
		return tea.KeyMsg{Type: tea.KeyDown}
	default:
		return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
	}
}

func TestTabBarShowsLabelsAndMarkers(t *testing.T) {
	openTabs := []*tabs.Tab{
		{ID: "1", Name: "build", Type: "shell", Active: true},
		{ID: "2", Name: "logs", Type: "shell", Pinned: true},
		{ID: "3", Name: "dead", Type: "shell", Exited: true},
	}

	bar := RenderTabBar(openTabs, 120)
	for _, want := range []string{"1 build", "2 logs", "3 dead", "📌", "✗"} {
		if !strings.Contains(bar, want) {
			t.Errorf("tab bar missing %q", want)
		}
	}
}

func TestTabBarOverflowIndicator(t *testing.T) {
	var openTabs []*tabs.Tab
	for i := 0; i < 20; i++ {
		openTabs = append(openTabs, &tabs.Tab{ID: string(rune('a' + i)), Name: "some-long-tab-name", Type: "shell"})
	}

	bar := RenderTabBar(openTabs, 60)
	if !strings.Contains(bar, "+") {
		t.Errorf("narrow tab bar has no overflow indicator: %q", bar)
	}
}

func TestTabBarEmpty(t *testing.T) {
	bar := RenderTabBar(nil, 40)
	if bar == "" {
		t.Error("empty tab bar renders nothing, want filler")
	}
}

func TestTabLabelTruncation(t *testing.T) {
	tab := &tabs.Tab{ID: "1", Name: strings.Repeat("verylong", 10), Type: "shell"}
	label := tabLabel(0, tab)
	if !strings.Contains(label, "…") {
		t.Errorf("long name not truncated: %q", label)
	}
}

func TestConfirmDialogAnswers(t *testing.T) {
	cases := []struct {
		key       string
		confirmed bool
	}{
		{"y", true},
		{"enter", true},
		{"n", false},
		{"esc", false},
	}
	for _, tc := range cases {
		d := NewConfirmDialog()
		d.ShowCloseTab("tab-1", "build", true)

		_, cmd := d.Update(keyMsg(tc.key))
		if cmd == nil {
			t.Fatalf("key %q produced no result", tc.key)
		}
		result, ok := cmd().(confirmResultMsg)
		if !ok {
			t.Fatalf("key %q produced %T, want confirmResultMsg", tc.key, cmd())
		}
		if result.confirmed != tc.confirmed {
			t.Errorf("key %q confirmed = %v, want %v", tc.key, result.confirmed, tc.confirmed)
		}
		if result.tabID != "tab-1" || !result.force {
			t.Errorf("key %q result = %+v, want tab-1 with force", tc.key, result)
		}
		if d.IsVisible() {
			t.Errorf("dialog still visible after %q", tc.key)
		}
	}
}

func TestConfirmDialogIgnoresOtherKeys(t *testing.T) {
	d := NewConfirmDialog()
	d.ShowCloseTab("tab-1", "build", false)

	_, cmd := d.Update(keyMsg("x"))
	if cmd != nil {
		t.Error("unrelated key produced a result")
	}
	if !d.IsVisible() {
		t.Error("dialog closed on unrelated key")
	}
}

func TestConfirmDialogViewNamesTab(t *testing.T) {
	d := NewConfirmDialog()
	d.ShowCloseTab("tab-1", "build watcher", false)
	d.SetSize(80, 24)
	if !strings.Contains(d.View(), "build watcher") {
		t.Error("dialog view does not name the tab")
	}
}

func TestSwitcherFiltersAndSelects(t *testing.T) {
	openTabs := []*tabs.Tab{
		{ID: "1", Name: "build", Type: "shell"},
		{ID: "2", Name: "server logs", Type: "shell"},
		{ID: "3", Name: "scratch", Type: "shell"},
	}
	s := NewSwitcher()
	s.SetSize(80, 24)
	s.Show(openTabs)

	for _, r := range "logs" {
		s.Update(keyMsg(string(r)))
	}
	if len(s.matches) != 1 || s.matches[0].ID != "2" {
		t.Fatalf("matches = %+v, want only server logs", s.matches)
	}

	_, cmd := s.Update(keyMsg("enter"))
	if cmd == nil {
		t.Fatal("enter produced no command")
	}
	msg, ok := cmd().(switchToTabMsg)
	if !ok || msg.tabID != "2" {
		t.Errorf("selection = %+v, want switch to tab 2", cmd())
	}
	if s.IsVisible() {
		t.Error("switcher still visible after selection")
	}
}

func TestSwitcherEscHides(t *testing.T) {
	s := NewSwitcher()
	s.Show([]*tabs.Tab{{ID: "1", Name: "a", Type: "shell"}})
	s.Update(keyMsg("esc"))
	if s.IsVisible() {
		t.Error("switcher visible after esc")
	}
}

func TestSwitcherCursorMovement(t *testing.T) {
	openTabs := []*tabs.Tab{
		{ID: "1", Name: "aa", Type: "shell"},
		{ID: "2", Name: "ab", Type: "shell"},
	}
	s := NewSwitcher()
	s.Show(openTabs)

	s.Update(keyMsg("down"))
	_, cmd := s.Update(keyMsg("enter"))
	msg := cmd().(switchToTabMsg)
	if msg.tabID != "2" {
		t.Errorf("selected %q, want second tab", msg.tabID)
	}
}

func TestInitThemeSwitchesPalette(t *testing.T) {
	InitTheme("light")
	if GetCurrentTheme() != ThemeLight {
		t.Error("theme not light after InitTheme(light)")
	}
	lightBg := ColorBg

	InitTheme("dark")
	if GetCurrentTheme() != ThemeDark {
		t.Error("theme not dark after InitTheme(dark)")
	}
	if ColorBg == lightBg {
		t.Error("palette unchanged across theme switch")
	}
}
