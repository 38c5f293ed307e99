package ui

import (
	"context"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/tabdeck/tabdeck/internal/tabs"
	"github.com/tabdeck/tabdeck/internal/transport"
)

type nullTransport struct {
	events chan transport.Event
}

func newNullTransport() *nullTransport {
	return &nullTransport{events: make(chan transport.Event)}
}

func (n *nullTransport) Start(context.Context, string, transport.StartSpec) error { return nil }
func (n *nullTransport) Write(string, []byte) error                              { return nil }
func (n *nullTransport) Resize(string, int, int) error                           { return nil }
func (n *nullTransport) Close(string) error                                      { return nil }
func (n *nullTransport) Events() <-chan transport.Event                          { return n.events }
func (n *nullTransport) Shutdown()                                               { close(n.events) }

func newTestModel(t *testing.T) (*Model, *tabs.Registry) {
	t.Helper()
	registry := tabs.NewRegistry(tabs.Options{
		Transport: newNullTransport(),
		Settings: func() tabs.Settings {
			return tabs.Settings{RestoreTabs: false, ConfirmClose: false}
		},
	})
	m := NewModel(context.Background(), registry, nil, nil)
	m.confirmClose = func() bool { return false }
	m.Update(tea.WindowSizeMsg{Width: 100, Height: 30})
	return m, registry
}

func TestModelOpensTabOnCtrlT(t *testing.T) {
	m, registry := newTestModel(t)

	m.Update(tea.KeyMsg{Type: tea.KeyCtrlT})

	openTabs := registry.Tabs()
	if len(openTabs) != 1 {
		t.Fatalf("tabs = %d, want 1", len(openTabs))
	}
	if openTabs[0].Surface() == nil {
		t.Error("new tab has no surface")
	}
	if !openTabs[0].Active {
		t.Error("new tab is not active")
	}
}

func TestModelCyclesTabs(t *testing.T) {
	m, registry := newTestModel(t)
	a := registry.CreateTab("", "a", "shell")
	b := registry.CreateTab("", "b", "shell")

	m.cycleTab(1)
	if registry.ActiveTab().ID != a.ID {
		t.Errorf("active = %s, want a after cycling forward from b", registry.ActiveTab().Name)
	}
	m.cycleTab(-1)
	if registry.ActiveTab().ID != b.ID {
		t.Errorf("active = %s, want b after cycling back", registry.ActiveTab().Name)
	}
}

func TestModelPinnedCloseShowsNotice(t *testing.T) {
	m, registry := newTestModel(t)
	tab := registry.CreateTab("", "pinned", "shell")
	registry.TogglePin(tab.ID)

	m.Update(tea.KeyMsg{Type: tea.KeyCtrlW})

	if len(registry.Tabs()) != 1 {
		t.Error("pinned tab was closed by ctrl+w")
	}
	if m.notice == "" {
		t.Error("no notice after blocked close")
	}
}

func TestModelCloseOthersAsksOnceWhenPolicyOn(t *testing.T) {
	m, registry := newTestModel(t)
	m.confirmClose = func() bool { return true }
	registry.CreateTab("", "a", "shell")
	registry.CreateTab("", "b", "shell")
	keep := registry.CreateTab("", "keep", "shell")

	m.Update(tea.KeyMsg{Type: tea.KeyCtrlO})

	if len(registry.Tabs()) != 3 {
		t.Fatalf("tabs = %d, want 3 before the dialog is answered", len(registry.Tabs()))
	}
	if !m.confirm.IsVisible() {
		t.Fatal("no confirmation dialog for close-others with confirm_close on")
	}

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("y")})
	if cmd == nil {
		t.Fatal("answering the dialog produced no command")
	}
	m.Update(cmd())

	openTabs := registry.Tabs()
	if len(openTabs) != 1 || openTabs[0].ID != keep.ID {
		t.Errorf("tabs after confirmed close-others = %d, want only %q", len(openTabs), keep.Name)
	}
}

func TestModelCloseOthersDeclinedKeepsTabs(t *testing.T) {
	m, registry := newTestModel(t)
	m.confirmClose = func() bool { return true }
	registry.CreateTab("", "a", "shell")
	keep := registry.CreateTab("", "keep", "shell")

	m.Update(tea.KeyMsg{Type: tea.KeyCtrlO})
	m.Update(confirmResultMsg{tabID: keep.ID, others: true, confirmed: false})

	if len(registry.Tabs()) != 2 {
		t.Errorf("tabs = %d, want 2 after declining close-others", len(registry.Tabs()))
	}
}

func TestModelCloseOthersSkipsDialogWhenOnlyExited(t *testing.T) {
	m, registry := newTestModel(t)
	m.confirmClose = func() bool { return true }
	registry.CreateTab("", "done", "shell")
	keep := registry.CreateTab("", "keep", "shell")
	for _, tab := range registry.Tabs() {
		if tab.ID != keep.ID {
			tab.Exited = true
		}
	}

	m.Update(tea.KeyMsg{Type: tea.KeyCtrlO})

	if m.confirm.IsVisible() {
		t.Error("dialog shown although no running tab would be closed")
	}
	if len(registry.Tabs()) != 1 {
		t.Errorf("tabs = %d, want 1 after close-others over exited tabs", len(registry.Tabs()))
	}
}

func TestModelForceCloseSkipsConfirmation(t *testing.T) {
	m, registry := newTestModel(t)
	m.confirmClose = func() bool { return true }
	registry.CreateTab("", "running", "shell")

	m.Update(tea.KeyMsg{Type: tea.KeyCtrlX})

	if m.confirm.IsVisible() {
		t.Error("force close showed the confirmation dialog")
	}
	if len(registry.Tabs()) != 0 {
		t.Errorf("tabs = %d, want 0 after force close", len(registry.Tabs()))
	}
}

func TestModelSwitchToTabMsg(t *testing.T) {
	m, registry := newTestModel(t)
	a := registry.CreateTab("", "a", "shell")
	registry.CreateTab("", "b", "shell")

	m.Update(switchToTabMsg{tabID: a.ID})
	if registry.ActiveTab().ID != a.ID {
		t.Error("switchToTabMsg did not change the active tab")
	}
}

func TestModelConfirmResultCloses(t *testing.T) {
	m, registry := newTestModel(t)
	tab := registry.CreateTab("", "doomed", "shell")

	m.Update(confirmResultMsg{tabID: tab.ID, confirmed: true})
	if len(registry.Tabs()) != 0 {
		t.Error("confirmed close left the tab open")
	}

	tab = registry.CreateTab("", "survivor", "shell")
	m.Update(confirmResultMsg{tabID: tab.ID, confirmed: false})
	if len(registry.Tabs()) != 1 {
		t.Error("declined close removed the tab")
	}
}

func TestModelViewShowsEmptyHint(t *testing.T) {
	m, _ := newTestModel(t)
	if !strings.Contains(m.View(), "no open tabs") {
		t.Error("empty view missing the open-tab hint")
	}
}

func TestModelViewShowsActiveSurface(t *testing.T) {
	m, registry := newTestModel(t)
	tab := registry.CreateTab("", "build", "shell")
	surface := NewTermSurface(nil)
	registry.AttachSurface(tab.ID, surface)
	if err := surface.Write([]byte("compile ok\n")); err != nil {
		t.Fatal(err)
	}

	if !strings.Contains(m.View(), "compile ok") {
		t.Error("view missing active surface output")
	}
}

func TestKeyToBytes(t *testing.T) {
	cases := []struct {
		msg  tea.KeyMsg
		want string
	}{
		{tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("ls")}, "ls"},
		{tea.KeyMsg{Type: tea.KeyEnter}, "\r"},
		{tea.KeyMsg{Type: tea.KeyCtrlC}, "\x03"},
		{tea.KeyMsg{Type: tea.KeyUp}, "\x1b[A"},
		{tea.KeyMsg{Type: tea.KeySpace}, " "},
	}
	for _, tc := range cases {
		if got := string(keyToBytes(tc.msg)); got != tc.want {
			t.Errorf("keyToBytes(%v) = %q, want %q", tc.msg, got, tc.want)
		}
	}
}
