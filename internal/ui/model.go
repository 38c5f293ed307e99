package ui

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/tabdeck/tabdeck/internal/clipboard"
	"github.com/tabdeck/tabdeck/internal/config"
	"github.com/tabdeck/tabdeck/internal/logging"
	"github.com/tabdeck/tabdeck/internal/tabs"
)

var uiLog = logging.ForComponent(logging.CompUI)

const noticeDuration = 3 * time.Second

// Messages delivered to the root model.
type (
	// refreshMsg redraws after new session output.
	refreshMsg struct{}
	// themeChangedMsg reports an OS dark mode flip.
	themeChangedMsg bool
	// configChangedMsg carries a hot-reloaded user config.
	configChangedMsg struct{ cfg *config.Config }
	// noticeExpiredMsg clears the status notice.
	noticeExpiredMsg struct{}
)

// Model is the root bubbletea model: tab bar on top, the active tab's
// surface in the middle, one status line at the bottom, dialogs overlaid.
type Model struct {
	registry *tabs.Registry
	ctx      context.Context

	width  int
	height int

	confirm  *ConfirmDialog
	switcher *Switcher

	renaming    bool
	renameInput textinput.Model
	renameID    string

	notice string

	themeCh       <-chan bool
	configWatcher *config.Watcher

	// confirmClose reports whether closing a running tab needs confirmation.
	confirmClose func() bool

	tabCounter int

	// send wakes the program from surface goroutines. Set by SetSend
	// before the program runs.
	send func(tea.Msg)
}

// NewModel builds the root model. themeCh and configWatcher may be nil.
func NewModel(ctx context.Context, registry *tabs.Registry, themeCh <-chan bool, cw *config.Watcher) *Model {
	ri := textinput.New()
	ri.Prompt = "rename: "
	ri.CharLimit = 64
	return &Model{
		registry:      registry,
		ctx:           ctx,
		confirm:       NewConfirmDialog(),
		switcher:      NewSwitcher(),
		renameInput:   ri,
		themeCh:       themeCh,
		configWatcher: cw,
		confirmClose:  confirmCloseFromConfig,
	}
}

func confirmCloseFromConfig() bool {
	cfg, err := config.Load()
	return err == nil && cfg.ConfirmClose
}

// SetSend wires the program's Send so surfaces can request redraws.
func (m *Model) SetSend(send func(tea.Msg)) {
	m.send = send
}

// AttachSurfaces binds a fresh surface to every tab that lacks one,
// typically right after restore.
func (m *Model) AttachSurfaces() {
	for _, tab := range m.registry.Tabs() {
		if tab.Surface() == nil {
			m.registry.AttachSurface(tab.ID, NewTermSurface(m.wake))
		}
	}
	m.tabCounter = len(m.registry.Tabs())
}

func (m *Model) wake() {
	if m.send != nil {
		m.send(refreshMsg{})
	}
}

func (m *Model) Init() tea.Cmd {
	var cmds []tea.Cmd
	if m.themeCh != nil {
		cmds = append(cmds, watchTheme(m.themeCh))
	}
	if m.configWatcher != nil {
		cmds = append(cmds, watchConfig(m.configWatcher))
	}
	return tea.Batch(cmds...)
}

func watchTheme(ch <-chan bool) tea.Cmd {
	return func() tea.Msg {
		isDark, ok := <-ch
		if !ok {
			return nil
		}
		return themeChangedMsg(isDark)
	}
}

func watchConfig(cw *config.Watcher) tea.Cmd {
	return func() tea.Msg {
		cfg, ok := <-cw.ChangeChannel()
		if !ok {
			return nil
		}
		return configChangedMsg{cfg: cfg}
	}
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.confirm.SetSize(msg.Width, msg.Height)
		m.switcher.SetSize(msg.Width, msg.Height)
		for _, tab := range m.registry.Tabs() {
			m.registry.ResizeSession(tab.ID, msg.Width, m.paneHeight())
		}
		return m, nil

	case refreshMsg:
		return m, nil

	case themeChangedMsg:
		theme := "light"
		if bool(msg) {
			theme = "dark"
		}
		InitTheme(theme)
		uiLog.Info("theme_switched", slog.String("theme", theme))
		return m, watchTheme(m.themeCh)

	case configChangedMsg:
		InitTheme(msg.cfg.Theme)
		return m, watchConfig(m.configWatcher)

	case confirmResultMsg:
		if msg.confirmed {
			if msg.others {
				m.registry.CloseOtherTabs(msg.tabID)
			} else {
				m.closeTabNow(msg.tabID, msg.force)
			}
		}
		return m, m.noticeCmd()

	case switchToTabMsg:
		m.registry.SetActiveTab(msg.tabID)
		return m, nil

	case noticeExpiredMsg:
		m.notice = ""
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	// Dialogs capture all input while visible.
	if m.confirm.IsVisible() {
		_, cmd := m.confirm.Update(msg)
		return m, cmd
	}
	if m.switcher.IsVisible() {
		_, cmd := m.switcher.Update(msg)
		return m, cmd
	}
	if m.renaming {
		return m.handleRenameKey(msg)
	}

	switch msg.String() {
	case "ctrl+q":
		return m, tea.Quit
	case "ctrl+t":
		m.openTab()
		return m, nil
	case "ctrl+w":
		return m.requestClose(false)
	case "ctrl+x":
		return m.requestClose(true)
	case "ctrl+k":
		m.switcher.Show(m.registry.Tabs())
		return m, nil
	case "ctrl+b":
		if tab := m.registry.ActiveTab(); tab != nil {
			m.registry.TogglePin(tab.ID)
		}
		return m, nil
	case "ctrl+r":
		return m.startRename()
	case "ctrl+e":
		m.registry.CloseAllExited()
		return m, nil
	case "ctrl+o":
		return m.requestCloseOthers()
	case "ctrl+y":
		return m.copyScrollback()
	case "ctrl+right":
		m.cycleTab(1)
		return m, nil
	case "ctrl+left":
		m.cycleTab(-1)
		return m, nil
	}

	// Everything else is input for the active session.
	if tab := m.registry.ActiveTab(); tab != nil && !tab.Exited {
		if data := keyToBytes(msg); len(data) > 0 {
			m.registry.WriteInput(tab.ID, data)
		}
	}
	return m, nil
}

func (m *Model) handleRenameKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "enter":
		name := strings.TrimSpace(m.renameInput.Value())
		if name != "" {
			m.registry.RenameTab(m.renameID, name)
		}
		m.renaming = false
		return m, nil
	case "esc":
		m.renaming = false
		return m, nil
	}
	var cmd tea.Cmd
	m.renameInput, cmd = m.renameInput.Update(msg)
	return m, cmd
}

func (m *Model) startRename() (tea.Model, tea.Cmd) {
	tab := m.registry.ActiveTab()
	if tab == nil {
		return m, nil
	}
	m.renaming = true
	m.renameID = tab.ID
	m.renameInput.SetValue(tab.Name)
	m.renameInput.Focus()
	return m, textinput.Blink
}

// openTab creates a local shell tab, attaches a surface and starts the
// backend session.
func (m *Model) openTab() {
	m.tabCounter++
	tab := m.registry.CreateTab("", fmt.Sprintf("shell %d", m.tabCounter), "shell")
	m.registry.AttachSurface(tab.ID, NewTermSurface(m.wake))

	if err := m.registry.StartSession(m.ctx, tab.ID, max(m.width, 80), max(m.paneHeight(), 24)); err != nil {
		uiLog.Error("session_start_failed",
			slog.String("tab_id", tab.ID),
			slog.String("error", err.Error()))
		m.notice = "failed to start session: " + err.Error()
	}
}

// requestClose applies close policy for the active tab: pinned tabs need the
// override, running tabs may need confirmation.
func (m *Model) requestClose(force bool) (tea.Model, tea.Cmd) {
	tab := m.registry.ActiveTab()
	if tab == nil {
		return m, nil
	}
	if tab.Pinned && !force {
		m.notice = "tab is pinned, ctrl+x to force close"
		return m, m.noticeCmd()
	}

	if !force && m.confirmClose() && !tab.Exited {
		m.confirm.ShowCloseTab(tab.ID, tab.Name, force)
		return m, nil
	}
	m.closeTabNow(tab.ID, force)
	return m, m.noticeCmd()
}

// requestCloseOthers closes every tab except the active one. When the
// confirm-close policy is on and running tabs would die, one dialog covers
// the whole batch; pin protection still applies per tab.
func (m *Model) requestCloseOthers() (tea.Model, tea.Cmd) {
	tab := m.registry.ActiveTab()
	if tab == nil {
		return m, nil
	}

	if m.confirmClose() {
		running := 0
		for _, t := range m.registry.Tabs() {
			if t.ID != tab.ID && !t.Exited {
				running++
			}
		}
		if running > 0 {
			m.confirm.ShowCloseOthers(tab.ID, tab.Name, running)
			return m, nil
		}
	}
	m.registry.CloseOtherTabs(tab.ID)
	return m, nil
}

func (m *Model) closeTabNow(id string, force bool) {
	err := m.registry.CloseTab(id, force)
	switch {
	case errors.Is(err, tabs.ErrTabPinned):
		m.notice = "tab is pinned, ctrl+x to force close"
	case err != nil:
		m.notice = err.Error()
	}
}

// copyScrollback puts the active tab's scrollback on the system clipboard.
func (m *Model) copyScrollback() (tea.Model, tea.Cmd) {
	tab := m.registry.ActiveTab()
	if tab == nil {
		return m, nil
	}
	surface, ok := tab.Surface().(*TermSurface)
	if !ok || surface == nil {
		return m, nil
	}

	result, err := clipboard.Copy(surface.Contents())
	if err != nil {
		m.notice = "copy failed: " + err.Error()
	} else {
		m.notice = fmt.Sprintf("copied %d lines (%s)", result.LineCount, result.Method)
	}
	return m, m.noticeCmd()
}

func (m *Model) noticeCmd() tea.Cmd {
	if m.notice == "" {
		return nil
	}
	return tea.Tick(noticeDuration, func(time.Time) tea.Msg { return noticeExpiredMsg{} })
}

func (m *Model) cycleTab(delta int) {
	openTabs := m.registry.Tabs()
	if len(openTabs) < 2 {
		return
	}
	current := 0
	for i, tab := range openTabs {
		if tab.Active {
			current = i
			break
		}
	}
	next := (current + delta + len(openTabs)) % len(openTabs)
	m.registry.SetActiveTab(openTabs[next].ID)
}

func (m *Model) paneHeight() int {
	// Tab bar and status line each take a row.
	return max(m.height-2, 1)
}

func (m *Model) View() string {
	if m.width == 0 {
		return "loading..."
	}
	if m.confirm.IsVisible() {
		return m.confirm.View()
	}
	if m.switcher.IsVisible() {
		return m.switcher.View()
	}

	openTabs := m.registry.Tabs()
	bar := RenderTabBar(openTabs, m.width)

	pane := ""
	if active := m.registry.ActiveTab(); active != nil {
		if surface, ok := active.Surface().(*TermSurface); ok && surface != nil {
			pane = surface.View(m.width, m.paneHeight())
		}
	} else {
		pane = DimStyle.Render("no open tabs, ctrl+t to open one")
	}
	paneLines := strings.Count(pane, "\n") + 1
	if pad := m.paneHeight() - paneLines; pad > 0 {
		pane += strings.Repeat("\n", pad)
	}

	status := m.statusLine()
	return lipgloss.JoinVertical(lipgloss.Left, bar, pane, status)
}

func (m *Model) statusLine() string {
	if m.renaming {
		return StatusStyle.Width(m.width).Render(m.renameInput.View())
	}
	if m.notice != "" {
		return NoticeStyle.Width(m.width).Render(m.notice)
	}
	help := "ctrl+t new · ctrl+w close · ctrl+k switch · ctrl+b pin · ctrl+r rename · ctrl+q quit"
	return StatusStyle.Width(m.width).Render(help)
}

// keyToBytes maps a key press to the bytes the backend session receives.
func keyToBytes(msg tea.KeyMsg) []byte {
	switch msg.Type {
	case tea.KeyRunes:
		return []byte(string(msg.Runes))
	case tea.KeySpace:
		return []byte(" ")
	case tea.KeyEnter:
		return []byte("\r")
	case tea.KeyBackspace:
		return []byte{0x7f}
	case tea.KeyTab:
		return []byte("\t")
	case tea.KeyEsc:
		return []byte{0x1b}
	case tea.KeyUp:
		return []byte("\x1b[A")
	case tea.KeyDown:
		return []byte("\x1b[B")
	case tea.KeyRight:
		return []byte("\x1b[C")
	case tea.KeyLeft:
		return []byte("\x1b[D")
	case tea.KeyCtrlC:
		return []byte{0x03}
	case tea.KeyCtrlD:
		return []byte{0x04}
	case tea.KeyCtrlZ:
		return []byte{0x1a}
	case tea.KeyCtrlL:
		return []byte{0x0c}
	case tea.KeyCtrlU:
		return []byte{0x15}
	case tea.KeyCtrlA:
		return []byte{0x01}
	}
	return nil
}
