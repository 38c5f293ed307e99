package ui

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// ConfirmDialog asks before closing tabs whose sessions are still running:
// either one tab, or everything except the kept tab.
type ConfirmDialog struct {
	visible    bool
	targetID   string
	targetName string
	force      bool // carried through to the close call on confirm
	others     bool // close-others mode: targetID is the tab kept open
	count      int  // running tabs affected in close-others mode
	width      int
	height     int
}

func NewConfirmDialog() *ConfirmDialog {
	return &ConfirmDialog{}
}

// ShowCloseTab shows the confirmation for closing one running tab.
func (c *ConfirmDialog) ShowCloseTab(tabID, tabName string, force bool) {
	c.visible = true
	c.targetID = tabID
	c.targetName = tabName
	c.force = force
	c.others = false
	c.count = 0
}

// ShowCloseOthers shows the confirmation for closing every tab except keepID.
// count is the number of still-running tabs that would be torn down.
func (c *ConfirmDialog) ShowCloseOthers(keepID, keepName string, count int) {
	c.visible = true
	c.targetID = keepID
	c.targetName = keepName
	c.force = false
	c.others = true
	c.count = count
}

// Hide hides the dialog
func (c *ConfirmDialog) Hide() {
	c.visible = false
	c.targetID = ""
	c.targetName = ""
	c.force = false
	c.others = false
	c.count = 0
}

// IsVisible returns whether the dialog is visible
func (c *ConfirmDialog) IsVisible() bool {
	return c.visible
}

// TargetID returns the tab id being confirmed.
func (c *ConfirmDialog) TargetID() string {
	return c.targetID
}

// Force returns whether the pending close carries the pin override.
func (c *ConfirmDialog) Force() bool {
	return c.force
}

// SetSize updates dialog dimensions
func (c *ConfirmDialog) SetSize(width, height int) {
	c.width = width
	c.height = height
}

// confirmResultMsg is emitted when the user answers the dialog. In
// close-others mode tabID is the tab being kept, not the one being closed.
type confirmResultMsg struct {
	tabID     string
	force     bool
	others    bool
	confirmed bool
}

// Update handles y/n/enter/esc while the dialog is visible.
func (c *ConfirmDialog) Update(msg tea.KeyMsg) (*ConfirmDialog, tea.Cmd) {
	if !c.visible {
		return c, nil
	}

	result := confirmResultMsg{tabID: c.targetID, force: c.force, others: c.others}
	switch msg.String() {
	case "y", "Y", "enter":
		result.confirmed = true
	case "n", "N", "esc":
		result.confirmed = false
	default:
		return c, nil
	}

	c.Hide()
	return c, func() tea.Msg { return result }
}

// View renders the confirmation dialog
func (c *ConfirmDialog) View() string {
	if !c.visible {
		return ""
	}

	title := DialogTitleStyle.Render("Close tab?")
	warningText := fmt.Sprintf("The session in %q is still running.", c.targetName)
	if c.others {
		title = DialogTitleStyle.Render("Close other tabs?")
		warningText = fmt.Sprintf("%d other tabs have running sessions; only %q stays open.", c.count, c.targetName)
	}
	warning := lipgloss.NewStyle().
		Foreground(ColorYellow).
		MarginBottom(1).
		Render(warningText)
	details := DialogDetailStyle.Render(
		"• The backend session will be terminated\n• Terminal output will be lost")

	buttonYes := lipgloss.NewStyle().
		Foreground(ColorBg).
		Background(ColorRed).
		Padding(0, 2).
		Bold(true).
		Render("y Close")
	buttonNo := lipgloss.NewStyle().
		Foreground(ColorBg).
		Background(ColorAccent).
		Padding(0, 2).
		Bold(true).
		Render("n Keep")
	escHint := DialogDetailStyle.Render("(Esc to cancel)")
	buttons := lipgloss.JoinHorizontal(lipgloss.Center, buttonYes, "  ", buttonNo, "  ", escHint)

	content := lipgloss.JoinVertical(lipgloss.Left, title, warning, details, "", buttons)
	dialog := DialogStyle.BorderForeground(ColorRed).Render(content)

	return lipgloss.Place(c.width, c.height, lipgloss.Center, lipgloss.Center, dialog)
}
