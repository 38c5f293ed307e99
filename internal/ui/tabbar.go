package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	runewidth "github.com/mattn/go-runewidth"

	"github.com/tabdeck/tabdeck/internal/tabs"
)

const maxTabLabelWidth = 20

// RenderTabBar draws one line of tab labels in creation order, highlighting
// the active tab and marking pinned and exited tabs.
func RenderTabBar(openTabs []*tabs.Tab, width int) string {
	if len(openTabs) == 0 {
		return TabBarFillStyle.Render(strings.Repeat(" ", max(width, 0)))
	}

	var cells []string
	used := 0
	for i, tab := range openTabs {
		label := tabLabel(i, tab)
		style := TabInactiveStyle
		if tab.Active {
			style = TabActiveStyle
		} else if tab.Exited {
			style = TabExitedStyle
		}
		cell := style.Render(label)
		cellWidth := lipgloss.Width(cell)
		if used+cellWidth > width {
			overflow := DimStyle.Render(fmt.Sprintf(" +%d", len(openTabs)-i))
			cells = append(cells, overflow)
			used += lipgloss.Width(overflow)
			break
		}
		cells = append(cells, cell)
		used += cellWidth
	}

	bar := lipgloss.JoinHorizontal(lipgloss.Top, cells...)
	if used < width {
		bar += TabBarFillStyle.Render(strings.Repeat(" ", width-used))
	}
	return bar
}

// tabLabel builds "1 name" with pin and exit markers, truncated for the bar.
func tabLabel(index int, tab *tabs.Tab) string {
	name := tab.Name
	if name == "" {
		name = tab.Type
	}
	if runewidth.StringWidth(name) > maxTabLabelWidth {
		name = runewidth.Truncate(name, maxTabLabelWidth, "…")
	}

	label := fmt.Sprintf("%d %s", index+1, name)
	if tab.Pinned {
		label = "📌 " + label
	}
	if tab.Exited {
		label += " ✗"
	}
	return label
}
