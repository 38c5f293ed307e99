package ui

import (
	"sync"

	"github.com/charmbracelet/lipgloss"
)

// Theme represents the current color scheme
type Theme string

const (
	ThemeDark  Theme = "dark"
	ThemeLight Theme = "light"
)

var currentTheme Theme = ThemeDark

type palette struct {
	Bg, Surface, Border, Text, TextDim lipgloss.Color
	Accent, Green, Yellow, Red         lipgloss.Color
}

// Tokyo Night
var darkColors = palette{
	Bg:      lipgloss.Color("#1a1b26"),
	Surface: lipgloss.Color("#24283b"),
	Border:  lipgloss.Color("#414868"),
	Text:    lipgloss.Color("#c0caf5"),
	TextDim: lipgloss.Color("#787fa0"),
	Accent:  lipgloss.Color("#7aa2f7"),
	Green:   lipgloss.Color("#9ece6a"),
	Yellow:  lipgloss.Color("#e0af68"),
	Red:     lipgloss.Color("#f7768e"),
}

// Tokyo Night Light variant
var lightColors = palette{
	Bg:      lipgloss.Color("#d5d6db"),
	Surface: lipgloss.Color("#e9e9ec"),
	Border:  lipgloss.Color("#9699a3"),
	Text:    lipgloss.Color("#343b58"),
	TextDim: lipgloss.Color("#6a6d7c"),
	Accent:  lipgloss.Color("#34548a"),
	Green:   lipgloss.Color("#485e30"),
	Yellow:  lipgloss.Color("#8f5e15"),
	Red:     lipgloss.Color("#8c4351"),
}

// Active color variables (set by InitTheme)
var (
	ColorBg      lipgloss.Color
	ColorSurface lipgloss.Color
	ColorBorder  lipgloss.Color
	ColorText    lipgloss.Color
	ColorTextDim lipgloss.Color
	ColorAccent  lipgloss.Color
	ColorGreen   lipgloss.Color
	ColorYellow  lipgloss.Color
	ColorRed     lipgloss.Color
)

// themeMu protects global color/style variables during live theme switches.
var themeMu sync.RWMutex

// InitTheme sets the active color palette based on theme name.
// Must be called before any UI rendering.
func InitTheme(theme string) {
	themeMu.Lock()
	defer themeMu.Unlock()

	colors := darkColors
	currentTheme = ThemeDark
	if theme == "light" {
		colors = lightColors
		currentTheme = ThemeLight
	}

	ColorBg = colors.Bg
	ColorSurface = colors.Surface
	ColorBorder = colors.Border
	ColorText = colors.Text
	ColorTextDim = colors.TextDim
	ColorAccent = colors.Accent
	ColorGreen = colors.Green
	ColorYellow = colors.Yellow
	ColorRed = colors.Red

	initStyles()
}

// GetCurrentTheme returns the active theme
func GetCurrentTheme() Theme {
	return currentTheme
}

func init() {
	InitTheme("dark")
}

var (
	// Tab bar
	TabActiveStyle   lipgloss.Style
	TabInactiveStyle lipgloss.Style
	TabExitedStyle   lipgloss.Style
	TabBarFillStyle  lipgloss.Style

	// Terminal pane
	PaneStyle lipgloss.Style

	// Dialogs
	DialogStyle       lipgloss.Style
	DialogTitleStyle  lipgloss.Style
	DialogDetailStyle lipgloss.Style

	// Status line
	StatusStyle lipgloss.Style
	NoticeStyle lipgloss.Style
	DimStyle    lipgloss.Style
)

func initStyles() {
	TabActiveStyle = lipgloss.NewStyle().
		Foreground(ColorBg).
		Background(ColorAccent).
		Bold(true).
		Padding(0, 1)

	TabInactiveStyle = lipgloss.NewStyle().
		Foreground(ColorTextDim).
		Background(ColorSurface).
		Padding(0, 1)

	TabExitedStyle = lipgloss.NewStyle().
		Foreground(ColorRed).
		Background(ColorSurface).
		Padding(0, 1)

	TabBarFillStyle = lipgloss.NewStyle().
		Background(ColorBg)

	PaneStyle = lipgloss.NewStyle().
		Foreground(ColorText)

	DialogStyle = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorBorder).
		Padding(1, 2)

	DialogTitleStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(ColorYellow).
		MarginBottom(1)

	DialogDetailStyle = lipgloss.NewStyle().
		Foreground(ColorTextDim)

	StatusStyle = lipgloss.NewStyle().
		Foreground(ColorTextDim).
		Background(ColorSurface)

	NoticeStyle = lipgloss.NewStyle().
		Foreground(ColorBg).
		Background(ColorYellow).
		Bold(true).
		Padding(0, 1)

	DimStyle = lipgloss.NewStyle().
		Foreground(ColorTextDim)
}
