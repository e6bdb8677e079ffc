package styles

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/allbin/go-devlink"
)

// Catppuccin Mocha, only the shades the monitor uses
var (
	Base     = lipgloss.Color("#1e1e2e")
	Surface0 = lipgloss.Color("#313244")
	Surface1 = lipgloss.Color("#45475a")
	Surface2 = lipgloss.Color("#585b70")
	Overlay0 = lipgloss.Color("#6c7086")
	Subtext0 = lipgloss.Color("#a6adc8")
	Subtext1 = lipgloss.Color("#bac2de")
	Text     = lipgloss.Color("#cdd6f4")

	Blue   = lipgloss.Color("#89b4fa")
	Sky    = lipgloss.Color("#89dceb")
	Green  = lipgloss.Color("#a6e3a1")
	Yellow = lipgloss.Color("#f9e2af")
	Peach  = lipgloss.Color("#fab387")
	Red    = lipgloss.Color("#f38ba8")
	Mauve  = lipgloss.Color("#cba6f7")
)

var (
	ContentBorderStyle = lipgloss.NewStyle().
				BorderTop(true).
				BorderStyle(lipgloss.NormalBorder()).
				BorderForeground(Surface1)

	InputStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(Surface2).
			Padding(0, 1)

	HelpStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(Surface2).
			Padding(1, 2).
			Margin(1, 0)

	ErrorStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(Red)

	TimestampStyle = lipgloss.NewStyle().Foreground(Subtext0)
)

// StateColor is the color a link state is drawn in.
func StateColor(s devlink.State) lipgloss.Color {
	switch s {
	case devlink.Connected:
		return Green
	case devlink.Discovered:
		return Yellow
	case devlink.Error:
		return Red
	case devlink.Stopped:
		return Overlay0
	default:
		return Peach
	}
}

// StateIndicator is a one-character symbol for a link state.
func StateIndicator(s devlink.State) string {
	switch s {
	case devlink.Connected:
		return "●"
	case devlink.Error:
		return "✗"
	case devlink.Stopped:
		return "■"
	default:
		return "○"
	}
}
