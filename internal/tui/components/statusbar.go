package components

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/allbin/go-devlink"
	"github.com/allbin/go-devlink/internal/tui/styles"
)

// LinkInfo is the static part of the status bar.
type LinkInfo struct {
	Signature string
	BaudRate  int
}

type StatusBar struct {
	info     LinkInfo
	snapshot devlink.Snapshot
	width    int
}

func NewStatusBar(info LinkInfo) *StatusBar {
	return &StatusBar{
		info:     info,
		snapshot: devlink.Snapshot{State: devlink.Disconnected},
	}
}

func (sb *StatusBar) SetWidth(width int) {
	sb.width = width
}

func (sb *StatusBar) SetSnapshot(s devlink.Snapshot) {
	sb.snapshot = s
}

func (sb *StatusBar) Snapshot() devlink.Snapshot {
	return sb.snapshot
}

// View renders a single line: mode, link state and target on the left,
// link settings, counters and the clock on the right.
func (sb *StatusBar) View(insertMode bool, rx, tx int, now time.Time) string {
	width := sb.width
	if width <= 0 {
		width = 80
	}

	modeStyle := lipgloss.NewStyle().
		Foreground(styles.Base).
		Background(styles.Blue).
		Bold(true).
		Padding(0, 1)
	modeText := "NORMAL"
	if insertMode {
		modeStyle = modeStyle.Background(styles.Green)
		modeText = "INSERT"
	}
	mode := modeStyle.Render(modeText)

	state := sb.snapshot.State
	stateView := lipgloss.NewStyle().
		Foreground(styles.StateColor(state)).
		Bold(true).
		Padding(0, 1).
		Render(styles.StateIndicator(state) + " " + state.String())

	target := sb.snapshot.Target
	if target == "" {
		target = fmt.Sprintf("waiting for %q", sb.info.Signature)
		if sb.snapshot.Attempts > 0 {
			target += fmt.Sprintf(" (attempt %d)", sb.snapshot.Attempts)
		}
	}
	targetView := lipgloss.NewStyle().Foreground(styles.Mauve).Padding(0, 1).Render(target)

	divider := lipgloss.NewStyle().Foreground(styles.Surface2).Padding(0, 1).Render("│")

	details := lipgloss.NewStyle().
		Foreground(styles.Subtext0).
		Padding(0, 1).
		Render(fmt.Sprintf("⚡ %d baud  rx %d  tx %d", sb.info.BaudRate, rx, tx))
	clock := lipgloss.NewStyle().Foreground(styles.Subtext1).Padding(0, 1).Render(now.Format("15:04:05"))

	left := lipgloss.JoinHorizontal(lipgloss.Left, mode, stateView, targetView, divider)
	right := lipgloss.JoinHorizontal(lipgloss.Left, details, divider, clock)

	spacerWidth := width - lipgloss.Width(left) - lipgloss.Width(right)
	if spacerWidth < 1 {
		spacerWidth = 1
	}
	spacer := lipgloss.NewStyle().Width(spacerWidth).Render("")

	return lipgloss.NewStyle().
		Foreground(styles.Text).
		Background(styles.Surface0).
		Width(width).
		Render(lipgloss.JoinHorizontal(lipgloss.Left, left, spacer, right))
}
