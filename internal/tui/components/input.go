package components

import (
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/allbin/go-devlink/internal/tui/styles"
)

const maxHistory = 100

// Input is the message composer. It keeps a history of sent lines that
// can be recalled with up/down.
type Input struct {
	textInput    textinput.Model
	history      []string
	historyIndex int
	// Unsent text, restored when navigating past the newest history entry
	currentInput string
	width        int
}

func NewInput() *Input {
	ti := textinput.New()
	ti.Placeholder = `{"cmd":"on"}`
	ti.CharLimit = 1024
	ti.Prompt = ""
	ti.Focus()

	return &Input{
		textInput:    ti,
		historyIndex: -1,
	}
}

func (i *Input) SetWidth(width int) {
	i.width = width
	// border(2) + padding(2) + prompt(2)
	usable := width - 6
	if usable < 20 {
		usable = 20
	}
	i.textInput.Width = usable
}

func (i *Input) Focus() {
	i.textInput.Focus()
}

func (i *Input) Blur() {
	i.textInput.Blur()
}

func (i *Input) Value() string {
	return i.textInput.Value()
}

func (i *Input) SetValue(value string) {
	i.textInput.SetValue(value)
}

func (i *Input) Reset() {
	i.textInput.Reset()
}

func (i *Input) Update(msg tea.Msg) tea.Cmd {
	var cmd tea.Cmd
	i.textInput, cmd = i.textInput.Update(msg)
	return cmd
}

func (i *Input) View(insertMode bool) string {
	prompt := lipgloss.NewStyle().Foreground(styles.Green).Bold(true).Render(">")

	var content string
	if insertMode {
		content = lipgloss.JoinHorizontal(lipgloss.Left, prompt, " ", i.textInput.View())
	} else {
		hint := lipgloss.NewStyle().Foreground(styles.Overlay0).Render("Press 'i' to compose a JSON message")
		content = lipgloss.JoinHorizontal(lipgloss.Left, prompt, " ", hint)
	}

	width := i.width - 4
	if width < 10 {
		width = 10
	}
	style := styles.InputStyle.Width(width)
	if insertMode {
		style = style.BorderForeground(styles.Green)
	}
	return style.Render(content)
}

// AddToHistory records command unless it is empty or repeats the last one.
func (i *Input) AddToHistory(command string) {
	command = strings.TrimSpace(command)
	if command == "" {
		return
	}
	if n := len(i.history); n > 0 && i.history[n-1] == command {
		return
	}

	i.history = append(i.history, command)
	if len(i.history) > maxHistory {
		i.history = i.history[1:]
	}
	i.historyIndex = -1
	i.currentInput = ""
}

func (i *Input) History() []string {
	return i.history
}

func (i *Input) NavigateHistoryUp() {
	if len(i.history) == 0 {
		return
	}

	if i.historyIndex == -1 {
		i.currentInput = i.textInput.Value()
		i.historyIndex = len(i.history) - 1
	} else if i.historyIndex > 0 {
		i.historyIndex--
	}
	i.textInput.SetValue(i.history[i.historyIndex])
}

func (i *Input) NavigateHistoryDown() {
	if len(i.history) == 0 || i.historyIndex == -1 {
		return
	}

	if i.historyIndex < len(i.history)-1 {
		i.historyIndex++
		i.textInput.SetValue(i.history[i.historyIndex])
		return
	}
	i.historyIndex = -1
	i.textInput.SetValue(i.currentInput)
	i.currentInput = ""
}
