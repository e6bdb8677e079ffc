// Package models holds the Bubble Tea models of the interactive commands.
package models

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/allbin/go-devlink"
	"github.com/allbin/go-devlink/frame"
	"github.com/allbin/go-devlink/internal/tui/components"
	"github.com/allbin/go-devlink/internal/tui/keys"
	"github.com/allbin/go-devlink/internal/tui/styles"
)

const (
	statusPollInterval = 250 * time.Millisecond
	sendTimeout        = 5 * time.Second
)

// InputMode represents the current input mode (vim-like)
type InputMode int

const (
	InputModeNormal InputMode = iota
	InputModeInsert
)

func (m InputMode) String() string {
	if m == InputModeInsert {
		return "INSERT"
	}
	return "NORMAL"
}

// Link is the part of a devlink.Manager the monitor drives.
type Link interface {
	Status() devlink.Snapshot
	Send(ctx context.Context, v any) error
	Subscribe() *devlink.Subscription
}

// Messages delivered to the model.
type (
	MessageReceivedMsg struct {
		Message frame.Message
		At      time.Time
	}
	LinkStatusMsg      devlink.Snapshot
	SubscriptionClosed struct{}
	SendResultMsg      struct {
		ID  int
		Err error
	}
	tickMsg time.Time
)

// MonitorModel shows the decoded message stream of a link, its state, and
// lets the user send JSON messages to the device.
type MonitorModel struct {
	link Link
	sub  *devlink.Subscription

	terminal  *components.Terminal
	statusBar *components.StatusBar
	input     *components.Input
	help      help.Model
	keys      keys.MonitorKeys

	mode  InputMode
	ready bool
	rx    int
	tx    int
	now   time.Time
}

func NewMonitorModel(link Link, info components.LinkInfo, opts components.FormatOptions) *MonitorModel {
	input := components.NewInput()
	input.Blur()

	return &MonitorModel{
		link:      link,
		sub:       link.Subscribe(),
		terminal:  components.NewTerminal(80, 20, opts),
		statusBar: components.NewStatusBar(info),
		input:     input,
		help:      help.New(),
		keys:      keys.NewMonitorKeys(),
		now:       time.Now(),
	}
}

func (m *MonitorModel) Init() tea.Cmd {
	return tea.Batch(m.waitForMessage(), m.pollStatus(), tickEvery())
}

func (m *MonitorModel) Mode() InputMode {
	return m.mode
}

func (m *MonitorModel) Terminal() *components.Terminal {
	return m.terminal
}

// Close releases the subscription.
func (m *MonitorModel) Close() {
	m.sub.Close()
}

func (m *MonitorModel) waitForMessage() tea.Cmd {
	sub := m.sub
	return func() tea.Msg {
		msg, ok := <-sub.C()
		if !ok {
			return SubscriptionClosed{}
		}
		return MessageReceivedMsg{Message: msg, At: time.Now()}
	}
}

func (m *MonitorModel) pollStatus() tea.Cmd {
	return tea.Tick(statusPollInterval, func(time.Time) tea.Msg {
		return LinkStatusMsg(m.link.Status())
	})
}

func tickEvery() tea.Cmd {
	return tea.Every(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m *MonitorModel) sendCmd(id int, msg frame.Message) tea.Cmd {
	link := m.link
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()
		return SendResultMsg{ID: id, Err: link.Send(ctx, msg)}
	}
}

func (m *MonitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		// Border above the feed, input box (3 lines) and the status bar
		m.terminal.SetSize(msg.Width, max(msg.Height-5, 1))
		m.statusBar.SetWidth(msg.Width)
		m.input.SetWidth(msg.Width)
		m.ready = true
		return m, nil

	case MessageReceivedMsg:
		m.rx++
		m.terminal.Add(components.Entry{Timestamp: msg.At, Message: msg.Message})
		return m, m.waitForMessage()

	case SubscriptionClosed:
		m.terminal.Add(components.Entry{Timestamp: time.Now(), Note: "link stopped"})
		return m, nil

	case LinkStatusMsg:
		m.setStatus(devlink.Snapshot(msg))
		return m, m.pollStatus()

	case SendResultMsg:
		m.terminal.Update(msg.ID, func(e *components.Entry) {
			if msg.Err != nil {
				e.Status = components.TXFailed
				e.Err = msg.Err
				return
			}
			e.Status = components.TXWritten
		})
		return m, nil

	case tickMsg:
		m.now = time.Time(msg)
		return m, tickEvery()

	case tea.MouseMsg:
		return m, m.terminal.HandleScroll(msg)

	case tea.KeyMsg:
		if m.mode == InputModeInsert {
			return m, m.updateInsert(msg)
		}
		return m, m.updateNormal(msg)
	}

	return m, nil
}

func (m *MonitorModel) setStatus(s devlink.Snapshot) {
	prev := m.statusBar.Snapshot()
	m.statusBar.SetSnapshot(s)
	if prev.State == s.State {
		return
	}

	note := "link " + s.State.String()
	if s.Target != "" {
		note += " on " + s.Target
	}
	m.terminal.Add(components.Entry{Timestamp: time.Now(), Note: note})
}

func (m *MonitorModel) updateNormal(msg tea.KeyMsg) tea.Cmd {
	switch {
	case key.Matches(msg, m.keys.Quit):
		m.Close()
		return tea.Quit
	case key.Matches(msg, m.keys.InsertMode):
		m.mode = InputModeInsert
		m.input.Focus()
	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
	case key.Matches(msg, m.keys.Clear):
		m.terminal.Clear()
	case key.Matches(msg, m.keys.TogglePretty):
		m.terminal.TogglePretty()
	case key.Matches(msg, m.keys.ToggleTimestamps):
		m.terminal.ToggleTimestamps()
	case key.Matches(msg, m.keys.GotoTop):
		m.terminal.GotoTop()
	case key.Matches(msg, m.keys.GotoBottom):
		m.terminal.GotoBottom()
	}
	return nil
}

func (m *MonitorModel) updateInsert(msg tea.KeyMsg) tea.Cmd {
	switch {
	case msg.Type == tea.KeyCtrlC:
		m.Close()
		return tea.Quit
	case key.Matches(msg, m.keys.Escape):
		m.mode = InputModeNormal
		m.input.Blur()
		return nil
	case key.Matches(msg, m.keys.HistoryUp):
		m.input.NavigateHistoryUp()
		return nil
	case key.Matches(msg, m.keys.HistoryDown):
		m.input.NavigateHistoryDown()
		return nil
	case key.Matches(msg, m.keys.Enter):
		return m.submit()
	}
	return m.input.Update(msg)
}

// submit validates the composed line and hands it to the link. Invalid
// input stays in the composer so it can be fixed.
func (m *MonitorModel) submit() tea.Cmd {
	text := strings.TrimSpace(m.input.Value())
	if text == "" {
		return nil
	}

	msg, err := frame.Decode([]byte(text))
	if err != nil {
		m.terminal.Add(components.Entry{
			Timestamp: time.Now(),
			Note:      fmt.Sprintf("not sent: %v", err),
		})
		return nil
	}

	m.input.AddToHistory(text)
	m.input.Reset()
	m.tx++
	id := m.terminal.Add(components.Entry{
		Timestamp: time.Now(),
		Message:   msg,
		IsTX:      true,
		Status:    components.TXPending,
	})
	return m.sendCmd(id, msg)
}

func (m *MonitorModel) View() string {
	if !m.ready {
		return "Initializing..."
	}

	parts := []string{
		styles.ContentBorderStyle.Render(m.terminal.View()),
		m.input.View(m.mode == InputModeInsert),
	}
	if m.help.ShowAll {
		parts = append(parts, styles.HelpStyle.Render(m.help.View(m.keys)))
	}
	parts = append(parts, m.statusBar.View(m.mode == InputModeInsert, m.rx, m.tx, m.now))

	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}
