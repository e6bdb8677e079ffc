// Package keys holds the key bindings of the interactive commands.
package keys

import "github.com/charmbracelet/bubbles/key"

// CommonKeys are shared by every interactive command.
type CommonKeys struct {
	Quit       key.Binding
	Help       key.Binding
	InsertMode key.Binding
	Escape     key.Binding
}

func NewCommonKeys() CommonKeys {
	return CommonKeys{
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c"),
			key.WithHelp("q/ctrl+c", "quit"),
		),
		Help: key.NewBinding(
			key.WithKeys("?"),
			key.WithHelp("?", "toggle help"),
		),
		InsertMode: key.NewBinding(
			key.WithKeys("i", "I"),
			key.WithHelp("i", "compose a message"),
		),
		Escape: key.NewBinding(
			key.WithKeys("esc"),
			key.WithHelp("esc", "stop composing"),
		),
	}
}

// MonitorKeys are the bindings of the link monitor.
type MonitorKeys struct {
	CommonKeys
	Clear            key.Binding
	TogglePretty     key.Binding
	ToggleTimestamps key.Binding
	Enter            key.Binding
	HistoryUp        key.Binding
	HistoryDown      key.Binding
	GotoTop          key.Binding
	GotoBottom       key.Binding
}

func NewMonitorKeys() MonitorKeys {
	return MonitorKeys{
		CommonKeys: NewCommonKeys(),
		Clear: key.NewBinding(
			key.WithKeys("c"),
			key.WithHelp("c", "clear buffer"),
		),
		TogglePretty: key.NewBinding(
			key.WithKeys("p"),
			key.WithHelp("p", "toggle key=value view"),
		),
		ToggleTimestamps: key.NewBinding(
			key.WithKeys("t"),
			key.WithHelp("t", "toggle timestamps"),
		),
		Enter: key.NewBinding(
			key.WithKeys("enter"),
			key.WithHelp("enter", "send message"),
		),
		HistoryUp: key.NewBinding(
			key.WithKeys("up"),
			key.WithHelp("↑", "previous message"),
		),
		HistoryDown: key.NewBinding(
			key.WithKeys("down"),
			key.WithHelp("↓", "next message"),
		),
		GotoTop: key.NewBinding(
			key.WithKeys("g"),
			key.WithHelp("g", "goto top"),
		),
		GotoBottom: key.NewBinding(
			key.WithKeys("G"),
			key.WithHelp("G", "goto bottom"),
		),
	}
}

func (k MonitorKeys) ShortHelp() []key.Binding {
	return []key.Binding{k.Help, k.InsertMode, k.Enter, k.Quit}
}

func (k MonitorKeys) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.InsertMode, k.Escape, k.Enter, k.HistoryUp, k.HistoryDown},
		{k.Clear, k.TogglePretty, k.ToggleTimestamps, k.GotoTop, k.GotoBottom},
		{k.Help, k.Quit},
	}
}
