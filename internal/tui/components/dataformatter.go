package components

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/allbin/go-devlink/frame"
	"github.com/allbin/go-devlink/internal/tui/styles"
)

// TXStatus tracks an outbound message from the moment it is queued.
type TXStatus int

const (
	TXPending TXStatus = iota
	TXWritten
	TXFailed
)

// Entry is one line of the monitor: a message from the device, one sent
// to it, or a note about the link itself.
type Entry struct {
	Timestamp time.Time
	Message   frame.Message
	IsTX      bool
	Status    TXStatus
	Note      string
	Err       error
}

type FormatOptions struct {
	ShowTimestamps bool
	// Pretty renders messages as sorted key=value pairs instead of JSON.
	Pretty bool
}

type DataFormatter struct {
	opts FormatOptions
}

func NewDataFormatter(opts FormatOptions) *DataFormatter {
	return &DataFormatter{opts: opts}
}

func (df *DataFormatter) Options() FormatOptions {
	return df.opts
}

func (df *DataFormatter) TogglePretty() {
	df.opts.Pretty = !df.opts.Pretty
}

func (df *DataFormatter) ToggleTimestamps() {
	df.opts.ShowTimestamps = !df.opts.ShowTimestamps
}

func (df *DataFormatter) FormatEntry(e Entry) string {
	var parts []string

	if df.opts.ShowTimestamps {
		parts = append(parts, styles.TimestampStyle.Render("["+e.Timestamp.Format("15:04:05.000")+"]"))
	}

	switch {
	case e.Note != "":
		parts = append(parts, lipgloss.NewStyle().Foreground(styles.Mauve).Render("• "+e.Note))
		return strings.Join(parts, " ")
	case e.IsTX:
		parts = append(parts, txIndicator(e.Status))
	default:
		parts = append(parts, lipgloss.NewStyle().Foreground(styles.Sky).Bold(true).Render("↙ RX"))
	}

	parts = append(parts, df.formatMessage(e.Message))
	if e.Err != nil {
		parts = append(parts, styles.ErrorStyle.Render(e.Err.Error()))
	}
	return strings.Join(parts, " ")
}

func (df *DataFormatter) FormatEntries(entries []Entry) []string {
	formatted := make([]string, len(entries))
	for i, e := range entries {
		formatted[i] = df.FormatEntry(e)
	}
	return formatted
}

func (df *DataFormatter) formatMessage(msg frame.Message) string {
	if !df.opts.Pretty {
		data, err := frame.Encode(msg, "\n")
		if err != nil {
			return fmt.Sprintf("%v", map[string]any(msg))
		}
		return strings.TrimSuffix(string(data), "\n")
	}

	keys := make([]string, 0, len(msg))
	for k := range msg {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, len(keys))
	for i, k := range keys {
		pairs[i] = fmt.Sprintf("%s=%v", k, msg[k])
	}
	return strings.Join(pairs, " ")
}

func txIndicator(status TXStatus) string {
	var color lipgloss.Color
	var text string

	switch status {
	case TXWritten:
		color, text = styles.Green, "TX ✓"
	case TXFailed:
		color, text = styles.Red, "TX ✗"
	default:
		color, text = styles.Yellow, "TX ○"
	}

	return lipgloss.NewStyle().Foreground(color).Bold(true).Render("↗ " + text)
}
