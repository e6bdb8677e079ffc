package components

import (
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
)

// DefaultMaxEntries bounds the scrollback of a Terminal.
const DefaultMaxEntries = 1000

// Terminal is a scrolling view of monitor entries that follows the newest
// entry unless the user has scrolled away from the bottom.
type Terminal struct {
	viewport   viewport.Model
	formatter  *DataFormatter
	entries    []Entry
	maxEntries int
	// Entries trimmed or cleared so far; keeps ids returned by Add stable
	dropped int
}

func NewTerminal(width, height int, opts FormatOptions) *Terminal {
	return &Terminal{
		viewport:   viewport.New(width, height),
		formatter:  NewDataFormatter(opts),
		maxEntries: DefaultMaxEntries,
	}
}

func (t *Terminal) SetSize(width, height int) {
	t.viewport.Width = width
	t.viewport.Height = height
	t.refresh(true)
}

func (t *Terminal) Width() int {
	return t.viewport.Width
}

// Add appends e and returns an id for Update.
func (t *Terminal) Add(e Entry) int {
	follow := t.viewport.AtBottom()

	t.entries = append(t.entries, e)
	if over := len(t.entries) - t.maxEntries; over > 0 {
		t.entries = t.entries[over:]
		t.dropped += over
	}
	t.refresh(follow)
	return t.dropped + len(t.entries) - 1
}

// Update modifies the entry with the given id if it is still in the
// scrollback.
func (t *Terminal) Update(id int, fn func(*Entry)) {
	i := id - t.dropped
	if i < 0 || i >= len(t.entries) {
		return
	}
	fn(&t.entries[i])
	t.refresh(t.viewport.AtBottom())
}

func (t *Terminal) Entries() []Entry {
	return t.entries
}

func (t *Terminal) Len() int {
	return len(t.entries)
}

func (t *Terminal) Clear() {
	t.dropped += len(t.entries)
	t.entries = nil
	t.viewport.SetContent("")
}

func (t *Terminal) TogglePretty() {
	t.formatter.TogglePretty()
	t.refresh(t.viewport.AtBottom())
}

func (t *Terminal) ToggleTimestamps() {
	t.formatter.ToggleTimestamps()
	t.refresh(t.viewport.AtBottom())
}

func (t *Terminal) GotoTop() {
	t.viewport.GotoTop()
}

func (t *Terminal) GotoBottom() {
	t.viewport.GotoBottom()
}

func (t *Terminal) refresh(follow bool) {
	t.viewport.SetContent(strings.Join(t.formatter.FormatEntries(t.entries), "\n"))
	if follow {
		t.viewport.GotoBottom()
	}
}

// HandleScroll passes mouse and paging messages to the viewport. Key
// messages are left to the caller so the viewport does not swallow the
// monitor's bindings.
func (t *Terminal) HandleScroll(msg tea.Msg) tea.Cmd {
	if _, ok := msg.(tea.MouseMsg); !ok {
		return nil
	}
	var cmd tea.Cmd
	t.viewport, cmd = t.viewport.Update(msg)
	return cmd
}

func (t *Terminal) View() string {
	return t.viewport.View()
}
