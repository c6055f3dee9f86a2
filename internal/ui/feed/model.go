// Package feed renders the live event stream of one user.
package feed

import (
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/crm-mailsync/internal/keys"
	"github.com/nhle/crm-mailsync/internal/model"
	"github.com/nhle/crm-mailsync/internal/theme"
)

// MaxEntries bounds the feed; older rows are discarded.
const MaxEntries = 200

// EntryMsg delivers a decoded event to the feed.
type EntryMsg struct {
	Entry Entry
}

// Model is the scrolling list of received events, newest first.
type Model struct {
	entries []Entry
	cursor  int
	offset  int

	// unread holds ids of received messages not yet marked read.
	unread map[string]struct{}

	keys   *keys.KeyMap
	width  int
	height int
}

// New creates an empty feed.
func New(k *keys.KeyMap, width, height int) Model {
	return Model{
		unread: make(map[string]struct{}),
		keys:   k,
		width:  width,
		height: height,
	}
}

// Update handles feed messages and navigation keys.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case EntryMsg:
		m.Push(msg.Entry)
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Down):
			m.move(1)
		case key.Matches(msg, m.keys.Up):
			m.move(-1)
		case key.Matches(msg, m.keys.Top):
			m.move(-len(m.entries))
		case key.Matches(msg, m.keys.Bottom):
			m.move(len(m.entries))
		case key.Matches(msg, m.keys.MarkSeen):
			clear(m.unread)
		case key.Matches(msg, m.keys.Clear):
			m.entries = nil
			m.cursor, m.offset = 0, 0
		}
	}
	return m, nil
}

// Push adds e at the top of the feed and updates the unread set.
func (m *Model) Push(e Entry) {
	switch {
	case e.Type == model.EventEmailReceived && e.EmailID != "":
		m.unread[e.EmailID] = struct{}{}
	case e.Type == model.EventEmailUpdated && e.Action == model.ActionMarkedRead:
		delete(m.unread, e.EmailID)
	}

	m.entries = append([]Entry{e}, m.entries...)
	if len(m.entries) > MaxEntries {
		m.entries = m.entries[:MaxEntries]
	}
	// Keep the selection on the same row unless it was at the top.
	if m.cursor > 0 {
		m.move(1)
	}
}

// Unread returns the number of received messages not yet read.
func (m Model) Unread() int {
	return len(m.unread)
}

// Entries returns the rows, newest first.
func (m Model) Entries() []Entry {
	return m.entries
}

// Cursor returns the index of the selected row.
func (m Model) Cursor() int {
	return m.cursor
}

// SetSize updates the feed dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.move(0)
}

func (m *Model) move(delta int) {
	m.cursor = min(max(m.cursor+delta, 0), max(len(m.entries)-1, 0))

	rows := m.visibleRows()
	if m.cursor < m.offset {
		m.offset = m.cursor
	}
	if m.cursor >= m.offset+rows {
		m.offset = m.cursor - rows + 1
	}
}

func (m Model) visibleRows() int {
	return max(m.height, 1)
}

// View renders the visible rows.
func (m Model) View() string {
	if len(m.entries) == 0 {
		return theme.HelpStyle.PaddingLeft(2).Render("Waiting for events...")
	}

	end := min(m.offset+m.visibleRows(), len(m.entries))
	lines := make([]string, 0, end-m.offset)
	for i := m.offset; i < end; i++ {
		lines = append(lines, m.renderRow(m.entries[i], i == m.cursor))
	}
	return strings.Join(lines, "\n")
}

func (m Model) renderRow(e Entry, selected bool) string {
	ts := "--:--:--"
	if !e.Timestamp.IsZero() {
		ts = e.Timestamp.Local().Format("15:04:05")
	}

	title := e.Title
	if e.Type == model.EventSystemNotification {
		title = theme.LevelStyle(string(e.Level)).Render(title)
	}
	if _, ok := m.unread[e.EmailID]; ok && e.Type == model.EventEmailReceived {
		title = lipgloss.NewStyle().Bold(true).Render("● ") + title
	}

	row := lipgloss.JoinHorizontal(lipgloss.Top,
		theme.TimestampStyle.Render(ts),
		" ",
		theme.EventStyle(string(e.Type)).Render(e.Label()),
		title,
	)
	if e.Detail != "" {
		row += theme.HelpStyle.Render("  " + e.Detail)
	}

	if selected {
		return theme.SelectedItemStyle.MaxWidth(m.width).Render(row)
	}
	return theme.ListItemStyle.MaxWidth(m.width).Render(row)
}
