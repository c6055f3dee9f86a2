// Package app is the terminal client that follows a user's live events.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/nhle/crm-mailsync/internal/keys"
	"github.com/nhle/crm-mailsync/internal/theme"
	"github.com/nhle/crm-mailsync/internal/ui"
	"github.com/nhle/crm-mailsync/internal/ui/feed"
	helpview "github.com/nhle/crm-mailsync/internal/ui/help"
)

// ConnState is the client's view of the stream.
type ConnState int

const (
	StateConnecting ConnState = iota
	StateOpen
	StateWaiting
)

func (s ConnState) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateWaiting:
		return "closed"
	default:
		return "connecting"
	}
}

// Model is the root Bubble Tea model of the watch client.
type Model struct {
	ctx    context.Context
	dialer Dialer

	layout   ui.Layout
	keys     *keys.KeyMap
	feed     feed.Model
	helpView helpview.Model
	spinner  spinner.Model
	showHelp bool
	ready    bool

	state   ConnState
	attempt int
	source  Source
	retry   time.Duration
	nextTry time.Time
	lastErr error
	title   string
}

// New creates the watch model. Streams are opened through dialer; title
// names the session in the header.
func New(ctx context.Context, dialer Dialer, title string) Model {
	k := keys.DefaultKeyMap()
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = theme.HelpStyle

	return Model{
		ctx:      ctx,
		dialer:   dialer,
		keys:     k,
		feed:     feed.New(k, 80, 22),
		helpView: helpview.New(k, 80, 22),
		spinner:  sp,
		retry:    DefaultRetry,
		title:    title,
	}
}

// Init dials the first stream.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, dial(m.ctx, m.dialer, m.attempt))
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.layout = ui.NewLayout(msg.Width, msg.Height)
		m.ready = true
		m.feed.SetSize(msg.Width, m.layout.ContentHeight())
		m.helpView.SetSize(msg.Width, m.layout.ContentHeight())
		return m, nil

	case connectedMsg:
		if msg.attempt != m.attempt {
			_ = msg.source.Close()
			return m, nil
		}
		m.source = msg.source
		m.state = StateOpen
		m.lastErr = nil
		return m, readNext(m.source, m.attempt)

	case streamMsg:
		if msg.attempt != m.attempt {
			return m, nil
		}
		if msg.message.Retry > 0 {
			m.retry = msg.message.Retry
		}
		cmd := readNext(m.source, m.attempt)
		entry, err := feed.Decode(msg.message)
		if err != nil {
			m.lastErr = err
			return m, cmd
		}
		m.feed.Push(entry)
		return m, cmd

	case disconnectedMsg:
		if msg.attempt != m.attempt {
			return m, nil
		}
		m.closeSource()
		m.state = StateWaiting
		m.lastErr = msg.err
		m.nextTry = time.Now().Add(m.retry)
		return m, scheduleReconnect(m.retry, m.attempt)

	case reconnectMsg:
		if msg.attempt != m.attempt {
			return m, nil
		}
		return m, m.reconnect()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			m.closeSource()
			return m, tea.Quit
		case key.Matches(msg, m.keys.Help):
			m.showHelp = !m.showHelp
			return m, nil
		case key.Matches(msg, m.keys.Reconnect):
			if m.state == StateOpen {
				return m, nil
			}
			return m, m.reconnect()
		}
	}

	var cmd tea.Cmd
	m.feed, cmd = m.feed.Update(msg)
	return m, cmd
}

// reconnect abandons the current attempt and dials a new one.
func (m *Model) reconnect() tea.Cmd {
	m.closeSource()
	m.attempt++
	m.state = StateConnecting
	return dial(m.ctx, m.dialer, m.attempt)
}

func (m *Model) closeSource() {
	if m.source != nil {
		_ = m.source.Close()
		m.source = nil
	}
}

// State returns the connection state.
func (m Model) State() ConnState {
	return m.state
}

// Feed returns the feed model.
func (m Model) Feed() feed.Model {
	return m.feed
}

// Retry returns the current reconnection delay.
func (m Model) Retry() time.Duration {
	return m.retry
}

// View renders the full terminal UI.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}

	title := m.title
	if n := m.feed.Unread(); n > 0 {
		title += " " + theme.UnreadBadgeStyle.Render(fmt.Sprintf("%d new", n))
	}
	header := m.layout.RenderHeader(title, m.connStatus())

	content := m.feed.View()
	if m.showHelp {
		content = m.helpView.View()
	}

	hints := m.helpView.ShortView()
	if m.lastErr != nil {
		hints = m.lastErr.Error()
	}

	return m.layout.Frame(header, content, m.layout.RenderStatusBar(hints))
}

func (m Model) connStatus() string {
	style := theme.ConnectionStyle(m.state.String())
	switch m.state {
	case StateOpen:
		return style.Render("● live")
	case StateWaiting:
		wait := time.Until(m.nextTry).Round(time.Second)
		return style.Render(fmt.Sprintf("○ retry in %s", max(wait, 0)))
	default:
		return style.Render(m.spinner.View() + " connecting")
	}
}
