package app

import (
	"context"
	"errors"
	"io"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/nhle/crm-mailsync/internal/gateway"
)

// DefaultRetry is used until the server advertises its own delay.
const DefaultRetry = 120 * time.Second

// Source is an open event stream. *gateway.Stream implements it.
type Source interface {
	Next() (gateway.Message, error)
	Close() error
}

// Dialer opens a new Source.
type Dialer func(ctx context.Context) (Source, error)

// connectedMsg reports a successful dial for the given attempt.
type connectedMsg struct {
	attempt int
	source  Source
}

// streamMsg carries one message read from the source of an attempt.
type streamMsg struct {
	attempt int
	message gateway.Message
}

// disconnectedMsg reports a failed dial or a broken stream.
type disconnectedMsg struct {
	attempt int
	err     error
}

// reconnectMsg fires when the retry delay of an attempt has elapsed.
type reconnectMsg struct {
	attempt int
}

func dial(ctx context.Context, d Dialer, attempt int) tea.Cmd {
	return func() tea.Msg {
		src, err := d(ctx)
		if err != nil {
			return disconnectedMsg{attempt: attempt, err: err}
		}
		return connectedMsg{attempt: attempt, source: src}
	}
}

// readNext waits for the next message on src, mirroring a poller that
// re-arms itself after every result.
func readNext(src Source, attempt int) tea.Cmd {
	return func() tea.Msg {
		msg, err := src.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = errors.New("server closed the stream")
			}
			return disconnectedMsg{attempt: attempt, err: err}
		}
		return streamMsg{attempt: attempt, message: msg}
	}
}

func scheduleReconnect(delay time.Duration, attempt int) tea.Cmd {
	return tea.Tick(delay, func(time.Time) tea.Msg {
		return reconnectMsg{attempt: attempt}
	})
}
