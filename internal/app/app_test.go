package app

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/crm-mailsync/internal/gateway"
)

type fakeSource struct {
	messages []gateway.Message
	closed   bool
}

func (f *fakeSource) Next() (gateway.Message, error) {
	if len(f.messages) == 0 {
		return gateway.Message{}, io.EOF
	}
	msg := f.messages[0]
	f.messages = f.messages[1:]
	return msg, nil
}

func (f *fakeSource) Close() error {
	f.closed = true
	return nil
}

func newTestModel(src *fakeSource, dialErr error) Model {
	dialer := func(context.Context) (Source, error) {
		if dialErr != nil {
			return nil, dialErr
		}
		return src, nil
	}
	return New(context.Background(), dialer, "crm-mailsync")
}

func step(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	mm, ok := next.(Model)
	require.True(t, ok)
	return mm, cmd
}

func TestStreamLifecycle(t *testing.T) {
	src := &fakeSource{messages: []gateway.Message{
		{Event: "connection_established", Retry: 90 * time.Second, Data: `{"message":"Connected as Ann"}`},
		{Event: "email_received", Data: `{"email_id":"e1","subject":"Hello","sender":"bob@example.com"}`},
	}}
	m := newTestModel(src, nil)
	assert.Equal(t, StateConnecting, m.State())

	m, cmd := step(t, m, dial(m.ctx, m.dialer, m.attempt)())
	assert.Equal(t, StateOpen, m.State())
	require.NotNil(t, cmd)

	m, cmd = step(t, m, cmd())
	assert.Equal(t, 90*time.Second, m.Retry())

	m, cmd = step(t, m, cmd())
	assert.Equal(t, 1, m.Feed().Unread())
	require.Len(t, m.Feed().Entries(), 2)

	// The source is exhausted, so the next read reports a disconnect.
	msg := cmd()
	require.IsType(t, disconnectedMsg{}, msg)
	m, cmd = step(t, m, msg)
	assert.Equal(t, StateWaiting, m.State())
	assert.True(t, src.closed)
	assert.NotNil(t, cmd)
	assert.Len(t, m.Feed().Entries(), 2)
}

func TestDialFailureSchedulesRetry(t *testing.T) {
	m := newTestModel(nil, errors.New("connection refused"))

	m, cmd := step(t, m, dial(m.ctx, m.dialer, m.attempt)())
	assert.Equal(t, StateWaiting, m.State())
	assert.NotNil(t, cmd)
	assert.EqualError(t, m.lastErr, "connection refused")

	m, cmd = step(t, m, reconnectMsg{attempt: m.attempt})
	assert.Equal(t, StateConnecting, m.State())
	assert.Equal(t, 1, m.attempt)
	assert.NotNil(t, cmd)
}

func TestStaleAttemptsAreIgnored(t *testing.T) {
	src := &fakeSource{}
	m := newTestModel(src, nil)

	m, _ = step(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("R")})
	require.Equal(t, 1, m.attempt)

	m, _ = step(t, m, connectedMsg{attempt: 0, source: src})
	assert.Equal(t, StateConnecting, m.State())
	assert.True(t, src.closed)

	m, _ = step(t, m, reconnectMsg{attempt: 0})
	assert.Equal(t, 1, m.attempt)

	m, _ = step(t, m, streamMsg{attempt: 0, message: gateway.Message{Event: "email_received", Data: `{"email_id":"x"}`}})
	assert.Empty(t, m.Feed().Entries())
}

func TestQuitClosesSource(t *testing.T) {
	src := &fakeSource{}
	m := newTestModel(src, nil)
	m, _ = step(t, m, connectedMsg{attempt: 0, source: src})

	_, cmd := step(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
	assert.True(t, src.closed)
}

func TestViewShowsUnreadBadge(t *testing.T) {
	m := newTestModel(&fakeSource{}, nil)
	m, _ = step(t, m, tea.WindowSizeMsg{Width: 100, Height: 20})
	m, _ = step(t, m, connectedMsg{attempt: 0, source: &fakeSource{}})
	m, _ = step(t, m, streamMsg{attempt: 0, message: gateway.Message{Event: "email_received", Data: `{"email_id":"e1","subject":"Hi"}`}})

	view := m.View()
	assert.Contains(t, view, "1 new")
	assert.Contains(t, view, "live")
	assert.Contains(t, view, "Hi")
}
