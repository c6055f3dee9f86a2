package mailbox

import (
	"bytes"
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapserver"
	"github.com/emersion/go-imap/v2/imapserver/imapmemserver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nhle/crm-mailsync/internal/model"
)

type discardLogger struct{}

func (discardLogger) Printf(string, ...any) {}

// memServer runs an in-memory IMAP server with one user and returns the
// user and a target pointing at it.
func memServer(t *testing.T) (*imapmemserver.User, model.SyncTarget) {
	t.Helper()

	user := imapmemserver.NewUser("crm@example.com", "hunter2")
	require.NoError(t, user.Create("INBOX", nil))

	mem := imapmemserver.New()
	mem.AddUser(user)

	srv := imapserver.New(&imapserver.Options{
		NewSession: func(*imapserver.Conn) (imapserver.Session, *imapserver.GreetingData, error) {
			return mem.NewSession(), nil, nil
		},
		Caps:         imap.CapSet{imap.CapIMAP4rev1: {}},
		Logger:       discardLogger{},
		InsecureAuth: true,
	})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() { _ = srv.Close() })

	host, port, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	portNum, err := strconv.Atoi(port)
	require.NoError(t, err)

	return user, model.SyncTarget{
		ID:       "t1",
		UserID:   "u1",
		Address:  "crm@example.com",
		Host:     host,
		Port:     portNum,
		Security: model.SecurityNone,
		Active:   true,
	}
}

func appendMessage(t *testing.T, user *imapmemserver.User, raw string, at time.Time) {
	t.Helper()
	_, err := user.Append("INBOX", bytes.NewReader([]byte(raw)), &imap.AppendOptions{Time: at})
	require.NoError(t, err)
}

func rawMessage(id, subject string) string {
	return "Message-Id: <" + id + ">\r\n" +
		"From: Alice <alice@example.com>\r\n" +
		"To: crm@example.com\r\n" +
		"Subject: " + subject + "\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n" +
		"\r\n" +
		"hello\r\n"
}

func openSession(t *testing.T, target model.SyncTarget) Session {
	t.Helper()
	f := NewIMAPFetcher(5*time.Second, nil, zap.NewNop())
	session, err := f.Open(context.Background(), target, "hunter2")
	require.NoError(t, err)
	t.Cleanup(func() { _ = session.Close() })
	return session
}

func TestIMAPFetcherRejectsBadCredentials(t *testing.T) {
	_, target := memServer(t)
	f := NewIMAPFetcher(5*time.Second, nil, zap.NewNop())

	_, err := f.Open(context.Background(), target, "wrong")
	require.Error(t, err)
	assert.True(t, IsAuthError(err))
	assert.Contains(t, err.Error(), "authentication failed")
}

func TestIMAPFetcherMissingFolder(t *testing.T) {
	_, target := memServer(t)
	target.Folder = "Archive"
	f := NewIMAPFetcher(5*time.Second, nil, zap.NewNop())

	_, err := f.Open(context.Background(), target, "hunter2")
	require.Error(t, err)
	assert.True(t, IsConnectionError(err))
	assert.False(t, IsAuthError(err))
	assert.Contains(t, err.Error(), "selecting Archive")
}

func TestIMAPFetcherUnreachableServer(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().(*net.TCPAddr)
	require.NoError(t, ln.Close())

	f := NewIMAPFetcher(time.Second, nil, zap.NewNop())
	_, err = f.Open(context.Background(), model.SyncTarget{
		Address: "crm@example.com", Host: "127.0.0.1", Port: addr.Port, Security: model.SecurityNone,
	}, "hunter2")
	require.Error(t, err)
	assert.True(t, IsConnectionError(err))
	assert.False(t, IsAuthError(err))
}

func TestIMAPSessionListOrdersAndFilters(t *testing.T) {
	user, target := memServer(t)
	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	appendMessage(t, user, rawMessage("b@example.com", "second"), base.Add(time.Hour))
	appendMessage(t, user, rawMessage("a@example.com", "first"), base)
	appendMessage(t, user, rawMessage("old@example.com", "old"), base.Add(-time.Hour))

	session := openSession(t, target)

	all, err := session.List(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "old", all[0].Subject)
	assert.Equal(t, "first", all[1].Subject)
	assert.Equal(t, "second", all[2].Subject)
	assert.Equal(t, "a@example.com", all[1].MessageID)

	since, err := session.List(context.Background(), &base)
	require.NoError(t, err)
	require.Len(t, since, 2)
	assert.Equal(t, "first", since[0].Subject)
	assert.True(t, base.Equal(since[0].ReceivedAt))
	assert.Equal(t, "second", since[1].Subject)
}

func TestIMAPSessionListCrossesServerDate(t *testing.T) {
	user, target := memServer(t)

	// 2024-02-29 21:00 in New York is 02:00 UTC on 1 March.
	received := time.Date(2024, 2, 29, 21, 0, 0, 0, time.FixedZone("EST", -5*3600))
	appendMessage(t, user, rawMessage("late@example.com", "late"), received)

	session := openSession(t, target)

	watermark := time.Date(2024, 3, 1, 0, 30, 0, 0, time.UTC)
	require.True(t, received.After(watermark))

	envs, err := session.List(context.Background(), &watermark)
	require.NoError(t, err)
	require.Len(t, envs, 1)
	assert.Equal(t, "late@example.com", envs[0].MessageID)
	assert.True(t, received.Equal(envs[0].ReceivedAt))

	after := received.Add(time.Second)
	envs, err = session.List(context.Background(), &after)
	require.NoError(t, err)
	assert.Empty(t, envs)
}

func TestIMAPSessionFetchRawLeavesMessageUnseen(t *testing.T) {
	user, target := memServer(t)
	raw := rawMessage("a@example.com", "Invoice")
	appendMessage(t, user, raw, time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC))

	session := openSession(t, target)

	envs, err := session.List(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, envs, 1)

	got, err := session.FetchRaw(context.Background(), envs[0].UID)
	require.NoError(t, err)
	assert.Equal(t, raw, string(got))

	status, err := user.Status("INBOX", &imap.StatusOptions{NumUnseen: true})
	require.NoError(t, err)
	require.NotNil(t, status.NumUnseen)
	assert.EqualValues(t, 1, *status.NumUnseen)

	_, err = session.FetchRaw(context.Background(), envs[0].UID+100)
	require.Error(t, err)
	assert.True(t, IsConnectionError(err))
}
