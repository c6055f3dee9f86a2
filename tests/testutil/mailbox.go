package testutil

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nhle/crm-mailsync/internal/mailbox"
	"github.com/nhle/crm-mailsync/internal/model"
)

// RawMessage builds a minimal RFC 5322 message.
func RawMessage(messageID, from, subject, body string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "Message-Id: <%s>\r\n", messageID)
	fmt.Fprintf(&b, "From: %s\r\n", from)
	b.WriteString("To: crm@example.com\r\n")
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("Date: Mon, 02 Jan 2006 15:04:05 +0000\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	b.WriteString("\r\n")
	return []byte(b.String())
}

type fakeMessage struct {
	uid        uint32
	receivedAt time.Time
	raw        []byte
}

// FakeMailbox is an in-memory mailbox.Fetcher.
type FakeMailbox struct {
	mu       sync.Mutex
	messages []fakeMessage
	nextUID  uint32

	// OpenErr and ListErr fail the corresponding step.
	OpenErr error
	ListErr error

	// FailFetchAfter makes FetchRaw fail after that many successful
	// fetches in a session. Zero disables it.
	FailFetchAfter int

	// ListGate, when set, blocks List until it is closed or receives.
	ListGate chan struct{}

	Opens   int
	Secrets []string
	Since   []*time.Time
}

var _ mailbox.Fetcher = (*FakeMailbox)(nil)

// Add stores raw as received at receivedAt and returns its UID.
func (f *FakeMailbox) Add(raw []byte, receivedAt time.Time) uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextUID++
	f.messages = append(f.messages, fakeMessage{uid: f.nextUID, receivedAt: receivedAt, raw: raw})
	return f.nextUID
}

// Open implements mailbox.Fetcher.
func (f *FakeMailbox) Open(_ context.Context, target model.SyncTarget, secret string) (mailbox.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Opens++
	f.Secrets = append(f.Secrets, secret)
	if f.OpenErr != nil {
		return nil, f.OpenErr
	}
	return &fakeSession{box: f}, nil
}

type fakeSession struct {
	box     *FakeMailbox
	fetched int
}

func (s *fakeSession) List(ctx context.Context, since *time.Time) ([]mailbox.Envelope, error) {
	if gate := s.box.ListGate; gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	s.box.mu.Lock()
	defer s.box.mu.Unlock()
	s.box.Since = append(s.box.Since, since)
	if s.box.ListErr != nil {
		return nil, s.box.ListErr
	}

	var out []mailbox.Envelope
	for _, m := range s.box.messages {
		if since != nil && m.receivedAt.Before(*since) {
			continue
		}
		env := mailbox.Envelope{UID: m.uid, ReceivedAt: m.receivedAt}
		if parsed, err := mailbox.Parse(m.raw); err == nil {
			env.MessageID = parsed.MessageID
			env.Subject = parsed.Subject
		}
		out = append(out, env)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ReceivedAt.Before(out[j].ReceivedAt)
	})
	return out, nil
}

func (s *fakeSession) FetchRaw(_ context.Context, uid uint32) ([]byte, error) {
	s.box.mu.Lock()
	defer s.box.mu.Unlock()
	if s.box.FailFetchAfter > 0 && s.fetched >= s.box.FailFetchAfter {
		return nil, &mailbox.ConnectionError{Addr: "fake", Err: fmt.Errorf("connection reset")}
	}
	for _, m := range s.box.messages {
		if m.uid == uid {
			s.fetched++
			return m.raw, nil
		}
	}
	return nil, fmt.Errorf("uid %d: %w", uid, model.ErrNotFound)
}

func (s *fakeSession) Close() error { return nil }
