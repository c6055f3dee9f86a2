package mailbox

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sort"
	"strconv"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"go.uber.org/zap"

	"github.com/nhle/crm-mailsync/internal/model"
)

// IMAPFetcher opens sessions with go-imap v2.
type IMAPFetcher struct {
	dialTimeout time.Duration
	tlsConfig   *tls.Config
	logger      *zap.Logger
}

// NewIMAPFetcher creates a fetcher. A nil tlsConfig uses system roots.
func NewIMAPFetcher(dialTimeout time.Duration, tlsConfig *tls.Config, logger *zap.Logger) *IMAPFetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if dialTimeout <= 0 {
		dialTimeout = 30 * time.Second
	}
	return &IMAPFetcher{
		dialTimeout: dialTimeout,
		tlsConfig:   tlsConfig,
		logger:      logger.Named("imap"),
	}
}

var _ Fetcher = (*IMAPFetcher)(nil)

// Open connects according to the target's security mode, logs in and
// selects the target folder. Any failure is a *ConnectionError.
func (f *IMAPFetcher) Open(ctx context.Context, target model.SyncTarget, secret string) (Session, error) {
	addr := net.JoinHostPort(target.Host, strconv.Itoa(target.Port))

	client, err := f.dial(ctx, addr, target)
	if err != nil {
		return nil, &ConnectionError{Addr: addr, Err: err}
	}

	// Commands block on the server; closing the client unblocks them when
	// the caller gives up.
	stop := context.AfterFunc(ctx, func() { _ = client.Close() })

	if err := client.Login(target.Login(), secret).Wait(); err != nil {
		stop()
		_ = client.Close()
		return nil, &ConnectionError{Addr: addr, Auth: true, Err: err}
	}

	if _, err := client.Select(target.Mailbox(), nil).Wait(); err != nil {
		stop()
		_ = client.Logout().Wait()
		return nil, &ConnectionError{Addr: addr, Err: fmt.Errorf("selecting %s: %w", target.Mailbox(), err)}
	}

	f.logger.Debug("session opened",
		zap.String("addr", addr),
		zap.String("folder", target.Mailbox()),
	)
	return &imapSession{client: client, addr: addr, stop: stop}, nil
}

func (f *IMAPFetcher) dial(ctx context.Context, addr string, target model.SyncTarget) (*imapclient.Client, error) {
	dialCtx, cancel := context.WithTimeout(ctx, f.dialTimeout)
	defer cancel()

	tlsConfig := f.tlsConfig.Clone()
	if tlsConfig == nil {
		tlsConfig = &tls.Config{}
	}
	if tlsConfig.ServerName == "" {
		tlsConfig.ServerName = target.Host
	}
	opts := &imapclient.Options{TLSConfig: tlsConfig}

	netDialer := &net.Dialer{Timeout: f.dialTimeout}

	switch target.Security {
	case model.SecurityTLS, "":
		tlsDialer := &tls.Dialer{NetDialer: netDialer, Config: tlsConfig}
		conn, err := tlsDialer.DialContext(dialCtx, "tcp", addr)
		if err != nil {
			return nil, err
		}
		return imapclient.New(conn, opts), nil
	case model.SecurityStartTLS:
		conn, err := netDialer.DialContext(dialCtx, "tcp", addr)
		if err != nil {
			return nil, err
		}
		client, err := imapclient.NewStartTLS(conn, opts)
		if err != nil {
			_ = conn.Close()
			return nil, err
		}
		return client, nil
	case model.SecurityNone:
		conn, err := netDialer.DialContext(dialCtx, "tcp", addr)
		if err != nil {
			return nil, err
		}
		return imapclient.New(conn, opts), nil
	default:
		return nil, fmt.Errorf("unknown security mode %q", target.Security)
	}
}

// imapSession is a logged-in client with the target folder selected.
type imapSession struct {
	client *imapclient.Client
	addr   string
	stop   func() bool
}

// List searches by date and then filters on INTERNALDATE. SINCE compares
// dates in the server's timezone, so the search starts a day early.
func (s *imapSession) List(_ context.Context, since *time.Time) ([]Envelope, error) {
	criteria := &imap.SearchCriteria{}
	if since != nil {
		criteria.Since = since.UTC().AddDate(0, 0, -1)
	}

	searchData, err := s.client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, &ConnectionError{Addr: s.addr, Err: fmt.Errorf("searching messages: %w", err)}
	}

	uids := searchData.AllUIDs()
	if len(uids) == 0 {
		return nil, nil
	}

	fetchCmd := s.client.Fetch(imap.UIDSetNum(uids...), &imap.FetchOptions{
		UID:          true,
		Envelope:     true,
		InternalDate: true,
	})
	defer fetchCmd.Close()

	var envelopes []Envelope
	for {
		msg := fetchCmd.Next()
		if msg == nil {
			break
		}

		buf, err := msg.Collect()
		if err != nil {
			return nil, &ConnectionError{Addr: s.addr, Err: fmt.Errorf("collecting envelope: %w", err)}
		}

		env := envelopeFromBuffer(buf)
		if since != nil && env.ReceivedAt.Before(*since) {
			continue
		}
		envelopes = append(envelopes, env)
	}

	if err := fetchCmd.Close(); err != nil {
		return nil, &ConnectionError{Addr: s.addr, Err: fmt.Errorf("fetching envelopes: %w", err)}
	}

	sort.SliceStable(envelopes, func(i, j int) bool {
		if envelopes[i].ReceivedAt.Equal(envelopes[j].ReceivedAt) {
			return envelopes[i].UID < envelopes[j].UID
		}
		return envelopes[i].ReceivedAt.Before(envelopes[j].ReceivedAt)
	})
	return envelopes, nil
}

// FetchRaw downloads the whole message without setting \Seen.
func (s *imapSession) FetchRaw(_ context.Context, uid uint32) ([]byte, error) {
	bodySection := &imap.FetchItemBodySection{Peek: true}

	fetchCmd := s.client.Fetch(imap.UIDSetNum(imap.UID(uid)), &imap.FetchOptions{
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{bodySection},
	})
	defer fetchCmd.Close()

	msg := fetchCmd.Next()
	if msg == nil {
		if err := fetchCmd.Close(); err != nil {
			return nil, &ConnectionError{Addr: s.addr, Err: fmt.Errorf("fetching UID %d: %w", uid, err)}
		}
		return nil, &ConnectionError{Addr: s.addr, Err: fmt.Errorf("message UID %d not found", uid)}
	}

	buf, err := msg.Collect()
	if err != nil {
		return nil, &ConnectionError{Addr: s.addr, Err: fmt.Errorf("collecting UID %d: %w", uid, err)}
	}

	raw := buf.FindBodySection(bodySection)

	if err := fetchCmd.Close(); err != nil {
		return nil, &ConnectionError{Addr: s.addr, Err: fmt.Errorf("closing fetch: %w", err)}
	}
	return raw, nil
}

func (s *imapSession) Close() error {
	s.stop()
	if err := s.client.Logout().Wait(); err != nil {
		_ = s.client.Close()
		return fmt.Errorf("logging out of %s: %w", s.addr, err)
	}
	return nil
}

// envelopeFromBuffer extracts an Envelope from a FetchMessageBuffer.
func envelopeFromBuffer(buf *imapclient.FetchMessageBuffer) Envelope {
	env := Envelope{
		UID:        uint32(buf.UID),
		ReceivedAt: buf.InternalDate.UTC(),
	}
	if buf.Envelope != nil {
		env.MessageID = buf.Envelope.MessageID
		env.Subject = buf.Envelope.Subject
		if env.ReceivedAt.IsZero() {
			env.ReceivedAt = buf.Envelope.Date.UTC()
		}
	}
	return env
}
