package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	gosse "github.com/tmaxmax/go-sse"

	"github.com/nhle/crm-mailsync/internal/model"
)

// maxEventSize bounds a single encoded event on the client side.
const maxEventSize = 1 << 20

// Message is one event read from a stream.
type Message struct {
	Event string
	Data  string

	// ID is the last event id the server sent, if any.
	ID string

	// Retry is the reconnection delay the server advertised in its
	// handshake, if any.
	Retry time.Duration
}

// Decode unmarshals the message data into v.
func (m Message) Decode(v any) error {
	return json.Unmarshal([]byte(m.Data), v)
}

type readResult struct {
	event gosse.Event
	err   error
}

// Stream reads events from an open connection.
type Stream struct {
	body    io.Closer
	results chan readResult
	done    chan struct{}
	once    sync.Once
}

// Dial opens an event stream at url authenticated with token.
func Dial(ctx context.Context, client *http.Client, url, token string) (*Stream, error) {
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", url, err)
	}
	if err := gosse.DefaultValidator(resp); err != nil {
		resp.Body.Close()
		return nil, fmt.Errorf("connecting to %s: %w", url, err)
	}

	s := &Stream{
		body:    resp.Body,
		results: make(chan readResult),
		done:    make(chan struct{}),
	}
	go s.read(resp.Body)
	return s, nil
}

// read parses the body until it ends or the stream is closed. Comments,
// including heartbeats, never surface as events.
func (s *Stream) read(body io.Reader) {
	defer close(s.results)
	for event, err := range gosse.Read(body, &gosse.ReadConfig{MaxEventSize: maxEventSize}) {
		select {
		case s.results <- readResult{event: event, err: err}:
		case <-s.done:
			return
		}
		if err != nil {
			return
		}
	}
}

// Next blocks until a complete event arrives. It returns io.EOF when the
// server closes the stream or the stream was closed locally.
func (s *Stream) Next() (Message, error) {
	res, ok := <-s.results
	if !ok {
		return Message{}, io.EOF
	}
	if res.err != nil {
		select {
		case <-s.done:
			return Message{}, io.EOF
		default:
			return Message{}, res.err
		}
	}

	msg := Message{
		Event: res.event.Type,
		Data:  res.event.Data,
		ID:    res.event.LastEventID,
	}
	if msg.Event == string(model.EventConnectionEstablished) {
		var hello struct {
			RetryMS int64 `json:"retry_ms"`
		}
		if err := msg.Decode(&hello); err == nil && hello.RetryMS > 0 {
			msg.Retry = time.Duration(hello.RetryMS) * time.Millisecond
		}
	}
	return msg, nil
}

// Close releases the connection. A blocked Next returns io.EOF.
func (s *Stream) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.body.Close()
	})
	return err
}
