package gateway

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rawServer(t *testing.T, contentType, body string, hold <-chan struct{}) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", contentType)
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, body)
		w.(http.Flusher).Flush()
		if hold != nil {
			select {
			case <-hold:
			case <-r.Context().Done():
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestStreamParsesFraming(t *testing.T) {
	body := ": ping\n\n" +
		"event: connection_established\r\n" +
		"retry: 5000\r\n" +
		"data: {\"message\":\"Connected as Ann\",\"retry_ms\":5000}\r\n\r\n" +
		"id: 7\n" +
		"event: system_notification\n" +
		"data: line one\n" +
		"data: line two\n\n" +
		": ping\n\n" +
		"data: unnamed\n\n"
	srv := rawServer(t, "text/event-stream; charset=utf-8", body, nil)

	stream, err := Dial(context.Background(), srv.Client(), srv.URL, "")
	require.NoError(t, err)
	defer stream.Close()

	hello, err := stream.Next()
	require.NoError(t, err)
	assert.Equal(t, "connection_established", hello.Event)
	assert.Equal(t, 5*time.Second, hello.Retry)

	note, err := stream.Next()
	require.NoError(t, err)
	assert.Equal(t, "system_notification", note.Event)
	assert.Equal(t, "line one\nline two", note.Data)
	assert.Equal(t, "7", note.ID)
	assert.Zero(t, note.Retry)

	plain, err := stream.Next()
	require.NoError(t, err)
	assert.Empty(t, plain.Event)
	assert.Equal(t, "unnamed", plain.Data)

	_, err = stream.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestDialRejectsNonEventStream(t *testing.T) {
	srv := rawServer(t, "application/json", `{"success":true}`, nil)

	_, err := Dial(context.Background(), srv.Client(), srv.URL, "")
	assert.ErrorContains(t, err, "text/event-stream")
}

func TestCloseUnblocksNext(t *testing.T) {
	hold := make(chan struct{})
	defer close(hold)
	srv := rawServer(t, "text/event-stream", ": ping\n\n", hold)

	stream, err := Dial(context.Background(), srv.Client(), srv.URL, "")
	require.NoError(t, err)

	errs := make(chan error, 1)
	go func() {
		_, err := stream.Next()
		errs <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, stream.Close())

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, io.EOF)
	case <-time.After(3 * time.Second):
		t.Fatal("Next did not return after Close")
	}
	assert.NoError(t, stream.Close())
}
