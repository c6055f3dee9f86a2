package mailbox

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConnectionErrorClassification(t *testing.T) {
	dial := &ConnectionError{Addr: "imap.example.com:993", Err: errors.New("refused")}
	auth := &ConnectionError{Addr: "imap.example.com:993", Auth: true, Err: errors.New("bad password")}

	wrapped := fmt.Errorf("opening session: %w", auth)

	assert.True(t, IsConnectionError(dial))
	assert.False(t, IsAuthError(dial))
	assert.True(t, IsConnectionError(wrapped))
	assert.True(t, IsAuthError(wrapped))
	assert.Contains(t, auth.Error(), "authentication failed")
	assert.Contains(t, dial.Error(), "connecting to imap.example.com:993")

	assert.False(t, IsConnectionError(errors.New("other")))
	assert.True(t, IsParseError(fmt.Errorf("x: %w", &ParseError{Err: errors.New("bad")})))
}
