package mailbox

import (
	"testing"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/stretchr/testify/assert"
)

func TestEnvelopeFromBuffer(t *testing.T) {
	received := time.Date(2026, 3, 3, 10, 0, 0, 0, time.FixedZone("MSK", 3*3600))
	sent := time.Date(2026, 3, 3, 9, 0, 0, 0, time.UTC)

	env := envelopeFromBuffer(&imapclient.FetchMessageBuffer{
		UID:          42,
		InternalDate: received,
		Envelope: &imap.Envelope{
			Date:      sent,
			Subject:   "Invoice",
			MessageID: "m1@example.com",
		},
	})

	assert.EqualValues(t, 42, env.UID)
	assert.Equal(t, "Invoice", env.Subject)
	assert.Equal(t, "m1@example.com", env.MessageID)
	assert.True(t, env.ReceivedAt.Equal(received))
	assert.Equal(t, time.UTC, env.ReceivedAt.Location())
}

func TestEnvelopeFromBufferFallsBackToDateHeader(t *testing.T) {
	sent := time.Date(2026, 3, 3, 9, 0, 0, 0, time.UTC)

	env := envelopeFromBuffer(&imapclient.FetchMessageBuffer{
		UID:      7,
		Envelope: &imap.Envelope{Date: sent},
	})

	assert.True(t, env.ReceivedAt.Equal(sent))
}
