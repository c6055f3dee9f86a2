package mailbox

import "time"

// Envelope identifies a remote message listed by a Session.
type Envelope struct {
	UID       uint32
	MessageID string
	Subject   string

	// ReceivedAt is the server receipt time (IMAP INTERNALDATE).
	ReceivedAt time.Time
}

// ParsedMessage holds the structured fields extracted from a raw message.
type ParsedMessage struct {
	// MessageID is the Message-Id without angle brackets, or a content
	// hash prefixed with "sha256:" when the header is absent.
	MessageID string

	Subject string

	// Body is the text/plain content, or stripped text/html when the
	// message has no plain part.
	Body string

	// Sender is "Name <address>" or the bare address.
	Sender        string
	SenderName    string
	SenderAddress string

	To  []string
	Cc  []string
	Bcc []string

	// Headers maps canonical header names to decoded values in order.
	Headers map[string][]string

	// Date is the Date header; zero when missing or unparseable.
	Date time.Time

	HasAttachments bool
	Attachments    []Attachment
}

// Attachment holds metadata about a message attachment. Content is not
// retained.
type Attachment struct {
	Filename string
	Size     int64
	MIMEType string
}
