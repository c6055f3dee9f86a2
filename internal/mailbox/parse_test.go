package mailbox

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func crlf(s string) []byte {
	return []byte(strings.ReplaceAll(s, "\n", "\r\n"))
}

const plainMessage = `From: "Ivan Petrov" <ivan@supplier.ru>
To: sales@example.com, Bob <bob@example.com>
Cc: boss@example.com
Subject: =?UTF-8?B?0KHRh9C10YIg4oSWIDE=?=
Date: Tue, 03 Mar 2026 10:15:00 +0300
Message-Id: <abc123@supplier.ru>
Content-Type: text/plain; charset=utf-8

Please find the invoice. INN 7707083893.
`

func TestParsePlainMessage(t *testing.T) {
	msg, err := Parse(crlf(plainMessage))
	require.NoError(t, err)

	assert.Equal(t, "abc123@supplier.ru", msg.MessageID)
	assert.Equal(t, "Счет № 1", msg.Subject)
	assert.Equal(t, "Ivan Petrov <ivan@supplier.ru>", msg.Sender)
	assert.Equal(t, "Ivan Petrov", msg.SenderName)
	assert.Equal(t, "ivan@supplier.ru", msg.SenderAddress)
	assert.Equal(t, []string{"sales@example.com", "bob@example.com"}, msg.To)
	assert.Equal(t, []string{"boss@example.com"}, msg.Cc)
	assert.Empty(t, msg.Bcc)
	assert.Equal(t, "Please find the invoice. INN 7707083893.", msg.Body)
	assert.False(t, msg.HasAttachments)
	assert.True(t, msg.Date.Equal(time.Date(2026, 3, 3, 7, 15, 0, 0, time.UTC)))
	assert.Equal(t, []string{"Счет № 1"}, msg.Headers["Subject"])
	assert.Equal(t, []string{"<abc123@supplier.ru>"}, msg.Headers["Message-Id"])
}

func TestParseIsDeterministic(t *testing.T) {
	raw := crlf(plainMessage)
	a, err := Parse(raw)
	require.NoError(t, err)
	b, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

const multipartMessage = `From: billing@vendor.com
To: me@example.com
Subject: Report
Content-Type: multipart/mixed; boundary="outer"

--outer
Content-Type: multipart/alternative; boundary="inner"

--inner
Content-Type: text/html; charset=utf-8

<html><head><style>p{color:red}</style></head><body><p>Hello&nbsp;there</p><p>Project PR-042 &amp; more</p></body></html>
--inner--
--outer
Content-Type: application/pdf
Content-Disposition: attachment; filename="report.pdf"
Content-Transfer-Encoding: base64

JVBERi0xLjQK
--outer--
`

func TestParseFallsBackToHTMLAndCountsAttachments(t *testing.T) {
	msg, err := Parse(crlf(multipartMessage))
	require.NoError(t, err)

	assert.Equal(t, "Hello there\nProject PR-042 & more", msg.Body)
	assert.True(t, msg.HasAttachments)
	require.Len(t, msg.Attachments, 1)
	assert.Equal(t, "report.pdf", msg.Attachments[0].Filename)
	assert.Equal(t, "application/pdf", msg.Attachments[0].MIMEType)
	assert.EqualValues(t, 9, msg.Attachments[0].Size)
	assert.Equal(t, "billing@vendor.com", msg.Sender)
}

func TestParseWithoutMessageIDUsesContentHash(t *testing.T) {
	raw := crlf("From: a@b.c\nSubject: hi\n\nbody\n")

	first, err := Parse(raw)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(first.MessageID, "sha256:"))

	second, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, first.MessageID, second.MessageID)

	other, err := Parse(crlf("From: a@b.c\nSubject: hi\n\nanother body\n"))
	require.NoError(t, err)
	assert.NotEqual(t, first.MessageID, other.MessageID)
}

func TestParseRejectsMalformedInput(t *testing.T) {
	tests := []struct {
		name string
		raw  []byte
	}{
		{name: "empty", raw: nil},
		{name: "blank", raw: []byte("  \r\n ")},
		{name: "header without colon", raw: crlf("this is not a header\n\nbody\n")},
		{name: "leading continuation", raw: crlf(" folded: first\nSubject: x\n\nbody\n")},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse(tc.raw)
			require.Error(t, err)
			assert.True(t, IsParseError(err))
		})
	}
}

func TestStripHTML(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"plain", "plain"},
		{"a<br>b<br/>c", "a\nb\nc"},
		{"<div>x</div><div>y</div>", "x\ny"},
		{"<script>alert(1)</script>ok", "ok"},
		{"&lt;tag&gt; &quot;q&quot; &#39;s&#39;", `<tag> "q" 's'`},
		{"<p>a</p><p></p><p></p><p></p><p>b</p>", "a\n\nb"},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, stripHTML(tc.in), tc.in)
	}
}
