package mailbox

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/textproto"
	"strings"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
)

// Parse converts raw RFC 5322 bytes into a ParsedMessage. It depends only
// on its input. Malformed input yields a *ParseError.
func Parse(raw []byte) (*ParsedMessage, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, &ParseError{Err: errors.New("empty message")}
	}

	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, &ParseError{Err: err}
	}
	defer mr.Close()

	h := mr.Header
	if h.Len() == 0 {
		return nil, &ParseError{Err: errors.New("message has no header")}
	}

	parsed := &ParsedMessage{
		Subject: headerText(h, "Subject"),
		Headers: headerMap(h),
	}

	if id, err := h.MessageID(); err == nil && id != "" {
		parsed.MessageID = id
	} else {
		sum := sha256.Sum256(raw)
		parsed.MessageID = "sha256:" + hex.EncodeToString(sum[:])
	}

	if date, err := h.Date(); err == nil {
		parsed.Date = date.UTC()
	}

	if from := addressList(h, "From"); len(from) > 0 {
		parsed.SenderName = from[0].Name
		parsed.SenderAddress = from[0].Address
		parsed.Sender = formatAddress(from[0])
	} else {
		parsed.Sender = headerText(h, "From")
	}

	parsed.To = addresses(h, "To")
	parsed.Cc = addresses(h, "Cc")
	parsed.Bcc = addresses(h, "Bcc")

	textBody, htmlBody, attachments, err := readParts(mr)
	if err != nil {
		return nil, &ParseError{Err: err}
	}

	parsed.Body = strings.TrimSpace(textBody)
	if parsed.Body == "" && htmlBody != "" {
		parsed.Body = stripHTML(htmlBody)
	}
	parsed.Attachments = attachments
	parsed.HasAttachments = len(attachments) > 0

	return parsed, nil
}

// readParts walks the MIME tree and collects the first text/plain and
// text/html bodies plus attachment metadata.
func readParts(mr *mail.Reader) (textBody, htmlBody string, attachments []Attachment, err error) {
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil && !message.IsUnknownCharset(err) {
			return "", "", nil, fmt.Errorf("reading part: %w", err)
		}

		switch h := part.Header.(type) {
		case *mail.InlineHeader:
			contentType, _, _ := h.ContentType()
			body, readErr := io.ReadAll(part.Body)
			if readErr != nil {
				return "", "", nil, fmt.Errorf("reading %s part: %w", contentType, readErr)
			}

			switch {
			case strings.HasPrefix(contentType, "text/plain") && textBody == "":
				textBody = string(body)
			case strings.HasPrefix(contentType, "text/html") && htmlBody == "":
				htmlBody = string(body)
			}

		case *mail.AttachmentHeader:
			filename, _ := h.Filename()
			contentType, _, _ := h.ContentType()

			// Count bytes without keeping the content.
			size, readErr := io.Copy(io.Discard, part.Body)
			if readErr != nil {
				return "", "", nil, fmt.Errorf("reading attachment %q: %w", filename, readErr)
			}

			attachments = append(attachments, Attachment{
				Filename: filename,
				Size:     size,
				MIMEType: contentType,
			})
		}
	}

	return textBody, htmlBody, attachments, nil
}

// headerText returns the charset-decoded value of key, falling back to
// the raw value when decoding fails.
func headerText(h mail.Header, key string) string {
	v, err := h.Text(key)
	if err != nil {
		return strings.TrimSpace(h.Get(key))
	}
	return strings.TrimSpace(v)
}

func headerMap(h mail.Header) map[string][]string {
	out := make(map[string][]string, h.Len())
	fields := h.Fields()
	for fields.Next() {
		key := textproto.CanonicalMIMEHeaderKey(fields.Key())
		value, err := fields.Text()
		if err != nil {
			value = fields.Value()
		}
		out[key] = append(out[key], value)
	}
	return out
}

func addressList(h mail.Header, key string) []*mail.Address {
	list, err := h.AddressList(key)
	if err != nil {
		return nil
	}
	return list
}

// addresses returns the bare addresses under key. Unparseable lists fall
// back to comma splitting of the decoded header.
func addresses(h mail.Header, key string) []string {
	list, err := h.AddressList(key)
	if err == nil {
		out := make([]string, 0, len(list))
		for _, a := range list {
			out = append(out, a.Address)
		}
		return out
	}

	var out []string
	for _, p := range strings.Split(headerText(h, key), ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func formatAddress(a *mail.Address) string {
	if a.Name == "" {
		return a.Address
	}
	return fmt.Sprintf("%s <%s>", a.Name, a.Address)
}
