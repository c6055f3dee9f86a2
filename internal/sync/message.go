package sync

import (
	"strings"
	"time"

	"github.com/nhle/crm-mailsync/internal/mailbox"
	"github.com/nhle/crm-mailsync/internal/model"
)

// newMessage builds the row persisted for a parsed message. The receipt
// time comes from the server and falls back to the Date header.
func newMessage(target *model.SyncTarget, env mailbox.Envelope, p *mailbox.ParsedMessage) *model.IngestedMessage {
	received := env.ReceivedAt
	if received.IsZero() {
		received = p.Date
	}
	if received.IsZero() {
		received = time.Now()
	}

	return &model.IngestedMessage{
		UserID:         target.UserID,
		TargetID:       target.ID,
		ExternalID:     p.MessageID,
		Subject:        p.Subject,
		Body:           p.Body,
		Sender:         p.Sender,
		To:             p.To,
		Cc:             p.Cc,
		Bcc:            p.Bcc,
		Headers:        p.Headers,
		ReceivedAt:     received.UTC(),
		HasAttachments: p.HasAttachments,
	}
}

// contactFromMessage derives a contact from the message sender, or nil
// when the sender has no address.
func contactFromMessage(m *model.IngestedMessage) *model.Contact {
	name, addr := splitSender(m.Sender)
	if addr == "" {
		return nil
	}
	if name == "" {
		name, _, _ = strings.Cut(addr, "@")
	}
	return &model.Contact{
		UserID: m.UserID,
		Name:   name,
		Email:  addr,
	}
}

// splitSender splits "Name <addr>" into its parts. A bare address yields
// an empty name.
func splitSender(sender string) (name, addr string) {
	sender = strings.TrimSpace(sender)
	open := strings.LastIndex(sender, "<")
	if open >= 0 && strings.HasSuffix(sender, ">") {
		name = strings.Trim(strings.TrimSpace(sender[:open]), `"`)
		return name, strings.TrimSpace(sender[open+1 : len(sender)-1])
	}
	if strings.Contains(sender, "@") {
		return "", sender
	}
	return sender, ""
}
