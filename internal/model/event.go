package model

import (
	"fmt"
	"time"
)

// EventType discriminates realtime messages.
type EventType string

const (
	EventConnectionEstablished EventType = "connection_established"
	EventEmailReceived         EventType = "email_received"
	EventEmailUpdated          EventType = "email_updated"
	EventProjectCreated        EventType = "project_created"
	EventContactCreated        EventType = "contact_created"
	EventSystemNotification    EventType = "system_notification"
)

// Actions carried by email_updated events.
const (
	ActionMarkedRead       = "marked_read"
	ActionToggledImportant = "toggled_important"
)

// Level is the severity of a system notification.
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelError   Level = "error"
)

// Valid reports whether l is a known level.
func (l Level) Valid() bool {
	return l == LevelInfo || l == LevelSuccess || l == LevelError
}

// Event is an immutable domain event addressed to one user. Payload holds
// the type-specific fields and must not be modified after construction.
type Event struct {
	Type      EventType      `json:"type"`
	UserID    string         `json:"user_id"`
	Payload   map[string]any `json:"payload"`
	CreatedAt time.Time      `json:"created_at"`
}

// Wire returns the flat message delivered to clients: the payload fields
// plus the type discriminator and an RFC 3339 timestamp.
func (e Event) Wire() map[string]any {
	out := make(map[string]any, len(e.Payload)+2)
	for k, v := range e.Payload {
		out[k] = v
	}
	out["type"] = string(e.Type)
	out["timestamp"] = e.CreatedAt.UTC().Format(time.RFC3339Nano)
	return out
}

func newEvent(t EventType, userID string, payload map[string]any) Event {
	return Event{
		Type:      t,
		UserID:    userID,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
}

// NewConnectionEstablished builds the handshake acknowledgment. retry is
// the reconnection delay clients should wait after an abnormal close.
func NewConnectionEstablished(userID, name string, retry time.Duration) Event {
	return newEvent(EventConnectionEstablished, userID, map[string]any{
		"message":  fmt.Sprintf("Connected as %s", name),
		"retry_ms": retry.Milliseconds(),
	})
}

// NewEmailReceived announces a newly persisted message.
func NewEmailReceived(m IngestedMessage) Event {
	return newEvent(EventEmailReceived, m.UserID, map[string]any{
		"email_id": m.ID,
		"subject":  m.Subject,
		"sender":   m.Sender,
	})
}

// NewMarkedRead announces that a message was marked read.
func NewMarkedRead(userID, messageID string) Event {
	return newEvent(EventEmailUpdated, userID, map[string]any{
		"email_id": messageID,
		"action":   ActionMarkedRead,
	})
}

// NewToggledImportant announces a change of the important flag.
func NewToggledImportant(userID, messageID string, important bool) Event {
	return newEvent(EventEmailUpdated, userID, map[string]any{
		"email_id":     messageID,
		"action":       ActionToggledImportant,
		"is_important": important,
	})
}

// NewProjectCreated announces a new project.
func NewProjectCreated(p Project) Event {
	return newEvent(EventProjectCreated, p.UserID, map[string]any{
		"project_id": p.ID,
		"title":      p.Title,
	})
}

// NewContactCreated announces a new contact.
func NewContactCreated(c Contact) Event {
	return newEvent(EventContactCreated, c.UserID, map[string]any{
		"contact_id": c.ID,
		"name":       c.Name,
		"email":      c.Email,
	})
}

// NewSystemNotification builds an operator or status notice.
func NewSystemNotification(userID string, level Level, title, message string) Event {
	return newEvent(EventSystemNotification, userID, map[string]any{
		"level":   string(level),
		"title":   title,
		"message": message,
	})
}
