package feed

import (
	"fmt"
	"time"

	"github.com/nhle/crm-mailsync/internal/gateway"
	"github.com/nhle/crm-mailsync/internal/model"
)

// Entry is one rendered feed row.
type Entry struct {
	Type      model.EventType
	Title     string
	Detail    string
	Level     model.Level
	EmailID   string
	Action    string
	Timestamp time.Time
}

// Decode turns a stream message into an Entry. The event name on the wire
// takes precedence over the type field of the payload.
func Decode(msg gateway.Message) (Entry, error) {
	var data map[string]any
	if err := msg.Decode(&data); err != nil {
		return Entry{}, fmt.Errorf("decoding %s event: %w", msg.Event, err)
	}

	typ := msg.Event
	if typ == "" {
		typ = str(data, "type")
	}

	e := Entry{
		Type:    model.EventType(typ),
		EmailID: str(data, "email_id"),
		Action:  str(data, "action"),
	}
	if ts, err := time.Parse(time.RFC3339Nano, str(data, "timestamp")); err == nil {
		e.Timestamp = ts
	}

	switch e.Type {
	case model.EventConnectionEstablished:
		e.Title = str(data, "message")
	case model.EventEmailReceived:
		e.Title = str(data, "subject")
		e.Detail = "from " + str(data, "sender")
	case model.EventEmailUpdated:
		switch e.Action {
		case model.ActionMarkedRead:
			e.Title = "Marked read"
		case model.ActionToggledImportant:
			if important, _ := data["is_important"].(bool); important {
				e.Title = "Marked important"
			} else {
				e.Title = "Unmarked important"
			}
		default:
			e.Title = e.Action
		}
		e.Detail = e.EmailID
	case model.EventProjectCreated:
		e.Title = str(data, "title")
	case model.EventContactCreated:
		e.Title = str(data, "name")
		e.Detail = str(data, "email")
	case model.EventSystemNotification:
		e.Title = str(data, "title")
		e.Detail = str(data, "message")
		e.Level = model.Level(str(data, "level"))
	default:
		e.Title = typ
	}

	if e.Title == "" {
		e.Title = "(no subject)"
	}
	return e, nil
}

func str(data map[string]any, key string) string {
	s, _ := data[key].(string)
	return s
}

// Label is the short name shown in the type column.
func (e Entry) Label() string {
	switch e.Type {
	case model.EventConnectionEstablished:
		return "connected"
	case model.EventEmailReceived:
		return "email"
	case model.EventEmailUpdated:
		return "update"
	case model.EventProjectCreated:
		return "project"
	case model.EventContactCreated:
		return "contact"
	case model.EventSystemNotification:
		return "notice"
	}
	return string(e.Type)
}
