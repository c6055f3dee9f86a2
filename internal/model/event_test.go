package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWireFlattensPayload(t *testing.T) {
	e := NewEmailReceived(IngestedMessage{ID: "m1", UserID: "u1", Subject: "Hi", Sender: "bob@example.com"})
	e.CreatedAt = time.Date(2024, 3, 1, 9, 0, 0, 0, time.FixedZone("MSK", 3*3600))

	wire := e.Wire()
	assert.Equal(t, "email_received", wire["type"])
	assert.Equal(t, "2024-03-01T06:00:00Z", wire["timestamp"])
	assert.Equal(t, "m1", wire["email_id"])
	assert.Equal(t, "Hi", wire["subject"])
	assert.NotContains(t, wire, "user_id")

	// Wire must not alias the payload.
	wire["subject"] = "changed"
	assert.Equal(t, "Hi", e.Payload["subject"])
}

func TestConstructorsAddressOwner(t *testing.T) {
	events := []Event{
		NewConnectionEstablished("u1", "Ann", 90*time.Second),
		NewMarkedRead("u1", "m1"),
		NewToggledImportant("u1", "m1", true),
		NewProjectCreated(Project{ID: "p1", UserID: "u1", Title: "T"}),
		NewContactCreated(Contact{ID: "c1", UserID: "u1", Name: "Bob"}),
		NewSystemNotification("u1", LevelError, "Sync failed", "boom"),
	}
	for _, e := range events {
		assert.Equal(t, "u1", e.UserID, e.Type)
		assert.False(t, e.CreatedAt.IsZero())
	}

	assert.Equal(t, "Connected as Ann", events[0].Payload["message"])
	assert.EqualValues(t, 90000, events[0].Payload["retry_ms"])
	assert.Equal(t, ActionToggledImportant, events[2].Payload["action"])
	assert.Equal(t, "error", events[5].Payload["level"])
}

func TestLevelValid(t *testing.T) {
	assert.True(t, LevelInfo.Valid())
	assert.True(t, LevelSuccess.Valid())
	assert.True(t, LevelError.Valid())
	assert.False(t, Level("warn").Valid())
}
