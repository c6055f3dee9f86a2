package targetform

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/crm-mailsync/internal/model"
)

func TestTargetFromBindings(t *testing.T) {
	b := NewBindings()
	b.Address = " sales@example.com "
	b.Secret = "pw"
	b.Host = "imap.example.com"

	target, err := b.Target("u1")
	require.NoError(t, err)
	assert.Equal(t, "u1", target.UserID)
	assert.Equal(t, "sales@example.com", target.Address)
	assert.Equal(t, 993, target.Port)
	assert.Equal(t, model.SecurityTLS, target.Security)
	assert.Equal(t, "INBOX", target.Folder)
	assert.Equal(t, model.DefaultSyncIntervalMin, target.SyncIntervalMin)
	assert.True(t, target.Active)
}

func TestTargetValidation(t *testing.T) {
	tests := []struct {
		name   string
		modify func(b *Bindings)
		errMsg string
	}{
		{"missing address", func(b *Bindings) { b.Address = "" }, "Address is required"},
		{"bad address", func(b *Bindings) { b.Address = "not an address" }, "invalid address"},
		{"missing host", func(b *Bindings) { b.Host = " " }, "Host is required"},
		{"bad port", func(b *Bindings) { b.Port = "99999" }, "port must be"},
		{"bad interval", func(b *Bindings) { b.Interval = "0" }, "interval must be"},
		{"bad security", func(b *Bindings) { b.Security = "ssl" }, "unknown security mode"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBindings()
			b.Address = "sales@example.com"
			b.Host = "imap.example.com"
			tt.modify(b)

			_, err := b.Target("u1")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestFormBuilds(t *testing.T) {
	b := NewBindings()
	assert.NotNil(t, Form(b))
}
