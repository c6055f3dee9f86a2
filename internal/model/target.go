package model

import "time"

// SecurityMode selects how the mail connection is secured.
type SecurityMode string

const (
	SecurityNone     SecurityMode = "none"
	SecurityTLS      SecurityMode = "tls"
	SecurityStartTLS SecurityMode = "starttls"
)

// Valid reports whether m is one of the known security modes.
func (m SecurityMode) Valid() bool {
	switch m {
	case SecurityNone, SecurityTLS, SecurityStartTLS:
		return true
	}
	return false
}

// DefaultSyncIntervalMin is used when a target does not set its own interval.
const DefaultSyncIntervalMin = 15

// SyncTarget is one external mailbox configured for synchronization.
type SyncTarget struct {
	// ID is the unique identifier for this target.
	ID string `json:"id"`

	// UserID is the owner of the mailbox; all events go to this user.
	UserID string `json:"user_id"`

	// Address is the mailbox e-mail address.
	Address string `json:"address"`

	// Username is the login identity. Empty means Address.
	Username string `json:"username"`

	// Host and Port locate the mail server.
	Host string `json:"host"`
	Port int    `json:"port"`

	// Security is the transport security mode.
	Security SecurityMode `json:"security"`

	// Folder is the mailbox folder to read. Empty means INBOX.
	Folder string `json:"folder"`

	// SyncIntervalMin is how often the scheduler syncs this target.
	SyncIntervalMin int `json:"sync_interval_min"`

	// Active disables scheduling and manual sync when false.
	Active bool `json:"active"`

	// LastSyncAt is the watermark: the receipt time of the newest message
	// ingested by the last successful run. Nil before the first success.
	LastSyncAt *time.Time `json:"last_sync_at,omitempty"`

	// LastError holds the description of the last failed run.
	LastError string `json:"last_error,omitempty"`

	// TotalProcessed counts messages ingested over the target's lifetime.
	TotalProcessed int `json:"total_processed"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Login returns the identity used to authenticate.
func (t SyncTarget) Login() string {
	if t.Username != "" {
		return t.Username
	}
	return t.Address
}

// Mailbox returns the folder to select.
func (t SyncTarget) Mailbox() string {
	if t.Folder != "" {
		return t.Folder
	}
	return "INBOX"
}

// Interval returns the scheduling interval.
func (t SyncTarget) Interval() time.Duration {
	if t.SyncIntervalMin <= 0 {
		return DefaultSyncIntervalMin * time.Minute
	}
	return time.Duration(t.SyncIntervalMin) * time.Minute
}
