package model

import "time"

// IngestedMessage is a business e-mail persisted from a SyncTarget.
type IngestedMessage struct {
	// ID is the internal unique identifier for this message.
	ID string `json:"id"`

	// UserID is the owner inherited from the SyncTarget.
	UserID string `json:"user_id"`

	// TargetID is the SyncTarget the message was fetched from.
	TargetID string `json:"target_id"`

	// ExternalID is the Message-Id (or content hash when absent).
	// Unique per TargetID.
	ExternalID string `json:"external_id"`

	Subject string   `json:"subject"`
	Body    string   `json:"body"`
	Sender  string   `json:"sender"`
	To      []string `json:"to"`
	Cc      []string `json:"cc"`
	Bcc     []string `json:"bcc"`

	// Headers maps canonical header names to their values in order.
	Headers map[string][]string `json:"headers,omitempty"`

	// ReceivedAt is the server receipt time used for the watermark.
	ReceivedAt time.Time `json:"received_at"`

	IsRead         bool `json:"is_read"`
	IsImportant    bool `json:"is_important"`
	HasAttachments bool `json:"has_attachments"`

	// IsProcessed is set once linking and rules have been applied.
	IsProcessed bool `json:"is_processed"`

	// ParsedINN and ParsedProjectNumber are the identifiers the linker
	// extracted, whether or not they resolved.
	ParsedINN           string `json:"parsed_inn,omitempty"`
	ParsedProjectNumber string `json:"parsed_project_number,omitempty"`

	CompanyID *string `json:"company_id,omitempty"`
	ProjectID *string `json:"project_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Processing is the outcome of linking and rule evaluation for a newly
// ingested message.
type Processing struct {
	ParsedINN           string
	ParsedProjectNumber string
	CompanyID           *string
	ProjectID           *string
	Important           bool
}

// MessageFilter controls listing of ingested messages.
type MessageFilter struct {
	UserID   string
	TargetID string
	Unread   bool
	Limit    int
}
