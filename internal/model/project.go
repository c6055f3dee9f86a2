package model

import "time"

// Company is a CRM company the linker resolves registry identifiers against.
type Company struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`
	Name   string `json:"name"`

	// INN is the national business-registry identifier (10 or 12 digits).
	INN    string `json:"inn"`
	Active bool   `json:"active"`
}

// Project is a CRM project. Projects are read for linking and created
// from messages by rule actions.
type Project struct {
	ID            string  `json:"id"`
	UserID        string  `json:"user_id"`
	Title         string  `json:"title"`
	ProjectNumber string  `json:"project_number,omitempty"`
	CompanyID     *string `json:"company_id,omitempty"`

	// SourceMessageID is the IngestedMessage the project was created from.
	SourceMessageID *string `json:"source_message_id,omitempty"`

	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// Contact is a CRM contact created from a message sender.
type Contact struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}
