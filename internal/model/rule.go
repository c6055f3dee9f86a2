package model

import (
	"strings"
	"time"
)

// ProcessingRule is a user-defined rule applied to newly ingested messages.
// Empty conditions match anything; all non-empty conditions must match.
type ProcessingRule struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`
	Name   string `json:"name"`

	SenderContains  string `json:"sender_contains,omitempty"`
	SubjectContains string `json:"subject_contains,omitempty"`
	BodyContains    string `json:"body_contains,omitempty"`

	AutoCreateProject bool `json:"auto_create_project"`
	AutoCreateContact bool `json:"auto_create_contact"`
	MarkImportant     bool `json:"mark_as_important"`

	// Priority orders evaluation, lowest first.
	Priority  int       `json:"priority"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// Matches reports whether the rule applies to a message with the given
// sender, subject and body. Comparison is case-insensitive.
func (r ProcessingRule) Matches(sender, subject, body string) bool {
	return containsFold(sender, r.SenderContains) &&
		containsFold(subject, r.SubjectContains) &&
		containsFold(body, r.BodyContains)
}

func containsFold(s, substr string) bool {
	if substr == "" {
		return true
	}
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
