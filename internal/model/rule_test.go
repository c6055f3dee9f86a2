package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRuleMatches(t *testing.T) {
	tests := []struct {
		name   string
		rule   ProcessingRule
		expect bool
	}{
		{"empty matches all", ProcessingRule{}, true},
		{"sender case-insensitive", ProcessingRule{SenderContains: "@ACME.ru"}, true},
		{"subject miss", ProcessingRule{SubjectContains: "urgent"}, false},
		{"all conditions", ProcessingRule{SenderContains: "acme", SubjectContains: "invoice", BodyContains: "7707083893"}, true},
		{"one condition fails", ProcessingRule{SenderContains: "acme", BodyContains: "missing"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.rule.Matches("Bob <bob@acme.ru>", "Invoice for March", "INN 7707083893")
			assert.Equal(t, tt.expect, got)
		})
	}
}
