package crossref

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractProjectNumbers(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{"short code", "Invoice for PR-001", []string{"PR-001"}},
		{"year prefixed", "Budget 2024-PR-01 approved", []string{"2024-PR-01"}},
		{"english keyword", "re: project № x-12", []string{"X-12"}},
		{"russian keyword", "проект № 17, срочно", []string{"17"}},
		{"russian number phrase", "номер проекта: 42", []string{"42"}},
		{"hash sign", "Project #A-7 kickoff", []string{"A-7"}},
		{"order of occurrence", "PR-002 then PR-001 then PR-002", []string{"PR-002", "PR-001"}},
		{"token without digit ignored", "Project Apollo status", nil},
		{"nothing", "Hello there", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractProjectNumbers(tt.text))
		})
	}
}

func TestFirstProjectNumberPrefersSubject(t *testing.T) {
	assert.Equal(t, "PR-002", FirstProjectNumber("Re: PR-002", "see also PR-001"))
	assert.Equal(t, "PR-001", FirstProjectNumber("Hello", "see PR-001"))
	assert.Empty(t, FirstProjectNumber("Hello", "world"))
}
