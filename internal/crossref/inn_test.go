package crossref

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidINN(t *testing.T) {
	tests := []struct {
		inn  string
		want bool
	}{
		{"7707083893", true},
		{"7736207543", true},
		{"500100732259", true},
		{"7707083890", false},
		{"500100732250", false},
		{"500100732209", false},
		{"77070838931", false},
		{"770708389", false},
		{"77070838a3", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.inn, func(t *testing.T) {
			assert.Equal(t, tt.want, ValidINN(tt.inn))
		})
	}
}

func TestExtractINNs(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{"single", "ИНН 7707083893, КПП 773601001", []string{"7707083893"}},
		{"invalid checksum ignored", "ИНН 7707083890", nil},
		{"twelve digits", "ИП, ИНН 500100732259", []string{"500100732259"}},
		{"dedupe keeps first order", "7736207543 and 7707083893 and 7736207543", []string{"7736207543", "7707083893"}},
		{"longer digit run is not a candidate", "account 40702810770708389312", nil},
		{"no digits", "hello", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractINNs(tt.text))
		})
	}
}

func TestFirstINNPrefersSubject(t *testing.T) {
	assert.Equal(t, "7736207543", FirstINN("Invoice 7736207543", "Customer INN 7707083893"))
	assert.Equal(t, "7707083893", FirstINN("Invoice 7707083890", "Customer INN 7707083893"))
	assert.Empty(t, FirstINN("", ""))
}
