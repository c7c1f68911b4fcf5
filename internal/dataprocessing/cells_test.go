package dataprocessing

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeCell(t *testing.T) {
	assert.Equal(t, "registered ounces", NormalizeCell("  Registered   Ounces "))
	assert.Equal(t, "total", NormalizeCell("TOTAL"))
	assert.Equal(t, "", NormalizeCell("   "))
}

func TestParseNumeric(t *testing.T) {
	tests := []struct {
		name     string
		cell     string
		expected float64
		ok       bool
	}{
		{"plain", "12345", 12345, true},
		{"thousands_separators", "1,234,567.89", 1234567.89, true},
		{"parenthesized_negative", "(1,500)", -1500, true},
		{"internal_spaces", "1 234 567", 1234567, true},
		{"dollar_prefix", "$32.50", 32.50, true},
		{"empty", "", 0, false},
		{"whitespace_only", "   ", 0, false},
		{"text", "Brinks", 0, false},
		{"zero", "0", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseNumeric(tt.cell)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.InDelta(t, tt.expected, got, 1e-9)
			}
		})
	}
}

func TestContainsAny(t *testing.T) {
	keywords := []string{"registered", "eligible"}
	assert.True(t, ContainsAny("Registered Ounces", keywords))
	assert.True(t, ContainsAny("  ELIGIBLE ", keywords))
	assert.False(t, ContainsAny("Warehouse", keywords))
}

func TestCountKeywordHits(t *testing.T) {
	cells := []string{"Silver Stocks Report", "Registered", "Eligible", "Total"}
	assert.Equal(t, 4, CountKeywordHits(cells, []string{"silver", "stock", "registered", "eligible"}))
	assert.Equal(t, 0, CountKeywordHits([]string{"gold", "bars"}, []string{"silver", "registered"}))
}
