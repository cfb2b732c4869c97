package normalizers

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeDOI(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "bare doi",
			input:    "10.1234/abcd.5678",
			expected: "10.1234/abcd.5678",
		},
		{
			name:     "resolver url",
			input:    "https://doi.org/10.1234/ABCD.5678",
			expected: "10.1234/abcd.5678",
		},
		{
			name:     "dx resolver url",
			input:    "http://dx.doi.org/10.1234/abcd.5678",
			expected: "10.1234/abcd.5678",
		},
		{
			name:     "doi scheme",
			input:    "doi:10.1234/abcd.5678",
			expected: "10.1234/abcd.5678",
		},
		{
			name:     "whitespace",
			input:    "  10.1234/abcd.5678 ",
			expected: "10.1234/abcd.5678",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeDOI(tt.input))
		})
	}
}

func TestNormalizeROR(t *testing.T) {
	assert.Equal(t, "02y3ad647", NormalizeROR("https://ror.org/02y3ad647"))
	assert.Equal(t, "02y3ad647", NormalizeROR("ror.org/02Y3AD647"))
	assert.Equal(t, "02y3ad647", NormalizeROR("02y3ad647"))
}

func TestNormalizeORCID(t *testing.T) {
	assert.Equal(t, "0000-0002-1825-009X", NormalizeORCID("https://orcid.org/0000-0002-1825-009x"))
	assert.Equal(t, "0000-0002-1825-009X", NormalizeORCID("0000-0002-1825-009x"))
}

func TestNormalizeISSN(t *testing.T) {
	assert.Equal(t, "1234-567X", NormalizeISSN("1234567x"))
	assert.Equal(t, "1234-567X", NormalizeISSN("1234-567X"))
	assert.Equal(t, "12345", NormalizeISSN("12345"))
}

func TestNormalizePMCID(t *testing.T) {
	assert.Equal(t, "PMC1234567", NormalizePMCID("pmc1234567"))
	assert.Equal(t, "PMC1234567", NormalizePMCID("PMC1234567"))
	assert.Equal(t, "PMC1234567", NormalizePMCID("1234567"))
}

func TestNormalizeWikidata(t *testing.T) {
	assert.Equal(t, "Q42", NormalizeWikidata("https://www.wikidata.org/wiki/Q42"))
	assert.Equal(t, "Q42", NormalizeWikidata("q42"))
}

func TestApply(t *testing.T) {
	t.Run("registered type", func(t *testing.T) {
		assert.Equal(t, "10.1234/x", Apply("doi", "https://doi.org/10.1234/x"))
	})

	t.Run("case insensitive type lookup", func(t *testing.T) {
		assert.Equal(t, "10.1234/x", Apply("DOI", "10.1234/x"))
	})

	t.Run("unknown type trims only", func(t *testing.T) {
		assert.Equal(t, "MixedCase-Value", Apply("mystery", " MixedCase-Value "))
	})
}
